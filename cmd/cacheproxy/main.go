// Command cacheproxy runs the local HTTP caching proxy for streamed
// media: a loopback server that fronts a single origin, transparently
// caching each byte range it serves to disk so a media player can seek,
// pause, and resume without re-fetching bytes the origin already sent.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"httpcachestream/internal/app"
	"httpcachestream/internal/manager"
	"httpcachestream/internal/metrics"
	"httpcachestream/internal/proxyserver"
	"httpcachestream/internal/telemetry"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("configuration invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "cacheproxy")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("listenAddr", cfg.ListenAddr),
		slog.String("cacheDir", cfg.CacheDir),
		slog.String("originScheme", cfg.OriginScheme),
		slog.String("originHost", cfg.OriginHost),
		slog.Int64("maxBufferSizeBytes", cfg.MaxBufferSize),
		slog.Int64("minChunkSizeBytes", cfg.MinChunkSize),
		slog.Duration("readTimeout", cfg.ReadTimeout),
		slog.Int("precacheConcurrency", cfg.PrecacheConcurrency),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := manager.New(cfg, nil, logger)

	handler := proxyserver.New(mgr, proxyserver.Config{
		OriginScheme:              cfg.OriginScheme,
		OriginHost:                cfg.OriginHost,
		ReadTimeout:               cfg.ReadTimeout,
		CopyCachedResponseHeaders: cfg.CopyCachedResponseHeaders,
		RateLimitRPS:              cfg.RateLimitRPS,
		RateLimitBurst:            cfg.RateLimitBurst,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("cacheproxy started", slog.String("addr", cfg.ListenAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	mgr.Close()

	logger.Info("cacheproxy stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
