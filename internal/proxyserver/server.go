// Package proxyserver implements the Loopback Server + Request Handler
// (C6): it binds to 127.0.0.1 on an ephemeral or configured port, rewrites
// each incoming request into a source URL, parses its Range header, and
// dispatches to the matching Cache Stream (spec §4.6). The middleware
// chain and manual path dispatch follow the teacher's server.go/
// middleware.go shape rather than net/http's ServeMux patterns.
package proxyserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"httpcachestream/internal/manager"
)

// Config bundles the options this component needs beyond what the Cache
// Manager already owns.
type Config struct {
	// OriginScheme/OriginHost rewrite every incoming request into its
	// source URL (spec §6: "rewriting only scheme/host/port").
	OriginScheme string
	OriginHost   string

	// ReadTimeout doubles as the per-request socket write timeout (spec
	// §5, "a per-request write timeout equal to readTimeout") and the
	// deadline within which stream.Request must produce a response
	// before the handler answers 504.
	ReadTimeout time.Duration

	CopyCachedResponseHeaders bool

	RateLimitRPS   float64
	RateLimitBurst int
}

// inflightRequest is a snapshot of one active proxied request, tracked
// only for the admin status endpoint (spec §7 supplemented behavior).
type inflightRequest struct {
	RequestID string    `json:"requestId"`
	SourceURL string    `json:"sourceUrl"`
	Range     string    `json:"range,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Server is the C6 component.
type Server struct {
	manager *manager.Manager
	cfg     Config
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	inflight map[string]inflightRequest
}

// New builds a Server. Call ServeHTTP (directly, or via an *http.Server)
// to handle requests; the middleware chain is assembled once here so
// every request pays for exactly one wrapping pass.
func New(mgr *manager.Manager, cfg Config, logger *slog.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:  mgr,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]inflightRequest),
	}

	// Wrapping order is innermost-first; the resulting call order for an
	// incoming request is recovery -> logging -> metrics -> rate limit ->
	// otelhttp -> route, matching the chain the teacher's NewServer
	// assembles in server.go.
	var h http.Handler = http.HandlerFunc(s.route)
	h = otelhttp.NewHandler(h, "proxyserver")
	if cfg.RateLimitRPS > 0 {
		h = rateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, h)
	}
	h = metricsMiddleware(h)
	h = loggingMiddleware(logger, h)
	h = recoveryMiddleware(logger, h)
	s.handler = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// route dispatches the ambient operational surface (spec §7 supplemented
// behavior: /metrics, /internal/health, /internal/status) before falling
// through to the cached-media handler for everything else. These
// surfaces are not part of the cached-media contract and are exempt from
// the GET-only / Range restrictions in §6.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		promhttp.Handler().ServeHTTP(w, r)
		return
	case "/internal/health":
		s.handleHealth(w, r)
		return
	case "/internal/status":
		s.handleStatus(w, r)
		return
	}
	s.handleMedia(w, r)
}

func (s *Server) trackInflight(id string, req inflightRequest) {
	s.mu.Lock()
	s.inflight[id] = req
	s.mu.Unlock()
}

func (s *Server) untrackInflight(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Server) inflightSnapshot() []inflightRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inflightRequest, 0, len(s.inflight))
	for _, r := range s.inflight {
		out = append(out, r)
	}
	return out
}

// newRequestID generates the correlation ID threaded through this
// request's log lines and its admin-status entry (spec §5 domain-stack
// wiring: "stream-request IDs used in log correlation and in the admin
// status endpoint").
func newRequestID() string {
	return uuid.NewString()
}
