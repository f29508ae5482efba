package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in the Configuration table: buffer and
// chunk sizing, timeouts, and the cache-retention flags. Loaded once at
// startup from the environment, the same way the teacher's app.Config is.
type Config struct {
	ListenAddr string
	CacheDir   string
	LogLevel   string
	LogFormat  string

	// OriginScheme/OriginHost rewrite an incoming loopback request into its
	// source URL (spec §6: "derive the source URL by rewriting only
	// scheme/host/port"). The proxy fronts exactly one origin — spec §1's
	// non-goal "multi-host proxying through a single stream" rules out a
	// per-request origin.
	OriginScheme string
	OriginHost   string

	MaxBufferSize           int64
	MinChunkSize            int64
	RangeRequestSplitThresh int64 // -1 means disabled
	ReadTimeout             time.Duration
	ValidationTimeout       time.Duration

	CopyCachedResponseHeaders bool
	ValidateOutdatedCache     bool
	SavePartialCache          bool
	SaveMetadata              bool
	SaveAllHeaders            bool

	PrecacheConcurrency int

	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfig reads the process environment and returns a validated Config.
// Invalid values are fatal at load time (spec §7: "Configuration errors...
// raised synchronously on set").
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("CACHE_LISTEN_ADDR", "127.0.0.1:0"),
		CacheDir:   getEnv("CACHE_DIR", defaultCacheDir()),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:  strings.ToLower(getEnv("LOG_FORMAT", "text")),

		OriginScheme: strings.ToLower(getEnv("CACHE_ORIGIN_SCHEME", "https")),
		OriginHost:   getEnv("CACHE_ORIGIN_HOST", ""),

		MaxBufferSize:           getEnvInt64("CACHE_MAX_BUFFER_SIZE_BYTES", 25<<20),
		MinChunkSize:            getEnvInt64("CACHE_MIN_CHUNK_SIZE_BYTES", 64<<10),
		RangeRequestSplitThresh: getEnvInt64WithDefaultNegative("CACHE_RANGE_SPLIT_THRESHOLD_BYTES", -1),
		ReadTimeout:             time.Duration(getEnvInt64("CACHE_READ_TIMEOUT_SECONDS", 30)) * time.Second,
		ValidationTimeout:       15 * time.Second,

		CopyCachedResponseHeaders: getEnvBool("CACHE_COPY_RESPONSE_HEADERS", false),
		ValidateOutdatedCache:     getEnvBool("CACHE_VALIDATE_OUTDATED", false),
		SavePartialCache:          getEnvBool("CACHE_SAVE_PARTIAL", true),
		SaveMetadata:              getEnvBool("CACHE_SAVE_METADATA", true),
		SaveAllHeaders:            getEnvBool("CACHE_SAVE_ALL_HEADERS", true),

		PrecacheConcurrency: int(getEnvInt64("CACHE_PRECACHE_CONCURRENCY", 2)),

		RateLimitRPS:   getEnvFloat("CACHE_RATE_LIMIT_RPS", 50),
		RateLimitBurst: int(getEnvInt64("CACHE_RATE_LIMIT_BURST", 100)),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxBufferSize < 1<<20 {
		return fmt.Errorf("CACHE_MAX_BUFFER_SIZE_BYTES must be >= 1 MiB, got %d", c.MaxBufferSize)
	}
	if c.MinChunkSize <= 0 {
		return fmt.Errorf("CACHE_MIN_CHUNK_SIZE_BYTES must be > 0, got %d", c.MinChunkSize)
	}
	if c.RangeRequestSplitThresh < -1 {
		return fmt.Errorf("CACHE_RANGE_SPLIT_THRESHOLD_BYTES must be >= 0 or unset, got %d", c.RangeRequestSplitThresh)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("CACHE_READ_TIMEOUT_SECONDS must be > 0, got %s", c.ReadTimeout)
	}
	if c.PrecacheConcurrency < 0 {
		return fmt.Errorf("CACHE_PRECACHE_CONCURRENCY must be >= 0, got %d", c.PrecacheConcurrency)
	}
	if c.OriginScheme != "http" && c.OriginScheme != "https" {
		return fmt.Errorf("CACHE_ORIGIN_SCHEME must be http or https, got %q", c.OriginScheme)
	}
	return nil
}

func defaultCacheDir() string {
	return fmt.Sprintf("%s/http_cache_stream", os.TempDir())
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvInt64WithDefaultNegative is like getEnvInt64 but tolerates (and
// defaults to) -1, used for "disabled" options such as the split threshold.
func getEnvInt64WithDefaultNegative(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < -1 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
