package app

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		os.Setenv(k, v)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OriginScheme != "https" {
		t.Fatalf("OriginScheme = %q, want https", cfg.OriginScheme)
	}
	if cfg.MaxBufferSize < 1<<20 {
		t.Fatalf("MaxBufferSize = %d, want >= 1MiB", cfg.MaxBufferSize)
	}
	if cfg.RangeRequestSplitThresh != -1 {
		t.Fatalf("RangeRequestSplitThresh = %d, want -1 (disabled)", cfg.RangeRequestSplitThresh)
	}
}

func TestLoadConfigRejectsInvalidOriginScheme(t *testing.T) {
	withEnv(t, map[string]string{"CACHE_ORIGIN_SCHEME": "ftp"})
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig with CACHE_ORIGIN_SCHEME=ftp: want error, got nil")
	}
}

func TestLoadConfigRejectsTinyBuffer(t *testing.T) {
	withEnv(t, map[string]string{"CACHE_MAX_BUFFER_SIZE_BYTES": "1024"})
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig with a 1KiB buffer: want error, got nil")
	}
}

func TestLoadConfigAcceptsExplicitOrigin(t *testing.T) {
	withEnv(t, map[string]string{
		"CACHE_ORIGIN_SCHEME": "HTTP",
		"CACHE_ORIGIN_HOST":   "example.com:8080",
	})
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OriginScheme != "http" {
		t.Fatalf("OriginScheme = %q, want lowercased http", cfg.OriginScheme)
	}
	if cfg.OriginHost != "example.com:8080" {
		t.Fatalf("OriginHost = %q, want example.com:8080", cfg.OriginHost)
	}
}
