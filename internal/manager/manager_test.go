package manager

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"httpcachestream/internal/app"
)

func testConfig(dir string) app.Config {
	return app.Config{
		CacheDir:            dir,
		MaxBufferSize:       1 << 20,
		MinChunkSize:        1 << 10,
		ReadTimeout:         2 * time.Second,
		SavePartialCache:    true,
		SaveMetadata:        true,
		SaveAllHeaders:      true,
		PrecacheConcurrency: 2,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetOrCreateStreamDedupesSameURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.Write([]byte("abc"))
	}))
	defer origin.Close()

	m := New(testConfig(t.TempDir()), nil, discardLogger())
	defer m.Close()

	s1, err := m.GetOrCreateStream(origin.URL)
	if err != nil {
		t.Fatalf("GetOrCreateStream: %v", err)
	}
	defer s1.Dispose(false)

	s2, err := m.GetOrCreateStream(origin.URL)
	if err != nil {
		t.Fatalf("GetOrCreateStream: %v", err)
	}
	defer s2.Dispose(false)

	if s1 != s2 {
		t.Fatalf("GetOrCreateStream returned distinct instances for the same URL")
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
}

func TestGetOrCreateStreamAfterCloseFails(t *testing.T) {
	m := New(testConfig(t.TempDir()), nil, discardLogger())
	m.Close()

	if _, err := m.GetOrCreateStream("http://example.com/a.mp4"); err == nil {
		t.Fatalf("GetOrCreateStream after Close: want error, got nil")
	}
}

func TestSnapshotListsRegisteredURLs(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer origin.Close()

	m := New(testConfig(t.TempDir()), nil, discardLogger())
	defer m.Close()

	s, err := m.GetOrCreateStream(origin.URL)
	if err != nil {
		t.Fatalf("GetOrCreateStream: %v", err)
	}
	defer s.Dispose(false)

	urls := m.Snapshot()
	if len(urls) != 1 || urls[0] != origin.URL {
		t.Fatalf("Snapshot() = %v, want [%s]", urls, origin.URL)
	}
}

func TestDisposedStreamIsDeregistered(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.Write([]byte("abc"))
	}))
	defer origin.Close()

	m := New(testConfig(t.TempDir()), nil, discardLogger())
	defer m.Close()

	s, err := m.GetOrCreateStream(origin.URL)
	if err != nil {
		t.Fatalf("GetOrCreateStream: %v", err)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() before dispose = %d, want 1", got)
	}

	s.Dispose(false)

	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after dispose = %d, want 0 (stream should deregister itself)", got)
	}
	if urls := m.Snapshot(); len(urls) != 0 {
		t.Fatalf("Snapshot() after dispose = %v, want empty", urls)
	}

	// A fresh lookup for the same URL must build a brand new stream, not
	// hand back the disposed one.
	s2, err := m.GetOrCreateStream(origin.URL)
	if err != nil {
		t.Fatalf("GetOrCreateStream after dispose: %v", err)
	}
	defer s2.Dispose(false)

	if s2 == s {
		t.Fatalf("GetOrCreateStream returned the disposed stream")
	}
}

func TestPreCacheUrlDownloadsFullFile(t *testing.T) {
	body := []byte("precache me")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		w.Write(body)
	}))
	defer origin.Close()

	m := New(testConfig(t.TempDir()), nil, discardLogger())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path, err := m.PreCacheUrl(ctx, origin.URL)
	if err != nil {
		t.Fatalf("PreCacheUrl: %v", err)
	}
	if path == "" {
		t.Fatalf("PreCacheUrl returned an empty path")
	}
	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after PreCacheUrl = %d, want 0 (dedicated stream must be disposed)", got)
	}
}
