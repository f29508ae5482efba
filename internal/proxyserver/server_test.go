package proxyserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"httpcachestream/internal/app"
	"httpcachestream/internal/manager"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, originURL string) *Server {
	t.Helper()
	origin := strings.TrimPrefix(strings.TrimPrefix(originURL, "http://"), "https://")

	cfg := app.Config{
		CacheDir:            t.TempDir(),
		MaxBufferSize:       1 << 20,
		MinChunkSize:        1 << 10,
		ReadTimeout:         2 * time.Second,
		SavePartialCache:    true,
		SaveMetadata:        true,
		SaveAllHeaders:      true,
		PrecacheConcurrency: 2,
	}
	mgr := manager.New(cfg, nil, discardLogger())
	t.Cleanup(mgr.Close)

	return New(mgr, Config{
		OriginScheme: "http",
		OriginHost:   origin,
		ReadTimeout:  2 * time.Second,
	}, discardLogger())
}

func TestHandleMediaFullBody(t *testing.T) {
	body := []byte("hello cached world")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "18")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer origin.Close()

	s := newTestServer(t, origin.URL)
	req := httptest.NewRequest(http.MethodGet, "/video.mp4", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != string(body) {
		t.Fatalf("body = %q, want %q", got, string(body))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandleMediaRangeRequest(t *testing.T) {
	full := []byte("0123456789")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", "10")
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			w.Write(full)
			return
		}
		w.Header().Set("Content-Range", "bytes 2-5/10")
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[2:6])
	}))
	defer origin.Close()

	s := newTestServer(t, origin.URL)
	req := httptest.NewRequest(http.MethodGet, "/clip.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206; body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "2345" {
		t.Fatalf("body = %q, want %q", got, "2345")
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 2-5/10" {
		t.Fatalf("Content-Range = %q, want %q", cr, "bytes 2-5/10")
	}
}

func TestHandleMediaInvalidRangeRejected(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("origin should not be contacted for a malformed Range header")
	}))
	defer origin.Close()

	s := newTestServer(t, origin.URL)
	req := httptest.NewRequest(http.MethodGet, "/clip.mp4", nil)
	req.Header.Set("Range", "bytes=-500")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleMediaRejectsNonGet(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1")
	req := httptest.NewRequest(http.MethodPost, "/clip.mp4", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1")
	req := httptest.NewRequest(http.MethodGet, "/internal/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"activeStreams":0`) {
		t.Fatalf("body = %s, want activeStreams 0", rec.Body.String())
	}
}

func TestHandleStatusListsActiveStream(t *testing.T) {
	body := []byte("x")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer origin.Close()

	s := newTestServer(t, origin.URL)
	// Hold a reference so the stream stays registered after the proxied
	// request releases its own.
	stream, err := s.manager.GetOrCreateStream(origin.URL + "/a.mp4")
	if err != nil {
		t.Fatalf("GetOrCreateStream: %v", err)
	}
	defer stream.Dispose(false)

	req := httptest.NewRequest(http.MethodGet, "/a.mp4", nil)
	s.ServeHTTP(httptest.NewRecorder(), req)

	statusReq := httptest.NewRequest(http.MethodGet, "/internal/status", nil)
	statusRec := httptest.NewRecorder()
	s.ServeHTTP(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", statusRec.Code)
	}
	if !strings.Contains(statusRec.Body.String(), origin.URL) {
		t.Fatalf("body = %s, want it to mention %s", statusRec.Body.String(), origin.URL)
	}
}
