package originfetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"httpcachestream/internal/cachedomain"
)

func TestRunFullFetch(t *testing.T) {
	body := []byte("ABCDEFGHIJ")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	worker := New(srv.URL, Config{MinChunkSize: 1, ReadTimeout: time.Second})

	var gotHeaders cachedomain.CachedResponseHeaders
	var received bytes.Buffer
	err := worker.Run(context.Background(), 0,
		func(h cachedomain.CachedResponseHeaders) error { gotHeaders = h; return nil },
		func(chunk []byte) error { received.Write(chunk); return nil },
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if received.String() != string(body) {
		t.Fatalf("received %q, want %q", received.String(), body)
	}
	if length, ok := gotHeaders.SourceLength(); !ok || length != 10 {
		t.Fatalf("SourceLength() = (%d, %v), want (10, true)", length, ok)
	}
}

func TestRunResumesAtOffset(t *testing.T) {
	full := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			t.Errorf("expected Range header on resume request")
		}
		w.Header().Set("Content-Range", "bytes 5-9/10")
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[5:])
	}))
	defer srv.Close()

	worker := New(srv.URL, Config{MinChunkSize: 1, ReadTimeout: time.Second})
	var received bytes.Buffer
	err := worker.Run(context.Background(), 5,
		func(cachedomain.CachedResponseHeaders) error { return nil },
		func(chunk []byte) error { received.Write(chunk); return nil },
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if received.String() != "56789" {
		t.Fatalf("received %q, want %q", received.String(), "56789")
	}
}

func TestRunRejectsRangeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	worker := New(srv.URL, Config{MinChunkSize: 1, ReadTimeout: time.Second})
	err := worker.Run(context.Background(), 5,
		func(cachedomain.CachedResponseHeaders) error { return nil },
		func([]byte) error { return nil },
	)
	if err == nil {
		t.Fatal("expected range mismatch error")
	}
}

func TestPauseBlocksFurtherReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	worker := New(srv.URL, Config{MinChunkSize: 1, ReadTimeout: time.Second})
	worker.Pause()

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(context.Background(), 0,
			func(cachedomain.CachedResponseHeaders) error { return nil },
			func([]byte) error { return nil },
		)
	}()

	select {
	case <-done:
		t.Fatal("Run returned while paused before Resume was called")
	case <-time.After(100 * time.Millisecond):
	}

	worker.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after Resume")
	}
}
