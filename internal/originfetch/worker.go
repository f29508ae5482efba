// Package originfetch implements the Download Worker (C2): it opens an
// origin HTTP GET, parses headers, and streams the body through a
// chunk-coalescing buffer with read-timeout and pause/resume support.
package originfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"httpcachestream/internal/cachedomain"
)

// defaultRetryBackoff is the pause between a read-timeout (or transient
// read error) and the next attempt, per spec §4.2/§7: "retries after a 5s
// backoff".
const defaultRetryBackoff = 5 * time.Second

const readChunkSize = 32 * 1024

// OnHeaders is invoked exactly once, as soon as the origin response
// headers are available.
type OnHeaders func(cachedomain.CachedResponseHeaders) error

// OnData is invoked for every coalesced chunk, in origin order.
type OnData func(chunk []byte) error

// Worker fetches one source URL, optionally resuming from a byte offset,
// and streams the body to the caller via OnData. A single Worker instance
// is owned by exactly one Cache Downloader for the worker's lifetime.
type Worker struct {
	sourceURL      string
	client         *http.Client
	requestHeaders http.Header
	minChunkSize   int64
	readTimeout    time.Duration
	retryBackoff   time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
	closed   bool
}

// Config configures a Worker's origin-fetch behavior.
type Config struct {
	Client         *http.Client
	RequestHeaders http.Header
	MinChunkSize   int64
	ReadTimeout    time.Duration
	Logger         *slog.Logger
}

// New constructs a Worker for sourceURL using cfg, filling in defaults the
// way the teacher's image proxy client builds a hardened *http.Client.
func New(sourceURL string, cfg Config) *Worker {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0} // body streaming can't use a blanket client timeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	minChunk := cfg.MinChunkSize
	if minChunk <= 0 {
		minChunk = 64 * 1024
	}
	return &Worker{
		sourceURL:      sourceURL,
		client:         client,
		requestHeaders: cfg.RequestHeaders,
		minChunkSize:   minChunk,
		readTimeout:    readTimeout,
		retryBackoff:   defaultRetryBackoff,
		logger:         cfg.Logger,
		resumeCh:       closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Pause stops the worker from issuing further reads until Resume is
// called. Safe to call from any goroutine; idempotent.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		return
	}
	w.paused = true
	w.resumeCh = make(chan struct{})
}

// Resume releases a paused worker. Idempotent.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		return
	}
	w.paused = false
	close(w.resumeCh)
}

// Close marks the worker closed: the current and any future Run call
// returns promptly with ErrDownloadStopped-equivalent cancellation instead
// of retrying. Idempotent.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.paused {
		w.paused = false
		close(w.resumeCh)
	}
}

func (w *Worker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Worker) waitWhilePaused(ctx context.Context) error {
	w.mu.Lock()
	ch := w.resumeCh
	w.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run fetches the body starting at startOffset and streams coalesced
// chunks to onData, delivering headers once via onHeaders. It returns nil
// on clean end-of-stream ("done" in spec terms), or an error for a
// terminal condition: context cancellation/Close ("closed"), an
// HttpRangeException-equivalent (ErrHTTPRange), or an exhausted retry
// budget isn't modeled here — Run retries read-timeouts internally forever
// until either success or the worker is closed/canceled, matching §4.2's
// "retries after a 5s backoff unless it is closed".
func (w *Worker) Run(ctx context.Context, startOffset int64, onHeaders OnHeaders, onData OnData) error {
	offset := startOffset
	headersDelivered := false

	for {
		if w.isClosed() {
			return cachedomain.ErrDownloadStopped
		}
		if err := w.waitWhilePaused(ctx); err != nil {
			return err
		}

		resp, err := w.doRequest(ctx, offset)
		if err != nil {
			return err
		}

		if !headersDelivered {
			headers := cachedomain.NewCachedResponseHeaders(resp.Header, true)
			if err := onHeaders(headers); err != nil {
				resp.Body.Close()
				return err
			}
			headersDelivered = true
		}

		_, consumed, err := w.streamBody(ctx, resp.Body, onData)
		resp.Body.Close()
		offset += consumed

		if err == nil {
			return nil // done: clean EOF
		}
		if w.isClosed() || ctx.Err() != nil {
			return cachedomain.ErrDownloadStopped
		}
		if isRetryable(err) {
			if w.logger != nil {
				w.logger.Warn("origin read stalled, retrying",
					slog.String("url", w.sourceURL), slog.Int64("offset", offset), slog.Any("err", err))
			}
			select {
			case <-time.After(w.retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return err
	}
}

func isRetryable(err error) bool {
	return err == ErrReadTimedOut || err == io.ErrUnexpectedEOF
}

func (w *Worker) doRequest(ctx context.Context, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	for key, values := range w.requestHeaders {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept-Encoding", "identity")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestTimedOut, err)
	}
	if err := validateStatus(resp, offset); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func validateStatus(resp *http.Response, offset int64) error {
	if offset > 0 {
		if resp.StatusCode != http.StatusPartialContent {
			return fmt.Errorf("%w: expected 206 for range request, got %d", cachedomain.ErrHTTPRange, resp.StatusCode)
		}
		if start, ok := parseContentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			return fmt.Errorf("%w: server returned range starting at %d, requested %d",
				cachedomain.ErrHTTPRange, start, offset)
		}
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: got status %d", ErrHTTPStatusCode, resp.StatusCode)
	}
	return nil
}

func parseContentRangeStart(contentRange string) (int64, bool) {
	contentRange = strings.TrimPrefix(contentRange, "bytes ")
	dash := strings.IndexByte(contentRange, '-')
	if dash <= 0 {
		return 0, false
	}
	start, err := strconv.ParseInt(contentRange[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// streamBody reads resp.Body to EOF, coalescing into chunks of at least
// minChunkSize before calling onData, honoring pause/resume and the
// read-timeout window between chunks. Returns the number of origin bytes
// consumed and, on a retryable stall, a non-nil error with done=false.
func (w *Worker) streamBody(ctx context.Context, body io.Reader, onData OnData) (done bool, consumed int64, err error) {
	var coalesced []byte
	buf := make([]byte, readChunkSize)

	type readResult struct {
		n   int
		err error
	}
	resultCh := make(chan readResult, 1)

	readOnce := func() {
		n, err := body.Read(buf)
		resultCh <- readResult{n: n, err: err}
	}

	for {
		if err := w.waitWhilePaused(ctx); err != nil {
			return false, consumed, err
		}
		if w.isClosed() {
			return false, consumed, cachedomain.ErrDownloadStopped
		}

		go readOnce()

		timer := time.NewTimer(w.readTimeout)
		select {
		case res := <-resultCh:
			timer.Stop()
			if res.n > 0 {
				coalesced = append(coalesced, buf[:res.n]...)
				consumed += int64(res.n)
				if int64(len(coalesced)) >= w.minChunkSize {
					if err := onData(coalesced); err != nil {
						return false, consumed, err
					}
					coalesced = nil
				}
			}
			if res.err != nil {
				if res.err == io.EOF {
					if len(coalesced) > 0 {
						if err := onData(coalesced); err != nil {
							return false, consumed, err
						}
					}
					return true, consumed, nil
				}
				return false, consumed, fmt.Errorf("%w: %v", ErrReadTimedOut, res.err)
			}
		case <-timer.C:
			if len(coalesced) > 0 {
				if err := onData(coalesced); err != nil {
					return false, consumed, err
				}
				coalesced = nil
			}
			return false, consumed, ErrReadTimedOut
		case <-ctx.Done():
			timer.Stop()
			return false, consumed, ctx.Err()
		}
	}
}
