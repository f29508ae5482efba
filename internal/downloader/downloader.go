// Package downloader implements the Cache Downloader (C3): it binds one
// Download Worker to one Buffered Sink, fans out bytes to in-memory
// subscribers in origin order, and matches pending Stream Requests
// against its current position.
//
// Every field below is owned by a single goroutine — the run loop started
// in Start — the way spec §5 describes the scheduling model: "all state
// transitions happen on a single logical executor so no internal lock is
// needed on the Cache Stream's fields." Callers reach the loop only
// through the exported methods, which all funnel through a command
// channel instead of taking a mutex.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"httpcachestream/internal/cachedomain"
	"httpcachestream/internal/metrics"
	"httpcachestream/internal/originfetch"
	"httpcachestream/internal/sink"
)

// ChunkSubscriber receives broadcast chunks in origin order, starting at
// the offset returned by Subscribe. It runs on the downloader's loop
// goroutine and must not block — a composer-side DownloadOnly response
// enforces its own maxBufferSize cap here and cancels itself rather than
// stalling the downloader, per §5's back-pressure rule.
type ChunkSubscriber struct {
	OnChunk func(offset int64, data []byte)
	OnClose func(err error)
}

type subscription struct {
	id  int
	sub ChunkSubscriber
}

// Hooks are the Cache Stream callbacks invoked at the points spec §4.3
// names explicitly.
type Hooks struct {
	// OnComplete fires once the body is fully received and verified;
	// finalSize is the verified byte length and headersLengthWasUnknown
	// tells the caller whether to persist a corrected Content-Length.
	OnComplete func(finalSize int64, headersLengthWasUnknown bool)
	// OnInvalidCache fires for CacheSourceChanged/InvalidCacheLength —
	// non-retryable errors that require a cache reset.
	OnInvalidCache func(err error)
	// OnNetworkError fires for retryable network failures that escaped
	// the worker's internal retry loop (e.g. context cancellation aside).
	OnNetworkError func(err error)
	// OnHeaders fires once, after resume-validation, when new headers
	// are first known.
	OnHeaders func(headers cachedomain.CachedResponseHeaders)
}

// Downloader is the C3 component.
type Downloader struct {
	sourceURL string
	files     cachedomain.CacheFiles
	logger    *slog.Logger

	maxBufferSize int64
	minChunkSize  int64

	worker *originfetch.Worker
	sink   *sink.Sink
	hooks  Hooks

	cmds chan func()
	stop chan struct{}

	// --- loop-owned state; touched only inside run() or a cmd closure ---
	startPosition      int64
	downloadPosition   int64
	pendingStreamBytes int64
	headers            cachedomain.CachedResponseHeaders
	headersKnown       bool
	priorHeaders       cachedomain.CachedResponseHeaders
	priorHeadersKnown  bool
	subs               []subscription
	nextSubID          int
	pending            []pendingEntry
	active             bool
	terminalErr        error
	lastChunkAt        time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
}

type pendingEntry struct {
	req      Request
	notify   func(Match)
}

// Config configures a new Downloader.
type Config struct {
	SourceURL         string
	Files             cachedomain.CacheFiles
	MaxBufferSize     int64
	MinChunkSize      int64
	ReadTimeoutWorker *originfetch.Worker // pre-built worker (headers/client already configured)
	Logger            *slog.Logger
	Hooks             Hooks
	PriorHeaders      cachedomain.CachedResponseHeaders
	PriorHeadersKnown bool
}

// New constructs a Downloader bound to worker and a sink that will be
// opened lazily in Start.
func New(cfg Config) *Downloader {
	return &Downloader{
		sourceURL:         cfg.SourceURL,
		files:             cfg.Files,
		logger:            cfg.Logger,
		maxBufferSize:     cfg.MaxBufferSize,
		minChunkSize:      cfg.MinChunkSize,
		worker:            cfg.ReadTimeoutWorker,
		hooks:             cfg.Hooks,
		cmds:              make(chan func()),
		stop:              make(chan struct{}),
		priorHeaders:      cfg.PriorHeaders,
		priorHeadersKnown: cfg.PriorHeadersKnown,
	}
}

// do sends f to the loop and blocks until it has executed.
func (d *Downloader) do(f func()) {
	done := make(chan struct{})
	select {
	case d.cmds <- func() { f(); close(done) }:
		<-done
	case <-d.stop:
	}
}

// Start opens the sink at the resume position (partial file size when
// canResumeDownload, else 0 truncating) and begins the worker loop.
func (d *Downloader) Start(ctx context.Context, resumeOffset int64) error {
	s, err := sink.Open(d.files.Partial, resumeOffset, d.logger)
	if err != nil {
		return err
	}
	d.sink = s
	d.startPosition = resumeOffset
	d.downloadPosition = resumeOffset
	d.active = true

	go d.loop()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.worker.Run(ctx, resumeOffset, d.onHeaders, d.onData)
		d.onWorkerDone(err)
	}()
	return nil
}

func (d *Downloader) loop() {
	for {
		select {
		case f := <-d.cmds:
			f()
		case <-d.stop:
			return
		}
	}
}

// Close terminates the downloader: stops accepting commands after
// flushing in-flight work, closes the worker and sink. Idempotent.
func (d *Downloader) Close() {
	d.do(func() {
		if !d.active {
			return
		}
		d.active = false
		d.worker.Close()
	})
	d.wg.Wait()
	d.stopOnce.Do(func() { close(d.stop) })
	if d.sink != nil {
		d.sink.Close(true)
	}
}

// --- worker callbacks (invoked on the worker's own goroutine; each hops
// onto the loop via do() before touching shared state) ---

func (d *Downloader) onHeaders(h cachedomain.CachedResponseHeaders) error {
	var resultErr error
	d.do(func() {
		if d.downloadPosition > 0 && d.priorHeadersKnown && !d.priorHeaders.Equal(h) {
			resultErr = cachedomain.NewCacheSourceChangedError()
			return
		}
		d.headers = h
		d.headersKnown = true
		if d.hooks.OnHeaders != nil {
			d.hooks.OnHeaders(h)
		}
		d.dispatchPendingLocked()
	})
	return resultErr
}

func (d *Downloader) onData(chunk []byte) error {
	var resultErr error
	d.do(func() {
		resultErr = d.processChunkLocked(chunk)
	})
	return resultErr
}

// processChunkLocked implements the seven-step per-chunk protocol from
// §4.3. It runs on the loop goroutine.
func (d *Downloader) processChunkLocked(chunk []byte) error {
	// Step 1: append to sink.
	d.sink.Add(chunk)
	d.downloadPosition += int64(len(chunk))

	now := time.Now()
	if !d.lastChunkAt.IsZero() {
		if dt := now.Sub(d.lastChunkAt).Seconds(); dt > 0 {
			metrics.DownloadSpeedBytes.Set(float64(len(chunk)) / dt)
		}
	}
	d.lastChunkAt = now

	// Step 2/3: back-pressure vs. background flush.
	if d.sink.BufferSize() > d.maxBufferSize {
		d.worker.Pause()
		err := d.sink.Flush()
		if err != nil {
			return err
		}
		d.worker.Resume()
	} else {
		go func() {
			if err := d.sink.Flush(); err != nil {
				d.do(func() { d.failLocked(err) })
			}
		}()
	}

	// Step 4.
	d.pendingStreamBytes = int64(len(chunk))

	// Step 5: onPosition — dispatch before broadcast (P2).
	d.dispatchPendingLocked()

	// Step 6: broadcast at the position preceding this chunk.
	broadcastFrom := d.downloadPosition - d.pendingStreamBytes
	for _, s := range d.subs {
		s.sub.OnChunk(broadcastFrom, chunk)
	}

	// Step 7.
	d.pendingStreamBytes = 0
	return nil
}

func (d *Downloader) failLocked(err error) {
	if d.terminalErr != nil {
		return
	}
	d.terminalErr = err
	d.worker.Close()
	metrics.DownloadNetworkErrorsTotal.Inc()
	if d.hooks.OnNetworkError != nil {
		d.hooks.OnNetworkError(err)
	}
	d.notifySubsClosedLocked(err)
	d.failPendingLocked(err)
}

func (d *Downloader) onWorkerDone(err error) {
	d.do(func() {
		if err == nil {
			d.completeLocked()
			return
		}
		switch {
		case isInvalidCache(err):
			if d.hooks.OnInvalidCache != nil {
				d.hooks.OnInvalidCache(err)
			}
		case err == cachedomain.ErrDownloadStopped:
			// Graceful stop, no error surfaced.
		default:
			metrics.DownloadNetworkErrorsTotal.Inc()
			if d.hooks.OnNetworkError != nil {
				d.hooks.OnNetworkError(err)
			}
		}
		d.notifySubsClosedLocked(err)
		d.failPendingLocked(err)
	})
}

func isInvalidCache(err error) bool {
	return errors.Is(err, cachedomain.ErrInvalidCache) || errors.Is(err, cachedomain.ErrHTTPRange)
}

// completeLocked runs the completion check from §4.3: the partial file's
// size must agree with the known source length, or — when length was
// unknown — with downloadPosition, since the worker has already reported
// clean end-of-stream.
func (d *Downloader) completeLocked() {
	if err := d.sink.Close(true); err != nil {
		d.failLocked(err)
		return
	}
	info, err := os.Stat(d.files.Partial)
	if err != nil {
		d.failLocked(fmt.Errorf("%w: stat partial file: %v", cachedomain.ErrWrite, err))
		return
	}
	actual := info.Size()

	expected, known := d.headers.SourceLength()
	lengthWasUnknown := !known
	if known {
		if actual != expected {
			if d.hooks.OnInvalidCache != nil {
				d.hooks.OnInvalidCache(cachedomain.NewInvalidCacheLengthError())
			}
			return
		}
	} else if actual != d.downloadPosition {
		if d.hooks.OnInvalidCache != nil {
			d.hooks.OnInvalidCache(cachedomain.NewInvalidCacheLengthError())
		}
		return
	}

	if err := os.Rename(d.files.Partial, d.files.Complete); err != nil {
		d.failLocked(fmt.Errorf("%w: promote partial to complete: %v", cachedomain.ErrWrite, err))
		return
	}
	if d.hooks.OnComplete != nil {
		d.hooks.OnComplete(actual, lengthWasUnknown)
	}
	d.notifySubsClosedLocked(nil)
}

// notifySubsClosedLocked tells every live subscriber the broadcast has
// ended — cleanly (err == nil, e.g. on completion) or with a terminal
// error — and clears the subscriber list. Runs on the loop goroutine.
func (d *Downloader) notifySubsClosedLocked(err error) {
	subs := d.subs
	d.subs = nil
	for _, s := range subs {
		if s.sub.OnClose != nil {
			s.sub.OnClose(err)
		}
	}
}

// failPendingLocked fails every still-deferred Stream Request with err.
// The pending-queue counterpart to notifySubsClosedLocked; a request left
// in d.pending when the downloader terminates would otherwise never be
// notified and the caller would hang until its own context deadline.
// Runs on the loop goroutine.
func (d *Downloader) failPendingLocked(err error) {
	pending := d.pending
	d.pending = nil
	for _, entry := range pending {
		entry.notify(Match{Kind: MatchFailed, Err: err})
	}
}

// --- position accessors, safe from any goroutine ---

// Pause suspends the underlying Download Worker without affecting
// subscribers or pending requests — used by admission control to yield
// bandwidth to active playback (spec §5 Priority).
func (d *Downloader) Pause() {
	d.do(func() {
		if d.worker != nil {
			d.worker.Pause()
		}
	})
}

// Resume releases a Pause.
func (d *Downloader) Resume() {
	d.do(func() {
		if d.worker != nil {
			d.worker.Resume()
		}
	})
}

// DownloadPosition returns startPosition + bytes received so far.
func (d *Downloader) DownloadPosition() int64 {
	var v int64
	d.do(func() { v = d.downloadPosition })
	return v
}

// StreamPosition returns the highest offset already published on the
// broadcast (downloadPosition minus any chunk currently mid-broadcast).
func (d *Downloader) StreamPosition() int64 {
	var v int64
	d.do(func() { v = d.downloadPosition - d.pendingStreamBytes })
	return v
}

// FilePosition returns startPosition + the sink's durable flushed bytes.
func (d *Downloader) FilePosition() int64 {
	if d.sink == nil {
		return d.startPosition
	}
	return d.startPosition + d.sink.FlushedBytes()
}

// Headers returns the currently known headers, if any.
func (d *Downloader) Headers() (cachedomain.CachedResponseHeaders, bool) {
	var h cachedomain.CachedResponseHeaders
	var ok bool
	d.do(func() { h, ok = d.headers, d.headersKnown })
	return h, ok
}

// SubscribeAt registers sub without hopping through the command queue; it
// receives every chunk broadcast from this point on. It must only be
// called from within a notify callback passed to EnqueueRequest — that
// callback already runs on the loop goroutine (via
// dispatchPendingLocked/matchLocked), so routing through do() here would
// deadlock the loop against itself. Called from there, the subscription
// starts at the Match's SubscribeFrom position, since no chunk can be
// broadcast in between.
func (d *Downloader) SubscribeAt(sub ChunkSubscriber) (cancel func()) {
	id := d.nextSubID
	d.nextSubID++
	d.subs = append(d.subs, subscription{id: id, sub: sub})
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			d.do(func() {
				for i, s := range d.subs {
					if s.id == id {
						d.subs = append(d.subs[:i], d.subs[i+1:]...)
						break
					}
				}
			})
		})
	}
	return cancel
}

// Subscribe registers a live subscriber and returns the absolute offset
// its subscription begins at (the current stream position) plus a cancel
// function. Matches the "attach at streamPosition" rule from §4.3. Safe to
// call from any goroutine that is not already inside a notify callback.
func (d *Downloader) Subscribe(sub ChunkSubscriber) (startOffset int64, cancel func()) {
	var id int
	d.do(func() {
		id = d.nextSubID
		d.nextSubID++
		d.subs = append(d.subs, subscription{id: id, sub: sub})
		startOffset = d.downloadPosition - d.pendingStreamBytes
	})
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			d.do(func() {
				for i, s := range d.subs {
					if s.id == id {
						d.subs = append(d.subs[:i], d.subs[i+1:]...)
						break
					}
				}
			})
		})
	}
	return startOffset, cancel
}

// EnqueueRequest adds req to the pending queue; notify is called exactly
// once, synchronously on the loop goroutine, with the final (non-defer)
// match outcome. Matching is retried on every headers update and every
// chunk (onPosition), per §4.3.
func (d *Downloader) EnqueueRequest(req Request, notify func(Match)) {
	d.do(func() {
		m := d.matchLocked(req)
		if m.Kind != MatchDefer {
			notify(m)
			return
		}
		d.pending = append(d.pending, pendingEntry{req: req, notify: notify})
	})
}

func (d *Downloader) dispatchPendingLocked() {
	if len(d.pending) == 0 {
		return
	}
	remaining := d.pending[:0]
	for _, entry := range d.pending {
		m := d.matchLocked(entry.req)
		if m.Kind == MatchDefer {
			remaining = append(remaining, entry)
			continue
		}
		entry.notify(m)
	}
	d.pending = remaining
}

// matchLocked implements processRequest's decision table from §4.3.
func (d *Downloader) matchLocked(req Request) Match {
	if req.Range.Start > d.downloadPosition {
		return Match{Kind: MatchDefer}
	}
	if !d.headersKnown {
		return Match{Kind: MatchDefer}
	}
	reqEnd := req.Range.End
	if !req.Range.EndKnown {
		if length, ok := d.headers.SourceLength(); ok {
			reqEnd = length - 1
		} else {
			reqEnd = -1 // unresolved; only file-only completeness can satisfy this below
		}
	}
	filePos := d.FilePosition()
	if reqEnd >= 0 && filePos >= reqEnd+1 {
		return Match{Kind: MatchFileOnly}
	}
	if !d.active {
		return Match{Kind: MatchDefer}
	}
	streamPos := d.downloadPosition - d.pendingStreamBytes
	if req.Range.Start >= streamPos {
		return Match{Kind: MatchDownloadOnly, SubscribeFrom: streamPos}
	}
	if filePos == streamPos {
		return Match{Kind: MatchCombined, SubscribeFrom: streamPos, FileBoundary: streamPos}
	}
	// File lags stream: pause, flush, then hand over combined at the
	// now-caught-up file position.
	d.worker.Pause()
	go func() {
		err := d.sink.Flush()
		d.do(func() {
			d.worker.Resume()
			if err != nil {
				d.failLocked(err)
				return
			}
			d.dispatchPendingLocked()
		})
	}()
	return Match{Kind: MatchDefer}
}
