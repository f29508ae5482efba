// Package cachestream implements the Cache Stream (C5): one instance per
// source URL, owning the active Cache Downloader, the pending requests,
// progress state, retain count, and dispose lifecycle. Like the Cache
// Downloader it wraps, every mutable field is owned by a single loop
// goroutine reached only through a command channel — the same executor
// idiom spec §5 calls out ("no internal lock is needed... all state
// transitions happen on a single logical executor").
package cachestream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"httpcachestream/internal/cachedomain"
	"httpcachestream/internal/composer"
	"httpcachestream/internal/downloader"
	"httpcachestream/internal/metrics"
	"httpcachestream/internal/originfetch"
	"httpcachestream/internal/priority"
)

const (
	validateHeadTimeout  = 15 * time.Second
	networkRetryBackoff  = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// Config bundles the per-stream options from spec §6's configuration
// table that aren't already captured by cachedomain types.
type Config struct {
	MaxBufferSize              int64
	MinChunkSize               int64
	RangeRequestSplitThreshold *int64 // nil disables split-range downloads
	ReadTimeout                time.Duration
	CopyCachedResponseHeaders  bool
	ValidateOutdatedCache      bool
	SavePartialCache           bool
	SaveMetadata               bool
	SaveAllHeaders             bool
	RequestHeaders             http.Header
}

// Outcome is delivered to a Download() caller once the loop settles.
type Outcome struct {
	CompletePath string
	Err          error
}

// ProgressEvent is delivered to progress subscribers on every state change
// that affects progress or surfaces an error.
type ProgressEvent struct {
	Progress      float64
	ProgressKnown bool
	Err           error
}

// ProgressSubscriber receives progress events until it cancels or the
// stream disposes.
type ProgressSubscriber struct {
	OnEvent func(ProgressEvent)
}

// CacheStream is the C5 component.
type CacheStream struct {
	sourceURL string
	files     cachedomain.CacheFiles
	cfg       Config
	client    *http.Client
	logger    *slog.Logger
	admission *priority.Admission
	precache  bool // true for streams created purely for pre-caching

	// onDisposed, if set, runs once after Dispose's retain-count-zero
	// branch fires, so a registry holding this stream (Manager) can
	// deregister it instead of carrying a dead entry forever.
	onDisposed func()

	cmds chan func()
	stop chan struct{}
	once sync.Once

	// --- loop-owned state ---
	state             State
	headers           cachedomain.CachedResponseHeaders
	headersKnown      bool
	lastErr           error
	dl                *downloader.Downloader
	dlGeneration      int
	dlStopPoll        chan struct{}
	retainCount       int
	disposed          bool
	validating        bool
	pendingValidation []func()
	downloadWaiters   []chan Outcome
	progressSubs      map[int]ProgressSubscriber
	nextSubID         int
	precacheRelease   func()
}

var _ priority.Suspendable = (*streamSuspender)(nil)

// streamSuspender adapts a downloader to priority.Suspendable for
// pre-cache admission control.
type streamSuspender struct{ cs *CacheStream }

func (s *streamSuspender) Suspend() { s.cs.suspendActive() }
func (s *streamSuspender) Resume()  { s.cs.resumeActive() }

// New constructs a Cache Stream for sourceURL. It does not begin
// downloading until Request or Download is called.
func New(sourceURL string, files cachedomain.CacheFiles, cfg Config, client *http.Client, admission *priority.Admission, precache bool, logger *slog.Logger, onDisposed func()) *CacheStream {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	cs := &CacheStream{
		sourceURL:    sourceURL,
		files:        files,
		cfg:          cfg,
		client:       client,
		logger:       logger,
		admission:    admission,
		precache:     precache,
		onDisposed:   onDisposed,
		cmds:         make(chan func()),
		stop:         make(chan struct{}),
		progressSubs: make(map[int]ProgressSubscriber),
	}
	if m, err := cachedomain.ReadMetadata(files.Metadata); err == nil {
		cs.headers = m.CachedResponseHeaders()
		cs.headersKnown = true
	}
	if _, err := os.Stat(files.Complete); err == nil {
		cs.state = StateComplete
	}
	go cs.loop()
	return cs
}

func (cs *CacheStream) loop() {
	for {
		select {
		case f := <-cs.cmds:
			f()
		case <-cs.stop:
			return
		}
	}
}

func (cs *CacheStream) do(f func()) {
	done := make(chan struct{})
	select {
	case cs.cmds <- func() { f(); close(done) }:
		<-done
	case <-cs.stop:
	}
}

// SourceURL returns the stream's identity.
func (cs *CacheStream) SourceURL() string { return cs.sourceURL }

// Files returns the on-disk triple this stream owns. Immutable after
// construction, so safe to read without going through the command loop.
func (cs *CacheStream) Files() cachedomain.CacheFiles { return cs.files }

// --- retain / dispose ---

// Retain increments the retain count. Illegal after disposal.
func (cs *CacheStream) Retain() error {
	var err error
	cs.do(func() {
		if cs.disposed {
			err = cachedomain.ErrCacheStreamDisposed
			return
		}
		cs.retainCount++
	})
	return err
}

// Dispose decrements the retain count; at zero it cancels the downloader
// (allowing a clean flush), fails Download waiters with
// CacheStreamDisposed, and deletes partial/metadata per config. Requests
// still queued on the downloader are failed with ErrDownloadStopped when
// that downloader closes, not with CacheStreamDisposed.
func (cs *CacheStream) Dispose(force bool) {
	var dlToClose *downloader.Downloader
	disposedNow := false
	cs.do(func() {
		if cs.disposed {
			return
		}
		if force {
			cs.retainCount = 0
		} else if cs.retainCount > 0 {
			cs.retainCount--
		}
		if cs.retainCount > 0 {
			return
		}
		cs.disposed = true
		disposedNow = true
		dlToClose = cs.dl
		cs.dl = nil
		cs.stopProgressPollLocked()
		if cs.precacheRelease != nil {
			cs.precacheRelease()
			cs.precacheRelease = nil
		}
		cs.notifyDownloadWaitersLocked(Outcome{Err: cachedomain.ErrCacheStreamDisposed})
		cs.publishLocked(ProgressEvent{Err: cachedomain.ErrCacheStreamDisposed})
		if !cs.cfg.SavePartialCache {
			os.Remove(cs.files.Partial)
			os.Remove(cs.files.Metadata)
		}
		if !cs.cfg.SaveMetadata {
			os.Remove(cs.files.Metadata)
		}
	})
	if dlToClose != nil {
		go dlToClose.Close()
	}
	cs.once.Do(func() { close(cs.stop) })
	if disposedNow && cs.onDisposed != nil {
		cs.onDisposed()
	}
}

// IsDisposed reports whether Dispose has already torn the stream down.
func (cs *CacheStream) IsDisposed() bool {
	var disposed bool
	cs.do(func() { disposed = cs.disposed })
	return disposed
}

// --- progress ---

// SubscribeProgress registers sub and returns a cancel function.
func (cs *CacheStream) SubscribeProgress(sub ProgressSubscriber) (cancel func()) {
	var id int
	cs.do(func() {
		id = cs.nextSubID
		cs.nextSubID++
		cs.progressSubs[id] = sub
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			cs.do(func() { delete(cs.progressSubs, id) })
		})
	}
}

// LastError returns the most recently observed error, if any.
func (cs *CacheStream) LastError() error {
	var err error
	cs.do(func() { err = cs.lastErr })
	return err
}

// Headers returns the currently known Cached Response Headers, if any have
// been observed yet (from a prior download or a resumed metadata file).
// Used by the loopback handler to set Content-Type/Accept-Ranges and by
// callers deciding whether a request needs to wait on headers at all.
func (cs *CacheStream) Headers() (cachedomain.CachedResponseHeaders, bool) {
	var h cachedomain.CachedResponseHeaders
	var known bool
	cs.do(func() { h, known = cs.headers, cs.headersKnown })
	return h, known
}

func (cs *CacheStream) publishLocked(ev ProgressEvent) {
	if ev.Err != nil {
		cs.lastErr = ev.Err
	}
	for _, sub := range cs.progressSubs {
		sub.OnEvent(ev)
	}
}

func (cs *CacheStream) currentProgressLocked() (float64, bool) {
	if cs.state == StateComplete {
		return 1.0, true
	}
	length, known := cs.headers.SourceLength()
	if !known || length <= 0 {
		return 0, false
	}
	var position int64
	if cs.dl != nil {
		position = cs.dl.DownloadPosition()
	} else if info, err := os.Stat(cs.files.Partial); err == nil {
		position = info.Size()
	}
	p := float64(position) / float64(length)
	if p > 0.99 {
		p = 0.99
	}
	return round2(p), true
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func (cs *CacheStream) publishProgressLocked() {
	p, known := cs.currentProgressLocked()
	cs.publishLocked(ProgressEvent{Progress: p, ProgressKnown: known})
}

// --- Request (C5's public request(start?, end?)) ---

type requestResult struct {
	resp composer.Response
	err  error
}

// Request resolves range [start, end] (end=-1, endKnown=false for an open
// range) into a Stream Response: FileOnly when already cached, a
// SplitRangeDownload for far seeks past rangeRequestSplitThreshold, or a
// DownloadOnly/Combined response fulfilled once the shared downloader
// catches up.
func (cs *CacheStream) Request(ctx context.Context, start, end int64, endKnown bool) (composer.Response, error) {
	resultCh := make(chan requestResult, 1)
	dispatch := func() { cs.dispatchRequestLocked(start, end, endKnown, resultCh) }

	cs.do(func() {
		if cs.disposed {
			resultCh <- requestResult{err: cachedomain.ErrCacheStreamDisposed}
			return
		}
		if cs.validating {
			cs.pendingValidation = append(cs.pendingValidation, dispatch)
			return
		}
		dispatch()
	})

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		if cs.admission == nil {
			return res.resp, nil
		}
		end := cs.admission.BeginPlayback()
		return &playbackResponse{Response: res.resp, release: end}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// playbackResponse wraps a composer.Response so releasing it also signals
// the admission controller that one fewer playback is active.
type playbackResponse struct {
	composer.Response
	release func()
	once    sync.Once
}

func (r *playbackResponse) Close() error {
	err := r.Response.Close()
	r.once.Do(r.release)
	return err
}

// dispatchRequestLocked runs on the loop goroutine. It decides FileOnly,
// SplitRangeDownload, or delegates to the shared downloader.
func (cs *CacheStream) dispatchRequestLocked(start, end int64, endKnown bool, resultCh chan requestResult) {
	length, lengthKnown := int64(0), false
	if cs.headersKnown {
		length, lengthKnown = cs.headers.SourceLength()
	}
	rng := cachedomain.IntRange{Start: start, End: end, EndKnown: endKnown}
	if endKnown {
		if _, err := cachedomain.NewBoundedRange(start, end, length, lengthKnown); err != nil {
			resultCh <- requestResult{err: err}
			return
		}
	}

	if cs.state == StateComplete {
		if !lengthKnown {
			if info, statErr := os.Stat(cs.files.Complete); statErr == nil {
				length, lengthKnown = info.Size(), true
			}
		}
		resolved, err := resolveRange(rng, length, lengthKnown)
		if err != nil {
			resultCh <- requestResult{err: err}
			return
		}
		resp, err := composer.NewFileOnly(cs.files.Complete, resolved)
		resultCh <- requestResult{resp: resp, err: err}
		return
	}

	if cs.cfg.RangeRequestSplitThreshold != nil {
		currentPos := cs.currentCachePositionLocked()
		if start-currentPos > *cs.cfg.RangeRequestSplitThreshold {
			resolved, err := resolveRange(rng, length, lengthKnown)
			if err != nil {
				resultCh <- requestResult{err: err}
				return
			}
			workerCfg := originfetch.Config{
				Client:         cs.client,
				RequestHeaders: cs.cfg.RequestHeaders,
				MinChunkSize:   cs.cfg.MinChunkSize,
				ReadTimeout:    cs.cfg.ReadTimeout,
				Logger:         cs.logger,
			}
			resp := composer.NewSplitRangeDownload(context.Background(), cs.sourceURL, workerCfg, resolved, cs.cfg.MaxBufferSize)
			resultCh <- requestResult{resp: resp}
			return
		}
	}

	cs.ensureDownloadLoopStartedLocked()
	if cs.dl == nil {
		// Disposed or not retained between the check above and here.
		resultCh <- requestResult{err: cachedomain.ErrDownloadStopped}
		return
	}
	dl := cs.dl
	dl.EnqueueRequest(downloader.Request{Range: rng}, func(m downloader.Match) {
		resp, err := cs.buildResponseFromMatch(dl, m, rng)
		resultCh <- requestResult{resp: resp, err: err}
	})
}

func (cs *CacheStream) currentCachePositionLocked() int64 {
	if cs.dl != nil {
		return cs.dl.DownloadPosition()
	}
	if info, err := os.Stat(cs.files.Partial); err == nil {
		return info.Size()
	}
	return 0
}

// buildResponseFromMatch runs on the downloader's loop goroutine (it is
// the notify callback passed to EnqueueRequest), so it uses SubscribeAt,
// never Subscribe.
func (cs *CacheStream) buildResponseFromMatch(dl *downloader.Downloader, m downloader.Match, rng cachedomain.IntRange) (composer.Response, error) {
	subscribe := func(sub downloader.ChunkSubscriber) func() { return dl.SubscribeAt(sub) }
	switch m.Kind {
	case downloader.MatchFileOnly:
		path := cs.files.Partial
		if cs.state == StateComplete {
			path = cs.files.Complete
		}
		length, lengthKnown := cs.headers.SourceLength()
		resolved, err := resolveRange(rng, length, lengthKnown)
		if err != nil {
			return nil, err
		}
		return composer.NewFileOnly(path, resolved)
	case downloader.MatchDownloadOnly:
		resolved := cachedomain.IntRange{Start: rng.Start, End: rng.End, EndKnown: rng.EndKnown}
		return composer.NewDownloadOnly(subscribe, resolved, cs.cfg.MaxBufferSize), nil
	case downloader.MatchCombined:
		return composer.NewCombined(cs.files.Partial, m.FileBoundary, subscribe, rng, cs.cfg.MaxBufferSize)
	case downloader.MatchFailed:
		return nil, m.Err
	default:
		return nil, fmt.Errorf("unexpected match kind %v for a resolved request", m.Kind)
	}
}

// resolveRange fills in an unbounded range's End once sourceLength is
// known and re-validates the result the same way NewBoundedRange would.
// Resolve alone can't catch a request whose start is already at or past
// sourceLength, which would otherwise reach a composer response as an
// inverted or negative-length range.
func resolveRange(rng cachedomain.IntRange, length int64, lengthKnown bool) (cachedomain.IntRange, error) {
	if rng.EndKnown || !lengthKnown {
		return rng, nil
	}
	resolved := rng.Resolve(length)
	return cachedomain.NewBoundedRange(resolved.Start, resolved.End, length, true)
}

// --- Download (C5's public download() → File) ---

// Download starts the Cache Downloader loop (idempotently) and resolves
// once the file is complete, the stream stops being retained, or disposes.
func (cs *CacheStream) Download(ctx context.Context) (string, error) {
	resultCh := make(chan Outcome, 1)
	cs.do(func() {
		if cs.disposed {
			resultCh <- Outcome{Err: cachedomain.ErrCacheStreamDisposed}
			return
		}
		if cs.retainCount <= 0 {
			resultCh <- Outcome{Err: cachedomain.ErrDownloadStopped}
			return
		}
		if cs.state == StateComplete {
			resultCh <- Outcome{CompletePath: cs.files.Complete}
			return
		}
		cs.downloadWaiters = append(cs.downloadWaiters, resultCh)
		cs.ensureDownloadLoopStartedLocked()
	})

	select {
	case out := <-resultCh:
		return out.CompletePath, out.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (cs *CacheStream) notifyDownloadWaitersLocked(out Outcome) {
	waiters := cs.downloadWaiters
	cs.downloadWaiters = nil
	for _, ch := range waiters {
		ch <- out
	}
}

// ensureDownloadLoopStartedLocked starts a downloader if none is active
// and the stream is retained and not disposed. Runs on the loop goroutine.
//
// Acquiring a pre-cache admission slot can block for as long as playback
// holds the floor, so it must never run inline here — that would stall
// this stream's entire command loop, wedging every other caller of do()
// behind it. Instead the acquisition itself happens on its own goroutine;
// startDownloaderLocked only runs once the slot (if any) is in hand.
func (cs *CacheStream) ensureDownloadLoopStartedLocked() {
	if cs.disposed || cs.retainCount <= 0 || cs.dl != nil || cs.state == StateRequesting {
		return
	}
	if cs.precache && cs.admission != nil && cs.precacheRelease == nil {
		cs.state = StateRequesting
		go func() {
			release, err := cs.admission.AcquirePrecache(context.Background(), &streamSuspender{cs: cs})
			cs.do(func() {
				if err != nil {
					cs.state = StateIdle
					cs.notifyDownloadWaitersLocked(Outcome{Err: err})
					return
				}
				if cs.disposed || cs.retainCount <= 0 {
					release()
					cs.state = StateIdle
					cs.notifyDownloadWaitersLocked(Outcome{Err: cachedomain.ErrCacheStreamDisposed})
					return
				}
				cs.precacheRelease = release
				cs.state = StateIdle
				cs.startDownloaderLocked()
			})
		}()
		return
	}
	cs.startDownloaderLocked()
}

// startDownloaderLocked builds and starts a new downloader generation.
// Runs on the loop goroutine; assumes any required admission slot is
// already held.
func (cs *CacheStream) startDownloaderLocked() {
	cs.state = StateRequesting
	resumeOffset := int64(0)
	if cs.headersKnown && cs.headers.CanResumeDownload() {
		if info, err := os.Stat(cs.files.Partial); err == nil {
			resumeOffset = info.Size()
		}
	} else {
		os.Remove(cs.files.Partial)
	}

	worker := originfetch.New(cs.sourceURL, originfetch.Config{
		Client:         cs.client,
		RequestHeaders: cs.cfg.RequestHeaders,
		MinChunkSize:   cs.cfg.MinChunkSize,
		ReadTimeout:    cs.cfg.ReadTimeout,
		Logger:         cs.logger,
	})

	cs.dlGeneration++
	generation := cs.dlGeneration
	dl := downloader.New(downloader.Config{
		SourceURL:         cs.sourceURL,
		Files:             cs.files,
		MaxBufferSize:     cs.cfg.MaxBufferSize,
		MinChunkSize:      cs.cfg.MinChunkSize,
		ReadTimeoutWorker: worker,
		Logger:            cs.logger,
		PriorHeaders:      cs.headers,
		PriorHeadersKnown: cs.headersKnown,
		Hooks: downloader.Hooks{
			OnHeaders:      func(h cachedomain.CachedResponseHeaders) { cs.onDownloaderHeaders(generation, h) },
			OnComplete:     func(size int64, lengthWasUnknown bool) { cs.onDownloaderComplete(generation, size, lengthWasUnknown) },
			OnInvalidCache: func(err error) { cs.onDownloaderInvalidCache(generation, err) },
			OnNetworkError: func(err error) { cs.onDownloaderNetworkError(generation, err) },
		},
	})
	cs.dl = dl
	cs.state = StateStreaming

	if err := dl.Start(context.Background(), resumeOffset); err != nil {
		cs.dl = nil
		cs.state = StateIdle
		cs.notifyDownloadWaitersLocked(Outcome{Err: err})
		return
	}
	metrics.DownloadsStartedTotal.Inc()
	cs.startProgressPollLocked()
}

func (cs *CacheStream) startProgressPollLocked() {
	cs.stopProgressPollLocked()
	stopCh := make(chan struct{})
	cs.dlStopPoll = stopCh
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cs.do(func() {
					if cs.dlStopPoll == stopCh {
						cs.publishProgressLocked()
					}
				})
			case <-stopCh:
				return
			}
		}
	}()
}

func (cs *CacheStream) stopProgressPollLocked() {
	if cs.dlStopPoll != nil {
		close(cs.dlStopPoll)
		cs.dlStopPoll = nil
	}
}

func (cs *CacheStream) onDownloaderHeaders(generation int, h cachedomain.CachedResponseHeaders) {
	cs.do(func() {
		if generation != cs.dlGeneration {
			return
		}
		cs.headers = h
		cs.headersKnown = true
		go cs.persistMetadata(h)
		cs.publishProgressLocked()
	})
}

func (cs *CacheStream) persistMetadata(h cachedomain.CachedResponseHeaders) {
	if !cs.cfg.SaveMetadata {
		return
	}
	filtered := h
	if !cs.cfg.SaveAllHeaders {
		filtered = cachedomain.NewCachedResponseHeaders(headersToHTTP(h), false)
	}
	m := cachedomain.NewMetadata(cs.sourceURL, filtered)
	if err := cachedomain.WriteMetadata(cs.files.Metadata, m); err != nil && cs.logger != nil {
		cs.logger.Warn("persist cache metadata failed", slog.String("url", cs.sourceURL), slog.Any("err", err))
	}
}

func headersToHTTP(h cachedomain.CachedResponseHeaders) http.Header {
	out := http.Header{}
	h.ForEach(func(name, value string) { out.Set(name, value) })
	return out
}

func (cs *CacheStream) onDownloaderComplete(generation int, finalSize int64, lengthWasUnknown bool) {
	cs.do(func() {
		if generation != cs.dlGeneration {
			return
		}
		cs.state = StatePromoting
		if lengthWasUnknown {
			cs.headers = cs.headers.WithContentLength(finalSize)
			go cs.persistMetadata(cs.headers)
		}
		cs.state = StateComplete
		metrics.DownloadsCompletedTotal.Inc()
		cs.stopProgressPollLocked()
		cs.dl = nil
		if cs.precacheRelease != nil {
			cs.precacheRelease()
			cs.precacheRelease = nil
		}
		cs.publishProgressLocked()
		cs.notifyDownloadWaitersLocked(Outcome{CompletePath: cs.files.Complete})
	})
}

func (cs *CacheStream) onDownloaderInvalidCache(generation int, err error) {
	var dlToClose *downloader.Downloader
	cs.do(func() {
		if generation != cs.dlGeneration {
			return
		}
		dlToClose = cs.dl
		cs.state = StateResetting
		metrics.CacheInvalidationsTotal.Inc()
		cs.resetCacheFilesLocked()
		cs.publishLocked(ProgressEvent{Err: err})
		cs.dl = nil
		cs.stopProgressPollLocked()
		if cs.precacheRelease != nil {
			cs.precacheRelease()
			cs.precacheRelease = nil
		}
		if !cs.disposed && cs.retainCount > 0 && (len(cs.downloadWaiters) > 0) {
			cs.state = StateIdle
			cs.ensureDownloadLoopStartedLocked()
		} else {
			cs.state = StateIdle
			cs.notifyDownloadWaitersLocked(Outcome{Err: err})
		}
	})
	if dlToClose != nil {
		go dlToClose.Close()
	}
}

func (cs *CacheStream) onDownloaderNetworkError(generation int, err error) {
	var dlToClose *downloader.Downloader
	cs.do(func() {
		if generation != cs.dlGeneration {
			return
		}
		dlToClose = cs.dl
		cs.dl = nil
		cs.stopProgressPollLocked()
		cs.state = StateBackoff
		cs.publishLocked(ProgressEvent{Err: err})
	})
	if dlToClose != nil {
		go dlToClose.Close()
	}

	time.AfterFunc(networkRetryBackoff, func() {
		cs.do(func() {
			if cs.disposed || cs.retainCount <= 0 {
				cs.notifyDownloadWaitersLocked(Outcome{Err: cachedomain.ErrDownloadStopped})
				return
			}
			if cs.state != StateBackoff {
				return
			}
			cs.state = StateIdle
			cs.ensureDownloadLoopStartedLocked()
		})
	})
}

// --- validateCache ---

// ValidateCache issues a HEAD request to the origin when force or the
// cached headers are stale, compares against the cached headers using the
// same equality rule used for resume validation, and optionally resets
// the cache on mismatch. Returns nil when no validation was performed
// (no cache file, or already downloading).
func (cs *CacheStream) ValidateCache(ctx context.Context, force, resetInvalid bool) (valid *bool, err error) {
	type plan struct {
		run    bool
		prior  cachedomain.CachedResponseHeaders
	}
	var p plan
	cs.do(func() {
		if cs.dl != nil || cs.disposed {
			return
		}
		if _, statErr := os.Stat(cs.files.Complete); statErr != nil {
			if _, statErr := os.Stat(cs.files.Partial); statErr != nil {
				return
			}
		}
		if !cs.headersKnown {
			return
		}
		if !force && !cs.headers.ShouldRevalidate(time.Now()) {
			return
		}
		cs.validating = true
		p = plan{run: true, prior: cs.headers}
	})
	if !p.run {
		return nil, nil
	}

	headCtx, cancel := context.WithTimeout(ctx, validateHeadTimeout)
	defer cancel()
	req, buildErr := http.NewRequestWithContext(headCtx, http.MethodHead, cs.sourceURL, nil)
	if buildErr != nil {
		cs.finishValidation()
		return nil, buildErr
	}
	for k, vs := range cs.cfg.RequestHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, reqErr := cs.client.Do(req)
	if reqErr != nil {
		cs.finishValidation()
		return nil, reqErr
	}
	resp.Body.Close()
	fresh := cachedomain.NewCachedResponseHeaders(resp.Header, cs.cfg.SaveAllHeaders)

	matches := p.prior.Equal(fresh)
	valid = &matches
	cs.do(func() {
		if !matches && resetInvalid {
			metrics.CacheInvalidationsTotal.Inc()
			cs.resetCacheFilesLocked()
			cs.headers = fresh
			cs.headersKnown = true
			go cs.persistMetadata(fresh)
		}
	})
	cs.finishValidation()
	return valid, nil
}

func (cs *CacheStream) finishValidation() {
	cs.do(func() {
		cs.validating = false
		pending := cs.pendingValidation
		cs.pendingValidation = nil
		for _, f := range pending {
			f()
		}
	})
}

// --- resetCache ---

// ResetCache closes any active downloader, drops headers, deletes the
// partial, complete and metadata files, and restarts the download loop if
// Download callers are still waiting. The downloader is closed like any
// other stop: its Stream Response subscribers and queued requests see
// ErrDownloadStopped, and no separate reset error exists.
func (cs *CacheStream) ResetCache() {
	var dlToClose *downloader.Downloader
	cs.do(func() {
		dlToClose = cs.dl
		cs.dl = nil
		cs.stopProgressPollLocked()
		metrics.CacheInvalidationsTotal.Inc()
		cs.resetCacheFilesLocked()
		cs.state = StateIdle
		if !cs.disposed && cs.retainCount > 0 && len(cs.downloadWaiters) > 0 {
			cs.ensureDownloadLoopStartedLocked()
		}
	})
	if dlToClose != nil {
		go dlToClose.Close()
	}
}

func (cs *CacheStream) resetCacheFilesLocked() {
	cs.headers = cachedomain.CachedResponseHeaders{}
	cs.headersKnown = false
	os.Remove(cs.files.Partial)
	os.Remove(cs.files.Complete)
	os.Remove(cs.files.Metadata)
}

// --- precache suspension (admission control callbacks) ---

func (cs *CacheStream) suspendActive() {
	var dl *downloader.Downloader
	cs.do(func() { dl = cs.dl })
	if dl != nil {
		dl.Pause()
	}
}

func (cs *CacheStream) resumeActive() {
	var dl *downloader.Downloader
	cs.do(func() { dl = cs.dl })
	if dl != nil {
		dl.Resume()
	}
}
