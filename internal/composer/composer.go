// Package composer implements the Response Composer (C4): for a given
// client request it builds the appropriate Stream Response — from file
// only, from the live download only, a seamless combination of the two,
// or an independent split-range download that bypasses the shared
// downloader entirely. Stream Response is modeled as a tagged variant —
// four concrete structs behind one interface — the way the teacher's
// hls_datasource.go models MediaDataSource (directFileSource,
// httpStreamSource, pipeSource, partialDirectSource).
package composer

import (
	"context"
	"io"
	"os"
	"sync"

	"httpcachestream/internal/cachedomain"
	"httpcachestream/internal/downloader"
	"httpcachestream/internal/originfetch"
)

// Kind tags which of the four variants a Response is.
type Kind int

const (
	KindFileOnly Kind = iota
	KindDownloadOnly
	KindCombined
	KindSplitRangeDownload
)

var kindNames = [...]string{"fileOnly", "downloadOnly", "combined", "splitRangeDownload"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Response is the shared surface of all four variants: {stream, cancel,
// source, sourceLength, range} per spec §9 ("tagged variants over
// polymorphism... sharing only stream/cancel/source/sourceLength/range").
// It is also an io.ReadCloser so the loopback handler can pipe it
// directly to the response socket.
type Response interface {
	io.Reader
	// Close cancels the response: frees any buffer, unsubscribes from the
	// downloader, or closes a split-range upstream connection. Idempotent.
	Close() error
	// Kind reports which variant this is, for logging/metrics.
	Kind() Kind
	// Range is the byte range this response serves, resolved (EndKnown).
	Range() cachedomain.IntRange
}

// Subscribe registers sub against the live download and returns a cancel
// function. Callers pass a closure bound to the specific offset a Match
// already computed (see downloader.Downloader.SubscribeAt) — composer
// never recomputes the attach position itself.
type Subscribe func(sub downloader.ChunkSubscriber) (cancel func())

var (
	_ Response = (*fileOnlyResponse)(nil)
	_ Response = (*downloadOnlyResponse)(nil)
	_ Response = (*combinedResponse)(nil)
	_ Response = (*splitRangeResponse)(nil)
)

// --- FileOnly ---

type fileOnlyResponse struct {
	file      *os.File
	remaining int64
	rng       cachedomain.IntRange
}

// NewFileOnly opens path (the complete or partial cache file) and returns
// a Response clamped to rng. Cancellation is a no-op beyond closing the
// file descriptor: per §4.4, "cancellation is a no-op (file stream closes
// on drop)".
func NewFileOnly(path string, rng cachedomain.IntRange) (Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &fileOnlyResponse{file: f, remaining: rng.Len(), rng: rng}, nil
}

func (r *fileOnlyResponse) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.file.Read(p)
	r.remaining -= int64(n)
	return n, err
}

func (r *fileOnlyResponse) Close() error            { return r.file.Close() }
func (r *fileOnlyResponse) Kind() Kind               { return KindFileOnly }
func (r *fileOnlyResponse) Range() cachedomain.IntRange { return r.rng }

// --- DownloadOnly ---

// downloadOnlyResponse subscribes to the downloader's broadcast starting
// at the offset its Subscribe closure was built for. Per §4.4: bytes
// arriving before a reader attaches are buffered up to maxBufferSize;
// exceeding that cancels the response with ErrExceededMaxBufferSize. Bytes
// outside [start,end] are clipped; reaching end closes the response.
type downloadOnlyResponse struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []byte
	nextByte  int64 // absolute offset of the next byte Read() will return
	rng       cachedomain.IntRange
	maxBuffer int64
	closed    bool
	err       error
	cancelSub func()
	once      sync.Once
}

// NewDownloadOnly builds a DownloadOnly response for rng, subscribing via
// subscribe (already bound to the correct attach offset by the caller).
func NewDownloadOnly(subscribe Subscribe, rng cachedomain.IntRange, maxBufferSize int64) Response {
	r := &downloadOnlyResponse{
		rng:       rng,
		nextByte:  rng.Start,
		maxBuffer: maxBufferSize,
	}
	r.cond = sync.NewCond(&r.mu)
	r.cancelSub = subscribe(downloader.ChunkSubscriber{
		OnChunk: r.onChunk,
		OnClose: r.onClose,
	})
	return r
}

// onChunk runs on the downloader's loop goroutine; it must never block.
func (r *downloadOnlyResponse) onChunk(offset int64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}

	// Head-clip: drop any bytes already delivered below nextByte.
	chunkEnd := offset + int64(len(data))
	if chunkEnd <= r.nextByte {
		return
	}
	if offset < r.nextByte {
		data = data[r.nextByte-offset:]
		offset = r.nextByte
	}

	// Tail-clip to the requested range; reaching it closes the response.
	reachedEnd := false
	if r.rng.EndKnown {
		if offset > r.rng.End {
			return
		}
		if offset+int64(len(data)) >= r.rng.End+1 {
			data = data[:r.rng.End+1-offset]
			reachedEnd = true
		}
	}

	if int64(len(r.buf)+len(data)) > r.maxBuffer {
		r.err = cachedomain.ErrExceededMaxBufferSize
		r.buf = nil
		r.cond.Broadcast()
		go r.cancelSub()
		return
	}
	r.buf = append(r.buf, data...)
	if reachedEnd {
		r.closed = true
	}
	r.cond.Broadcast()
}

func (r *downloadOnlyResponse) onClose(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	if err != nil {
		r.err = err
	} else {
		r.closed = true
	}
	r.cond.Broadcast()
}

func (r *downloadOnlyResponse) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 && !r.closed && r.err == nil {
		r.cond.Wait()
	}
	if len(r.buf) > 0 {
		n := copy(p, r.buf)
		r.buf = r.buf[n:]
		r.nextByte += int64(n)
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

func (r *downloadOnlyResponse) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.buf = nil
		r.cond.Broadcast()
		r.mu.Unlock()
		if r.cancelSub != nil {
			r.cancelSub()
		}
	})
	return nil
}

func (r *downloadOnlyResponse) Kind() Kind               { return KindDownloadOnly }
func (r *downloadOnlyResponse) Range() cachedomain.IntRange { return r.rng }

// --- Combined ---

// combinedResponse concatenates a FileOnly segment [range.Start,
// fileBoundary) with a DownloadOnly tail [fileBoundary, range.End],
// switching over seamlessly. Per §4.4, construction requires file size >=
// fileBoundary (the caller — Cache Stream — only builds this when the
// downloader's matchLocked already established filePosition == streamPosition
// or the file has just been flushed to catch up).
type combinedResponse struct {
	file     *fileOnlyResponse
	download Response
	rng      cachedomain.IntRange
	switched bool
}

// NewCombined builds the file-then-download concatenation. fileBoundary is
// the exclusive end of the file segment and the inclusive start of the
// download segment (spec's streamPosition at hand-over time).
func NewCombined(path string, fileBoundary int64, subscribe Subscribe, rng cachedomain.IntRange, maxBufferSize int64) (Response, error) {
	fileRange, err := cachedomain.NewBoundedRange(rng.Start, fileBoundary-1, 0, false)
	if err != nil {
		return nil, err
	}
	file, err := NewFileOnly(path, fileRange)
	if err != nil {
		return nil, err
	}
	downloadRange := cachedomain.IntRange{Start: fileBoundary, End: rng.End, EndKnown: rng.EndKnown}
	download := NewDownloadOnly(subscribe, downloadRange, maxBufferSize)
	return &combinedResponse{file: file.(*fileOnlyResponse), download: download, rng: rng}, nil
}

func (r *combinedResponse) Read(p []byte) (int, error) {
	if !r.switched {
		n, err := r.file.Read(p)
		if err == io.EOF {
			r.switched = true
			if n > 0 {
				return n, nil
			}
			return r.download.Read(p)
		}
		return n, err
	}
	return r.download.Read(p)
}

// Close cancels the download tail regardless of playback position — per
// §4.4, "cancelling the combined response cancels the DownloadOnly tail
// ... to free its buffer regardless of where playback is" — then closes
// the file segment.
func (r *combinedResponse) Close() error {
	downloadErr := r.download.Close()
	fileErr := r.file.Close()
	if fileErr != nil {
		return fileErr
	}
	return downloadErr
}

func (r *combinedResponse) Kind() Kind               { return KindCombined }
func (r *combinedResponse) Range() cachedomain.IntRange { return r.rng }

// --- SplitRangeDownload ---

// splitRangeResponse opens an independent origin range GET, bypassing the
// shared downloader entirely — used for far seeks (§4.4). Served bytes
// never touch the cache file.
type splitRangeResponse struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []byte
	closed    bool
	err       error
	cancel    context.CancelFunc
	worker    *originfetch.Worker
	maxBuffer int64
	once      sync.Once
	rng       cachedomain.IntRange
}

// NewSplitRangeDownload opens sourceURL at rng.Start via its own Worker and
// streams coalesced chunks into an internal buffer, bounded by
// maxBufferSize the same way the shared downloader bounds its sink.
func NewSplitRangeDownload(ctx context.Context, sourceURL string, workerCfg originfetch.Config, rng cachedomain.IntRange, maxBufferSize int64) Response {
	ctx, cancel := context.WithCancel(ctx)
	worker := originfetch.New(sourceURL, workerCfg)
	r := &splitRangeResponse{
		cancel:    cancel,
		worker:    worker,
		maxBuffer: maxBufferSize,
		rng:       rng,
	}
	r.cond = sync.NewCond(&r.mu)

	go func() {
		err := worker.Run(ctx, rng.Start, func(cachedomain.CachedResponseHeaders) error { return nil }, r.onData(rng))
		r.mu.Lock()
		if r.err == nil {
			if err != nil {
				r.err = err
			} else {
				r.closed = true
			}
		}
		r.cond.Broadcast()
		r.mu.Unlock()
	}()

	return r
}

func (r *splitRangeResponse) onData(rng cachedomain.IntRange) originfetch.OnData {
	received := int64(0)
	return func(chunk []byte) error {
		if rng.EndKnown {
			remaining := rng.Len() - received
			if remaining <= 0 {
				return io.EOF
			}
			if int64(len(chunk)) > remaining {
				chunk = chunk[:remaining]
			}
		}
		received += int64(len(chunk))

		r.mu.Lock()
		for int64(len(r.buf)) > r.maxBuffer {
			r.cond.Wait()
			if r.closed || r.err != nil {
				r.mu.Unlock()
				return cachedomain.ErrStreamResponseCanceled
			}
		}
		r.buf = append(r.buf, chunk...)
		r.cond.Broadcast()
		r.mu.Unlock()
		return nil
	}
}

func (r *splitRangeResponse) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 && !r.closed && r.err == nil {
		r.cond.Wait()
	}
	if len(r.buf) > 0 {
		n := copy(p, r.buf)
		r.buf = r.buf[n:]
		r.cond.Broadcast()
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}
	return 0, io.EOF
}

func (r *splitRangeResponse) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.worker.Close()
		r.mu.Lock()
		r.closed = true
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	return nil
}

func (r *splitRangeResponse) Kind() Kind               { return KindSplitRangeDownload }
func (r *splitRangeResponse) Range() cachedomain.IntRange { return r.rng }
