// Package sink implements the Buffered Sink (C1): an append-only writer in
// front of the partial cache file with async flush and explicit
// flushed-position tracking.
package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"httpcachestream/internal/cachedomain"
)

// Sink is the append-only writer in front of a partial cache file. All
// methods are safe for concurrent use; re-entrant Flush calls coalesce
// onto a single pending flush the way the teacher's RAMBuffer.Prebuffer
// coalesces re-entrant waiters onto one fill cycle.
type Sink struct {
	mu sync.Mutex

	file   *os.File
	logger *slog.Logger

	builder      []byte
	flushedBytes int64
	flushing     bool
	flushDone    chan struct{}
	flushErr     error
	closed       bool
}

// Open creates the sink for path. When resuming (startOffset > 0) the file
// is opened for append at its current length; otherwise it is truncated so
// writing starts clean at offset zero. Missing parent directories are
// created.
func Open(path string, startOffset int64, logger *slog.Logger) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory for %s: %v", cachedomain.ErrWrite, path, err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if startOffset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open partial file %s: %v", cachedomain.ErrWrite, path, err)
	}
	if startOffset > 0 {
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, fmt.Errorf("%w: stat partial file %s: %v", cachedomain.ErrWrite, path, statErr)
		}
		if info.Size() != startOffset {
			f.Close()
			return nil, fmt.Errorf("%w: partial file %s size %d disagrees with resume offset %d",
				cachedomain.ErrInvalidCacheLength, path, info.Size(), startOffset)
		}
	}
	return &Sink{file: f, logger: logger}, nil
}

// Add appends a chunk to the in-memory builder. It never blocks on I/O;
// the bytes are durable only once a subsequent Flush succeeds.
func (s *Sink) Add(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder = append(s.builder, chunk...)
}

// BufferSize returns the number of un-flushed bytes currently buffered.
func (s *Sink) BufferSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.builder))
}

// FlushedBytes returns the durable position relative to the sink's start
// offset: bytes that have actually been written to the file.
func (s *Sink) FlushedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushedBytes
}

// Flush serializes: while the builder is non-empty, take its bytes, append
// to the file, and advance flushedBytes. Re-entrant calls while a flush is
// already running await that same flush's completion rather than racing
// a second writer onto the file.
func (s *Sink) Flush() error {
	for {
		s.mu.Lock()
		if s.flushing {
			done := s.flushDone
			s.mu.Unlock()
			<-done
			continue
		}
		if len(s.builder) == 0 {
			s.mu.Unlock()
			return nil
		}
		pending := s.builder
		s.builder = nil
		s.flushing = true
		s.flushDone = make(chan struct{})
		s.mu.Unlock()

		n, err := s.file.Write(pending)
		s.mu.Lock()
		if err != nil {
			s.flushErr = fmt.Errorf("%w: %v", cachedomain.ErrWrite, err)
			// Unwritten/partially-written bytes are not re-queued: a
			// write error is terminal for the sink per §4.1 ("propagated,
			// never retried internally").
			if s.logger != nil {
				s.logger.Error("sink flush failed", slog.Int("bytes", len(pending)), slog.Any("err", err))
			}
		} else {
			s.flushedBytes += int64(n)
		}
		s.flushing = false
		flushErr := s.flushErr
		close(s.flushDone)
		s.mu.Unlock()
		return flushErr
	}
}

// Close flushes (unless flushBuffer is false) and closes the underlying
// file. Idempotent — a second call is a no-op returning nil.
func (s *Sink) Close(flushBuffer bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var flushErr error
	if flushBuffer {
		flushErr = s.Flush()
	}
	if err := s.file.Close(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("%w: close partial file: %v", cachedomain.ErrWrite, err)
	}
	return flushErr
}
