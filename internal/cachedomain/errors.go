// Package cachedomain holds the value types shared by every cache-stream
// component: source identity, on-disk file naming, cached response
// headers, byte ranges, persisted metadata, and the error taxonomy they
// all raise.
package cachedomain

import "errors"

// Cache consistency errors. All three satisfy errors.Is(err, ErrInvalidCache)
// the way the teacher's usecase errors nest under a parent sentinel.
var (
	ErrInvalidCache       = errors.New("invalid cache")
	ErrCacheSourceChanged = errors.New("cache source changed")
	ErrCacheReset         = errors.New("cache reset")
	ErrInvalidCacheLength = errors.New("invalid cache length")
)

// Lifecycle errors.
var (
	ErrDownloadStopped     = errors.New("download stopped")
	ErrCacheStreamDisposed = errors.New("cache stream disposed")
)

// Protocol / response errors.
var (
	ErrHTTPRange              = errors.New("http range mismatch")
	ErrExceededMaxBufferSize  = errors.New("exceeded max buffer size")
	ErrStreamResponseCanceled = errors.New("stream response canceled")
	ErrWrite                  = errors.New("sink write error")
)

// wrapInvalidCache wraps a more specific cache-consistency sentinel so
// errors.Is(err, ErrInvalidCache) holds for all three subtypes without
// needing a custom error type.
func wrapInvalidCache(specific error) error {
	return &invalidCacheError{specific: specific}
}

type invalidCacheError struct {
	specific error
}

func (e *invalidCacheError) Error() string { return e.specific.Error() }

func (e *invalidCacheError) Unwrap() []error { return []error{ErrInvalidCache, e.specific} }

// NewCacheSourceChangedError reports that the origin mutated (etag,
// last-modified, or length disagree) while resuming a partial download.
func NewCacheSourceChangedError() error { return wrapInvalidCache(ErrCacheSourceChanged) }

// NewCacheResetError reports a user- or validator-triggered cache reset.
func NewCacheResetError() error { return wrapInvalidCache(ErrCacheReset) }

// NewInvalidCacheLengthError reports that the partial file's size disagreed
// with the expected content length on completion.
func NewInvalidCacheLengthError() error { return wrapInvalidCache(ErrInvalidCacheLength) }
