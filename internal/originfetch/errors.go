package originfetch

import "errors"

// Network errors raised while fetching the origin. These are distinct from
// cachedomain's cache-consistency taxonomy: a network error is retried by
// the caller (Cache Stream's download loop), never treated as cache
// corruption.
var (
	ErrRequestTimedOut = errors.New("origin request timed out")
	ErrReadTimedOut    = errors.New("origin read timed out")
	ErrHTTPStatusCode  = errors.New("unexpected origin status code")
)
