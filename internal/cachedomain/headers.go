package cachedomain

import (
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// essentialHeaders are persisted regardless of SaveAllHeaders; they are
// the minimum needed to validate and resume a cache later.
var essentialHeaders = []string{
	"Content-Length",
	"Accept-Ranges",
	"Content-Type",
	"Last-Modified",
	"Date",
	"Expires",
	"Cache-Control",
	"Etag",
	"Content-Encoding",
	"Transfer-Encoding",
}

// CachedResponseHeaders is the filtered, immutable header set carried by a
// Cache Stream: only the fields in essentialHeaders survive (every field,
// when built with saveAllHeaders), canonicalized through
// textproto.CanonicalMIMEHeaderKey.
type CachedResponseHeaders struct {
	values map[string]string
}

// NewCachedResponseHeaders filters src down to the essential subset (or
// every header, when saveAllHeaders is true).
func NewCachedResponseHeaders(src http.Header, saveAllHeaders bool) CachedResponseHeaders {
	out := make(map[string]string, len(essentialHeaders))
	if saveAllHeaders {
		for key := range src {
			if v := src.Get(key); v != "" {
				out[textproto.CanonicalMIMEHeaderKey(key)] = v
			}
		}
		return CachedResponseHeaders{values: out}
	}
	for _, key := range essentialHeaders {
		if v := src.Get(key); v != "" {
			out[textproto.CanonicalMIMEHeaderKey(key)] = v
		}
	}
	return CachedResponseHeaders{values: out}
}

// Get returns the value for a header name, canonicalizing the lookup key.
func (h CachedResponseHeaders) Get(name string) (string, bool) {
	v, ok := h.values[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// Clone returns a deep copy of the header set; no header is changed.
func (h CachedResponseHeaders) Clone() CachedResponseHeaders {
	cp := make(map[string]string, len(h.values))
	for k, v := range h.values {
		cp[k] = v
	}
	return CachedResponseHeaders{values: cp}
}

// WithContentLength returns a copy with Content-Length rewritten, used to
// persist the observed length once an unknown-length download finishes.
func (h CachedResponseHeaders) WithContentLength(length int64) CachedResponseHeaders {
	cp := h.Clone()
	cp.values["Content-Length"] = strconv.FormatInt(length, 10)
	return cp
}

// ForEach iterates every retained header in an unspecified order.
func (h CachedResponseHeaders) ForEach(fn func(name, value string)) {
	for k, v := range h.values {
		fn(k, v)
	}
}

func (h CachedResponseHeaders) isCompressedOrChunked() bool {
	if v, ok := h.Get("Content-Encoding"); ok && strings.EqualFold(strings.TrimSpace(v), "gzip") {
		return true
	}
	if v, ok := h.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(v), "chunked") {
		return true
	}
	return false
}

// SourceLength returns the origin's declared content length, and false
// when it cannot be trusted (compressed or chunked transfer).
func (h CachedResponseHeaders) SourceLength() (int64, bool) {
	if h.isCompressedOrChunked() {
		return 0, false
	}
	v, ok := h.Get("Content-Length")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// AcceptsRangeRequests reports whether the origin advertised byte ranges.
func (h CachedResponseHeaders) AcceptsRangeRequests() bool {
	v, ok := h.Get("Accept-Ranges")
	return ok && strings.EqualFold(strings.TrimSpace(v), "bytes")
}

// CanResumeDownload requires range support and an uncompressed, non-chunked body.
func (h CachedResponseHeaders) CanResumeDownload() bool {
	return h.AcceptsRangeRequests() && !h.isCompressedOrChunked()
}

// ShouldRevalidate reports whether the cached headers are stale: now is
// past the explicit Expires header, or past Date + max-age from
// Cache-Control when Expires is absent.
func (h CachedResponseHeaders) ShouldRevalidate(now time.Time) bool {
	if v, ok := h.Get("Expires"); ok {
		if t, err := http.ParseTime(v); err == nil {
			return !now.Before(t)
		}
	}
	date, dateOK := h.Get("Date")
	cc, ccOK := h.Get("Cache-Control")
	if !dateOK || !ccOK {
		return false
	}
	maxAge, ok := parseMaxAge(cc)
	if !ok {
		return false
	}
	dateTime, err := http.ParseTime(date)
	if err != nil {
		return false
	}
	return !now.Before(dateTime.Add(time.Duration(maxAge) * time.Second))
}

// ETag returns the origin's ETag header, if present.
func (h CachedResponseHeaders) ETag() (string, bool) { return h.Get("Etag") }

// LastModified parses the Last-Modified header, if present and valid.
func (h CachedResponseHeaders) LastModified() (time.Time, bool) {
	v, ok := h.Get("Last-Modified")
	if !ok {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ContentType returns the cached Content-Type, if any.
func (h CachedResponseHeaders) ContentType() (string, bool) { return h.Get("Content-Type") }

func parseMaxAge(cacheControl string) (int64, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		const prefix = "max-age="
		if !strings.HasPrefix(strings.ToLower(directive), prefix) {
			continue
		}
		n, err := strconv.ParseInt(directive[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// Equal implements the Cache Stream validation equality rule in order:
// ETag match if both present; else Last-Modified(next) <= Last-Modified(prev);
// else Content-Length equality.
func (h CachedResponseHeaders) Equal(next CachedResponseHeaders) bool {
	prevTag, prevOK := h.ETag()
	nextTag, nextOK := next.ETag()
	if prevOK && nextOK {
		return prevTag == nextTag
	}
	prevMod, prevModOK := h.LastModified()
	nextMod, nextModOK := next.LastModified()
	if prevModOK && nextModOK {
		return !nextMod.After(prevMod)
	}
	prevLen, prevLenOK := h.SourceLength()
	nextLen, nextLenOK := next.SourceLength()
	if prevLenOK && nextLenOK {
		return prevLen == nextLen
	}
	return false
}
