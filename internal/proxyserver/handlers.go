package proxyserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"httpcachestream/internal/cachedomain"
	"httpcachestream/internal/cachestream"
	"httpcachestream/internal/composer"
)

// handleMedia is the C6 request handler proper: derive the source URL,
// parse Range, dispatch to the matching Cache Stream, stream the
// response (spec §4.6).
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sourceURL, ok := s.rewriteSourceURL(r)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no origin configured")
		return
	}

	rangeHeader := r.Header.Get("Range")
	start, end, endKnown, rangeErr := parseRange(rangeHeader)
	if rangeErr != nil {
		writeError(w, http.StatusBadRequest, rangeErr.Error())
		return
	}
	hadRangeHeader := rangeHeader != ""

	stream, err := s.manager.GetOrCreateStream(sourceURL)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no matching stream")
		return
	}
	defer stream.Dispose(false)

	requestID := newRequestID()
	s.trackInflight(requestID, inflightRequest{
		RequestID: requestID,
		SourceURL: sourceURL,
		Range:     rangeHeader,
		StartedAt: time.Now(),
	})
	defer s.untrackInflight(requestID)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ReadTimeout)
	defer cancel()

	resp, err := stream.Request(ctx, start, end, endKnown)
	if err != nil {
		s.writeRequestError(w, err, stream)
		return
	}
	defer resp.Close()

	s.writeMediaResponse(w, r, stream, resp, hadRangeHeader, requestID)
}

// writeRequestError maps a Request() failure onto the status codes spec
// §6 enumerates: 504 when the origin never answered inside the read
// timeout, 416 for a range the origin/cache can't satisfy, 503 when the
// stream stopped being usable out from under the request, 500 otherwise.
func (s *Server) writeRequestError(w http.ResponseWriter, err error, stream *cachestream.CacheStream) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "origin response timed out")
	case errors.Is(err, cachedomain.ErrHTTPRange):
		if h, ok := stream.Headers(); ok {
			if length, lengthOK := h.SourceLength(); lengthOK {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", length))
			}
		}
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
	case errors.Is(err, cachedomain.ErrCacheStreamDisposed), errors.Is(err, cachedomain.ErrDownloadStopped):
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
	default:
		s.logger.Error("stream request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeMediaResponse writes status line, headers, and body for a
// successfully resolved Stream Response.
func (s *Server) writeMediaResponse(w http.ResponseWriter, r *http.Request, stream *cachestream.CacheStream, resp composer.Response, hadRangeHeader bool, requestID string) {
	headers, headersKnown := stream.Headers()
	rng := resp.Range()

	w.Header().Set("Content-Type", contentTypeFor(r.URL.Path, headers, headersKnown))
	// Close the connection after streaming so keep-alive doesn't hold the
	// downloader subscription (or the split-range worker) open after the
	// player stops reading — the same reasoning as the teacher's
	// handleStreamTorrent.
	w.Header().Set("Connection", "close")
	if headersKnown && headers.AcceptsRangeRequests() {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if s.cfg.CopyCachedResponseHeaders && headersKnown {
		copyExtraHeaders(w.Header(), headers)
	}

	status := http.StatusOK
	if hadRangeHeader {
		status = http.StatusPartialContent
		total := "*"
		if headersKnown {
			if length, ok := headers.SourceLength(); ok {
				total = strconv.FormatInt(length, 10)
			}
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", rng.Start, rng.End, total))
	}
	if rng.EndKnown {
		w.Header().Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
	}
	w.WriteHeader(status)

	s.copyWithWriteTimeout(w, resp, requestID, stream.SourceURL())
}

// copyWithWriteTimeout streams resp to the client socket, resetting a
// per-write deadline on every chunk (spec §5: "a per-request write
// timeout equal to readTimeout destroys the socket if no progress is
// made"). A write or read error after headers are already on the wire is
// never turned into an error response — per §7 ("never surfaces origin
// errors to the client as 5xx if headers have already been sent"), the
// handler just stops writing, which leaves the response short against
// its declared Content-Length and lets net/http close the connection to
// signal the truncation.
func (s *Server) copyWithWriteTimeout(w http.ResponseWriter, resp io.Reader, requestID, sourceURL string) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Read(buf)
		if n > 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Debug("proxy write interrupted",
					slog.String("requestId", requestID),
					slog.String("sourceUrl", sourceURL),
					slog.String("error", werr.Error()))
				return
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				s.logger.Debug("proxy copy interrupted",
					slog.String("requestId", requestID),
					slog.String("sourceUrl", sourceURL),
					slog.String("error", rerr.Error()))
			}
			return
		}
	}
}

// rewriteSourceURL derives the source URL by rewriting only scheme/host
// (spec §6). Path and query pass through unchanged — they are the
// lookup key.
func (s *Server) rewriteSourceURL(r *http.Request) (string, bool) {
	if s.cfg.OriginHost == "" {
		return "", false
	}
	u := url.URL{
		Scheme:   s.cfg.OriginScheme,
		Host:     s.cfg.OriginHost,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	return u.String(), true
}

// contentTypeFor picks Content-Type in the priority order spec §4.6
// gives: cached origin headers, then the URL's extension, then a
// hard-coded fallback.
func contentTypeFor(urlPath string, headers cachedomain.CachedResponseHeaders, headersKnown bool) string {
	if headersKnown {
		if ct, ok := headers.ContentType(); ok && ct != "" {
			return ct
		}
	}
	if guessed := mime.TypeByExtension(path.Ext(urlPath)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}

// copyExtraHeaders copies every cached origin header onto w's header set,
// except the ones the handler computes itself (spec §6 config table:
// copyCachedResponseHeaders "copies cached origin headers into the proxy
// response").
func copyExtraHeaders(dst http.Header, headers cachedomain.CachedResponseHeaders) {
	skip := map[string]bool{
		"Content-Type":      true,
		"Content-Length":    true,
		"Accept-Ranges":     true,
		"Content-Range":     true,
		"Connection":        true,
		"Transfer-Encoding": true,
	}
	headers.ForEach(func(name, value string) {
		if skip[name] {
			return
		}
		dst.Set(name, value)
	})
}

// handleHealth is the ambient liveness endpoint (spec §7 supplemented
// behavior).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeStreams": s.manager.ActiveCount(),
	})
}

// handleStatus is the admin status endpoint (spec §7 supplemented
// behavior; spec §5 domain-stack wiring calls out request IDs surfaced
// here for correlation with the request log lines).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"streams":  s.manager.Snapshot(),
		"inflight": s.inflightSnapshot(),
	})
}
