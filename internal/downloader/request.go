package downloader

import "httpcachestream/internal/cachedomain"

// MatchKind is the outcome of matching a pending request against the
// downloader's current position, per spec §4.3 processRequest.
type MatchKind int

const (
	// MatchDefer means the request cannot yet be fulfilled and stays queued.
	MatchDefer MatchKind = iota
	// MatchFileOnly means the requested range is already on disk.
	MatchFileOnly
	// MatchDownloadOnly means the reader should attach directly to the
	// live broadcast at the current stream position.
	MatchDownloadOnly
	// MatchCombined means the reader needs a file segment followed by a
	// live segment, lined up at the hand-over point.
	MatchCombined
	// MatchFailed means the downloader terminated (network error, invalid
	// cache, or Close) while this request was still deferred; Err carries
	// the reason.
	MatchFailed
)

// Request is a pending Stream Request as seen by the downloader: a byte
// range plus bookkeeping needed to decide FileOnly/DownloadOnly/Combined.
type Request struct {
	Range cachedomain.IntRange
}

// Match describes how a Request was (or could be) resolved.
type Match struct {
	Kind MatchKind
	// SubscribeFrom is the absolute offset the live subscription should
	// start from, valid for MatchDownloadOnly and MatchCombined.
	SubscribeFrom int64
	// FileBoundary is the exclusive end of the file-backed segment for a
	// MatchCombined response (equal to SubscribeFrom).
	FileBoundary int64
	// Err is set only for MatchFailed.
	Err error
}
