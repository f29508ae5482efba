package cachedomain

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	partialSuffix  = ".part"
	metadataSuffix = ".metadata"

	// maxPathComponent mirrors the spec's 255-byte per-component clamp;
	// most filesystems share this limit regardless of OS.
	maxPathComponent = 255
	// maxTotalPath is a conservative OS-portable clamp on the full
	// derived relative path (directories + filename).
	maxTotalPath = 4096
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// CacheFiles is the immutable triple of paths a Cache Stream owns for the
// life of the stream: the complete artifact, its in-progress partial, and
// the sidecar metadata document. All three share one base path; only the
// suffix differs.
type CacheFiles struct {
	// Complete is the final artifact path; its presence is ground truth
	// that the resource is fully cached.
	Complete string
	// Partial is the append-only in-progress path, renamed to Complete
	// on success.
	Partial string
	// Metadata is the sidecar JSON document path.
	Metadata string
}

// DeriveCacheFiles computes the on-disk triple for a source URL rooted at
// cacheDir, following the naming rule in the external interfaces: sanitized
// host/path segments, extension-preserved, falling back to sha1(url) on any
// derivation failure.
func DeriveCacheFiles(cacheDir string, sourceURL string) CacheFiles {
	base := deriveBasePath(cacheDir, sourceURL)
	return CacheFiles{
		Complete: base,
		Partial:  base + partialSuffix,
		Metadata: base + metadataSuffix,
	}
}

func deriveBasePath(cacheDir, sourceURL string) string {
	rel, ok := deriveRelativePath(sourceURL)
	if !ok || len(cacheDir)+1+len(rel) > maxTotalPath {
		return path.Join(cacheDir, fallbackName(sourceURL))
	}
	return path.Join(cacheDir, rel)
}

func deriveRelativePath(sourceURL string) (string, bool) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	segments := []string{sanitizeComponent(u.Hostname())}
	for _, seg := range strings.Split(u.EscapedPath(), "/") {
		if seg == "" {
			continue
		}
		segments = append(segments, sanitizeComponent(seg))
	}
	if len(segments) == 1 {
		segments = append(segments, "index.cache")
	}
	last := segments[len(segments)-1]
	if path.Ext(last) == "" {
		segments[len(segments)-1] = last + ".cache"
	}
	return path.Join(segments...), true
}

func sanitizeComponent(seg string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(seg, "_")
	if len(cleaned) > maxPathComponent {
		cleaned = cleaned[:maxPathComponent]
	}
	if cleaned == "" {
		cleaned = "_"
	}
	return cleaned
}

// fallbackName is used when the URL can't be parsed into safe path
// segments, or the derived path would exceed OS limits: sha1(url) plus the
// URL's extension when it is short and alphanumeric.
func fallbackName(sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	name := hex.EncodeToString(sum[:])
	ext := path.Ext(sourceURL)
	if isSimpleExtension(ext) {
		return name + ext
	}
	return name + ".cache"
}

func isSimpleExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 21 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
