package cachedomain

import (
	"strings"
	"testing"
)

func TestDeriveCacheFilesSanitizesSegments(t *testing.T) {
	files := DeriveCacheFiles("/cache", "https://example.com/shows/Épisode One?.mp4")
	if !strings.HasPrefix(files.Complete, "/cache/example.com/") {
		t.Fatalf("expected host-rooted path, got %s", files.Complete)
	}
	if strings.ContainsAny(files.Complete, " ?É") {
		t.Fatalf("expected unsafe characters stripped, got %s", files.Complete)
	}
	if files.Partial != files.Complete+".part" {
		t.Fatalf("expected partial suffix, got %s", files.Partial)
	}
	if files.Metadata != files.Complete+".metadata" {
		t.Fatalf("expected metadata suffix, got %s", files.Metadata)
	}
}

func TestDeriveCacheFilesAppendsCacheExtensionWhenMissing(t *testing.T) {
	files := DeriveCacheFiles("/cache", "https://example.com/stream/live")
	if !strings.HasSuffix(files.Complete, ".cache") {
		t.Fatalf("expected .cache extension appended, got %s", files.Complete)
	}
}

func TestDeriveCacheFilesFallsBackOnUnparsableURL(t *testing.T) {
	files := DeriveCacheFiles("/cache", "::not a url::")
	if !strings.HasPrefix(files.Complete, "/cache/") {
		t.Fatalf("expected cache-dir-rooted fallback, got %s", files.Complete)
	}
	if len(files.Complete) != len("/cache/")+40+len(".cache") {
		t.Fatalf("expected sha1 fallback name with .cache extension, got %s", files.Complete)
	}
}

func TestFallbackNamePreservesSimpleExtension(t *testing.T) {
	name := fallbackName("https://example.com/video.mp4")
	if !strings.HasSuffix(name, ".mp4") {
		t.Fatalf("expected .mp4 extension preserved, got %s", name)
	}
}
