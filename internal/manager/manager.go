// Package manager implements the Cache Manager (spec §4.7): a
// process-wide registry keyed by source URL, deduping concurrent
// createStream calls onto a single Cache Stream instance, owning the
// shared HTTP client (unless one is injected) and the shared priority
// Admission controller every Cache Stream is built with.
//
// The registry itself is a plain mutex-guarded map, not a single-goroutine
// executor like Cache Stream or Cache Downloader — lookups are cheap and
// serialized (spec §5), and the only operation that can block
// (constructing a brand new Cache Stream) is coalesced through a
// singleflight.Group so concurrent first-lookups for the same URL never
// race into two streams, the same dedup idiom as meigma-blob's
// cache/blob.go fetchGroup.
package manager

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"httpcachestream/internal/app"
	"httpcachestream/internal/cachedomain"
	"httpcachestream/internal/cachestream"
	"httpcachestream/internal/metrics"
	"httpcachestream/internal/priority"
)

// cacheDirSamplePeriod is how often the Manager re-measures the cache
// directory's total size for the CacheDirBytes gauge — infrequent because
// it walks the whole tree, unlike the per-request metrics.
const cacheDirSamplePeriod = 30 * time.Second

// Manager is the process-wide Cache Manager singleton. It must be
// constructed once at startup and disposed once at shutdown; using it
// after Close is undefined (spec §5, "forbid use before init").
type Manager struct {
	cacheDir   string
	streamCfg  cachestream.Config
	client     *http.Client
	ownsClient bool
	admission  *priority.Admission
	logger     *slog.Logger

	mu       sync.Mutex
	streams  map[string]*cachestream.CacheStream
	creating singleflight.Group
	closed   bool

	dirSizeStop chan struct{}
}

// New builds a Manager from the loaded app.Config. If client is nil, the
// Manager builds and later closes its own *http.Client's idle
// connections on Close.
func New(cfg app.Config, client *http.Client, logger *slog.Logger) *Manager {
	ownsClient := client == nil
	if ownsClient {
		client = &http.Client{Timeout: 0}
	}
	if logger == nil {
		logger = slog.Default()
	}

	streamCfg := cachestream.Config{
		MaxBufferSize:             cfg.MaxBufferSize,
		MinChunkSize:              cfg.MinChunkSize,
		ReadTimeout:               cfg.ReadTimeout,
		CopyCachedResponseHeaders: cfg.CopyCachedResponseHeaders,
		ValidateOutdatedCache:     cfg.ValidateOutdatedCache,
		SavePartialCache:          cfg.SavePartialCache,
		SaveMetadata:              cfg.SaveMetadata,
		SaveAllHeaders:            cfg.SaveAllHeaders,
	}
	if cfg.RangeRequestSplitThresh >= 0 {
		threshold := cfg.RangeRequestSplitThresh
		streamCfg.RangeRequestSplitThreshold = &threshold
	}

	m := &Manager{
		cacheDir:    cfg.CacheDir,
		streamCfg:   streamCfg,
		client:      client,
		ownsClient:  ownsClient,
		admission:   priority.New(int64(cfg.PrecacheConcurrency)),
		logger:      logger,
		streams:     make(map[string]*cachestream.CacheStream),
		dirSizeStop: make(chan struct{}),
	}
	go m.sampleCacheDirSizeLoop()
	return m
}

// sampleCacheDirSizeLoop periodically re-measures the cache directory's
// total size for the CacheDirBytes gauge, the way startProgressPollLocked
// polls a Cache Stream's progress on a ticker.
func (m *Manager) sampleCacheDirSizeLoop() {
	ticker := time.NewTicker(cacheDirSamplePeriod)
	defer ticker.Stop()
	m.sampleCacheDirSize()
	for {
		select {
		case <-ticker.C:
			m.sampleCacheDirSize()
		case <-m.dirSizeStop:
			return
		}
	}
}

func (m *Manager) sampleCacheDirSize() {
	var total int64
	err := filepath.WalkDir(m.cacheDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("measure cache dir size failed", slog.Any("err", err))
		}
		return
	}
	metrics.CacheDirBytes.Set(float64(total))
}

// removeStream deregisters sourceURL if the registry still points at s.
// The disposal-hook counterpart to the registration done in
// GetOrCreateStream; without it a disposed stream would sit in m.streams
// forever, keeping claimedPaths, ActiveCount and Snapshot reporting it
// as live.
func (m *Manager) removeStream(sourceURL string, s *cachestream.CacheStream) {
	m.mu.Lock()
	if cur, ok := m.streams[sourceURL]; ok && (s == nil || cur == s) {
		delete(m.streams, sourceURL)
	}
	m.mu.Unlock()
	m.updateActiveStreamsMetric()
}

func (m *Manager) updateActiveStreamsMetric() {
	m.mu.Lock()
	n := len(m.streams)
	m.mu.Unlock()
	metrics.ActiveStreams.Set(float64(n))
}

// GetOrCreateStream returns the Cache Stream for sourceURL, creating one
// on first lookup. Every call — hit or miss — retains the returned
// stream; the caller is responsible for an eventual Dispose (spec §3
// Lifecycle: "subsequent lookups return the same instance with retain++").
func (m *Manager) GetOrCreateStream(sourceURL string) (*cachestream.CacheStream, error) {
	for {
		m.mu.Lock()
		closed := m.closed
		existing := m.streams[sourceURL]
		m.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("manager: use after Close")
		}
		if existing == nil {
			break
		}
		if err := existing.Retain(); err != nil {
			// Disposed concurrently between the lookup and the retain;
			// drop the stale entry and fall through to create a fresh
			// one. Its own onDisposed callback will normally have done
			// this already, but Retain can lose the race against it.
			m.removeStream(sourceURL, existing)
			continue
		}
		return existing, nil
	}

	v, err, _ := m.creating.Do(sourceURL, func() (any, error) {
		m.mu.Lock()
		if s := m.streams[sourceURL]; s != nil {
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		files := cachedomain.DeriveCacheFiles(m.cacheDir, sourceURL)
		var s *cachestream.CacheStream
		s = cachestream.New(sourceURL, files, m.streamCfg, m.client, m.admission, false, m.logger, func() {
			m.removeStream(sourceURL, s)
		})

		m.mu.Lock()
		m.streams[sourceURL] = s
		m.mu.Unlock()
		m.updateActiveStreamsMetric()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(*cachestream.CacheStream)

	// Every caller coalesced onto the singleflight call — including the
	// one that actually ran the creator function — needs its own
	// reference; New() hands back a stream with retainCount 0.
	if err := s.Retain(); err != nil {
		return nil, err
	}
	return s, nil
}

// PreCacheUrl builds a dedicated, precache-flagged Cache Stream outside
// the shared registry, awaits a full download, and disposes it (spec
// §4.7: "creates a stream, awaits download(), disposes").
func (m *Manager) PreCacheUrl(ctx context.Context, sourceURL string) (string, error) {
	files := cachedomain.DeriveCacheFiles(m.cacheDir, sourceURL)
	// Built outside the registry, so nothing to remove from m.streams on
	// disposal.
	s := cachestream.New(sourceURL, files, m.streamCfg, m.client, m.admission, true, m.logger, nil)
	if err := s.Retain(); err != nil {
		return "", err
	}
	defer s.Dispose(false)
	return s.Download(ctx)
}

// DeleteCache walks the cache directory and removes files not claimed by
// any live stream. With partialOnly it removes only in-progress .part
// files and orphan .metadata sidecars (metadata whose complete file is
// gone); otherwise it removes every unclaimed file, complete artifacts
// included.
func (m *Manager) DeleteCache(partialOnly bool) error {
	claimed := m.claimedPaths()

	var toRemove []string
	err := filepath.WalkDir(m.cacheDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if claimed[p] {
			return nil
		}
		if partialOnly {
			if strings.HasSuffix(p, ".part") {
				toRemove = append(toRemove, p)
				return nil
			}
			if strings.HasSuffix(p, ".metadata") && isOrphanMetadata(p, claimed) {
				toRemove = append(toRemove, p)
			}
			return nil
		}
		toRemove = append(toRemove, p)
		return nil
	})
	if err != nil {
		return err
	}

	// Remove after the walk completes so a deletion can't perturb
	// WalkDir's own directory traversal.
	var firstErr error
	for _, p := range toRemove {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) && firstErr == nil {
			firstErr = rmErr
		}
	}
	return firstErr
}

func isOrphanMetadata(metadataPath string, claimed map[string]bool) bool {
	completePath := strings.TrimSuffix(metadataPath, ".metadata")
	if claimed[completePath] {
		return false
	}
	_, err := os.Stat(completePath)
	return os.IsNotExist(err)
}

// claimedPaths snapshots every file path owned by a currently-registered
// stream, released before any slow filesystem work runs — mirroring the
// teacher's rule of never holding the registry lock across os.Remove.
func (m *Manager) claimedPaths() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := make(map[string]bool, len(m.streams)*3)
	for _, s := range m.streams {
		files := s.Files()
		claimed[files.Complete] = true
		claimed[files.Partial] = true
		claimed[files.Metadata] = true
	}
	return claimed
}

// ActiveCount reports the number of registered streams, surfaced on the
// liveness endpoint (spec §7 supplemented behavior, "GET /internal/health").
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Snapshot returns every currently-registered source URL, for the admin
// status endpoint (spec §7 supplemented behavior).
func (m *Manager) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make([]string, 0, len(m.streams))
	for url := range m.streams {
		urls = append(urls, url)
	}
	return urls
}

// Close disposes every retained stream and, if the Manager owns its
// *http.Client, closes its idle connections (spec §5, "require dispose
// to close the HTTP client (if owned) and every stream").
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	streams := make([]*cachestream.CacheStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.streams = make(map[string]*cachestream.CacheStream)
	m.mu.Unlock()

	close(m.dirSizeStop)
	metrics.ActiveStreams.Set(0)

	for _, s := range streams {
		s.Dispose(true)
	}
	if m.ownsClient {
		m.client.CloseIdleConnections()
	}
}
