// Package priority implements the process-wide admission control from
// spec §5: whenever active playback count > 0, pre-cache concurrency
// drops to zero — new pre-cache tasks queue, in-flight ones suspend their
// Download Worker — and relaxes back to a small concurrency cap once
// playback count returns to zero. Generalized from the teacher's
// streaming_priority.go band/suspend/resume shape, collapsed from
// torrent-piece priority bands to a binary playback-vs-precache signal.
package priority

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"httpcachestream/internal/metrics"
)

// Suspendable is anything an Admission can pause and resume while
// playback has the floor — a pre-cache download's underlying worker.
type Suspendable interface {
	Suspend()
	Resume()
}

// DefaultPrecacheConcurrency is the concurrency cap restored once active
// playback count returns to zero.
const DefaultPrecacheConcurrency = 2

// Admission is a process-wide, shared controller. One instance is owned
// by the Cache Manager and injected into every Cache Stream.
type Admission struct {
	sem *semaphore.Weighted

	mu            sync.Mutex
	playbackCount int
	gate          chan struct{} // closed while playback count is zero
	registered    map[int]Suspendable
	nextID        int
}

// New builds an Admission with precacheConcurrency slots available
// whenever no playback is active.
func New(precacheConcurrency int64) *Admission {
	if precacheConcurrency <= 0 {
		precacheConcurrency = DefaultPrecacheConcurrency
	}
	a := &Admission{
		sem:        semaphore.NewWeighted(precacheConcurrency),
		gate:       make(chan struct{}),
		registered: make(map[int]Suspendable),
	}
	close(a.gate) // open: no playback yet
	return a
}

// BeginPlayback signals that a playback-driven request is now being
// served. Returns a function to call when that request's Stream Response
// is closed. The first concurrent playback suspends every registered
// pre-cache task and closes the gate; the last one to end reopens it.
func (a *Admission) BeginPlayback() (end func()) {
	a.mu.Lock()
	a.playbackCount++
	if a.playbackCount == 1 {
		a.gate = make(chan struct{})
		for _, s := range a.registered {
			s.Suspend()
			metrics.PrecacheSuspensionsTotal.Inc()
		}
	}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.playbackCount--
			if a.playbackCount == 0 {
				close(a.gate)
				for _, s := range a.registered {
					s.Resume()
				}
			}
			a.mu.Unlock()
		})
	}
}

// AcquirePrecache blocks until a pre-cache concurrency slot is available
// and no playback is active, registering s so a subsequent BeginPlayback
// call can suspend it. Returns a release function.
func (a *Admission) AcquirePrecache(ctx context.Context, s Suspendable) (release func(), err error) {
	for {
		a.mu.Lock()
		gate := a.gate
		a.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if err := a.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}

		a.mu.Lock()
		if a.playbackCount > 0 {
			// Playback started between the gate check and the semaphore
			// acquire; give the slot back and retry.
			a.mu.Unlock()
			a.sem.Release(1)
			continue
		}
		id := a.nextID
		a.nextID++
		a.registered[id] = s
		a.mu.Unlock()

		var once sync.Once
		return func() {
			once.Do(func() {
				a.mu.Lock()
				delete(a.registered, id)
				a.mu.Unlock()
				a.sem.Release(1)
			})
		}, nil
	}
}
