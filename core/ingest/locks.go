package ingest

import (
	"context"
	"sync"
)

// LockPolicy decides what happens when a run wants a slug that another
// run already holds.
type LockPolicy string

const (
	// PolicyReject fails the second run with AlreadyInProgress.
	PolicyReject LockPolicy = "reject"
	// PolicyWait blocks the second run until the first releases the slug.
	PolicyWait LockPolicy = "wait"
)

// SlugLocks is the registry of active per-slug locks. It serializes any
// two runs that would write to the same transcode output directory.
// Scoped to process lifetime; a run never holds more than one slug.
type SlugLocks struct {
	mu     sync.Mutex
	active map[string]chan struct{}
}

// NewSlugLocks creates an empty registry.
func NewSlugLocks() *SlugLocks {
	return &SlugLocks{active: make(map[string]chan struct{})}
}

// Acquire takes the lock for slug according to policy. The returned
// release function must be called exactly once; it is safe to call from
// a deferred cleanup path.
func (l *SlugLocks) Acquire(ctx context.Context, slug string, policy LockPolicy) (func(), error) {
	for {
		l.mu.Lock()
		holder, busy := l.active[slug]
		if !busy {
			done := make(chan struct{})
			l.active[slug] = done
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.active, slug)
					l.mu.Unlock()
					close(done)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		if policy != PolicyWait {
			return nil, errAlreadyInProgress(slug)
		}

		select {
		case <-holder:
			// Holder finished; retry the acquire.
		case <-ctx.Done():
			return nil, errCanceled(ctx.Err())
		}
	}
}

// Held reports whether a run currently holds slug.
func (l *SlugLocks) Held(slug string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[slug]
	return busy
}
