package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// bucketRegistry hands out one FIFO lock per rate-limit bucket. Entries are
// reference counted and dropped once nobody waits on, holds, or has a
// pending deferred release for them.
type bucketRegistry struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry

	// afterFunc schedules deferred releases; replaced in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

type bucketEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newBucketRegistry() *bucketRegistry {
	return &bucketRegistry{
		entries:   make(map[string]*bucketEntry),
		afterFunc: time.AfterFunc,
	}
}

// acquire blocks until the lock for key is held or ctx is done.
func (r *bucketRegistry) acquire(ctx context.Context, key string) (*bucketLock, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &bucketEntry{sem: semaphore.NewWeighted(1)}
		r.entries[key] = e
	}
	e.refs++
	r.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		r.unref(key, e)
		return nil, err
	}
	return &bucketLock{registry: r, key: key, entry: e}, nil
}

func (r *bucketRegistry) unref(key string, e *bucketEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && r.entries[key] == e {
		delete(r.entries, key)
	}
}

func (r *bucketRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// bucketLock is a held bucket. release unlocks it right away unless
// deferUntil pushed the unlock into the future.
type bucketLock struct {
	registry *bucketRegistry
	key      string
	entry    *bucketEntry

	mu       sync.Mutex
	until    time.Time
	released bool
}

// deferUntil keeps the bucket locked until t once release is called.
// The latest deadline wins.
func (l *bucketLock) deferUntil(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.until) {
		l.until = t
	}
}

// release returns the deferred delay, zero when the unlock happened now.
func (l *bucketLock) release(now time.Time) time.Duration {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return 0
	}
	l.released = true
	wait := l.until.Sub(now)
	l.mu.Unlock()

	if wait <= 0 {
		l.unlock()
		return 0
	}
	l.registry.afterFunc(wait, l.unlock)
	return wait
}

func (l *bucketLock) unlock() {
	l.entry.sem.Release(1)
	l.registry.unref(l.key, l.entry)
}
