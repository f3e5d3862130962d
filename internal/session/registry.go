package session

import (
	"sync"
	"time"
)

// Registry hands out per-key locks. Holding a key's lock serializes
// message handling for that session; different keys never block each
// other. Waiting is bounded, so a caller stuck behind a slow
// generation gets a busy answer instead of queueing.
type Registry struct {
	mu    sync.RWMutex
	locks map[string]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]chan struct{})}
}

func (r *Registry) get(key string) chan struct{} {
	r.mu.RLock()
	ch, ok := r.locks[key]
	r.mu.RUnlock()

	if ok {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok = r.locks[key]; ok {
		return ch
	}

	ch = make(chan struct{}, 1)
	r.locks[key] = ch

	return ch
}

// Acquire takes the lock for key, waiting at most wait. It returns a
// release func and true, or false when the key stayed busy past the
// window.
func (r *Registry) Acquire(key string, wait time.Duration) (func(), bool) {
	ch := r.get(key)

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
	}

	if wait <= 0 {
		return nil, false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	case <-timer.C:
		return nil, false
	}
}

// TryAcquire takes the lock only if it is immediately free.
func (r *Registry) TryAcquire(key string) (func(), bool) {
	return r.Acquire(key, 0)
}
