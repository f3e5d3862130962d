package guard

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Limiter enforces a sliding-window message cap per sender.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &Limiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records one message for sender if it fits inside the window
// and reports whether it was admitted.
func (l *Limiter) Allow(sender string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(sender, now)
	if len(kept) >= l.limit {
		return false
	}

	l.hits[sender] = append(kept, now)
	return true
}

// Remaining reports how many messages sender may still send in the
// current window.
func (l *Limiter) Remaining(sender string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(sender, time.Now())
	if n := l.limit - len(kept); n > 0 {
		return n
	}
	return 0
}

// Reset clears the window for one sender.
func (l *Limiter) Reset(sender string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.hits, sender)
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (l *Limiter) prune(sender string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)

	window := l.hits[sender]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) == 0 {
		delete(l.hits, sender)
		return nil
	}

	l.hits[sender] = kept
	return kept
}
