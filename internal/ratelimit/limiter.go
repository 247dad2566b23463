// Package ratelimit implements a sliding-window request limiter keyed
// by identity (remote address or peer id).
//
// Eviction is lazy: each Allow call first drops timestamps that fell
// out of the trailing window, so the stored sequence is always inside
// the window at the moment of any read. Exceeding the limit is never an
// error — Allow returns false and the caller decides the consequence.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts requests per identity over a trailing window.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time

	now func() time.Time // injectable for tests
}

// New creates a Limiter allowing maxRequests per window per identity.
func New(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow reports whether the identity is under its limit, recording the
// request timestamp when it is.
func (l *Limiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.evictLocked(identifier, now)

	if len(kept) >= l.maxRequests {
		return false
	}

	l.requests[identifier] = append(kept, now)
	return true
}

// Count returns the number of in-window requests for an identity.
func (l *Limiter) Count(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.evictLocked(identifier, l.now()))
}

// Forget drops all state for an identity. Called when a peer is removed
// so the map does not grow with dead ids.
func (l *Limiter) Forget(identifier string) {
	l.mu.Lock()
	delete(l.requests, identifier)
	l.mu.Unlock()
}

// Cleanup evicts expired entries for every identity and drops empty
// ones. Run periodically from the daemon; correctness never depends on
// it, only memory use.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id := range l.requests {
		if kept := l.evictLocked(id, now); len(kept) == 0 {
			delete(l.requests, id)
		}
	}
}

// evictLocked drops out-of-window timestamps for one identity and
// returns what remains. Caller holds l.mu.
func (l *Limiter) evictLocked(identifier string, now time.Time) []time.Time {
	stamps := l.requests[identifier]
	cutoff := now.Add(-l.window)

	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 && stamps != nil {
		delete(l.requests, identifier)
		return nil
	}
	l.requests[identifier] = kept
	return kept
}
