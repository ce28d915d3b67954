// Package ratelimit implements fixed-window admission limiting keyed by actor.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// Limiter admits or denies an actor's request against a counting window.
// Implementations must be safe for concurrent use. The in-memory limiter is
// authoritative only for a single process; multi-instance deployments plug in
// a shared-store implementation behind this interface.
type Limiter interface {
	Check(actorID string, limit int, window time.Duration) Decision
}

type window struct {
	count     int
	resetTime time.Time
}

// MemoryLimiter keeps windows in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   ingest.Clock
}

// NewMemoryLimiter builds a MemoryLimiter using the given clock.
func NewMemoryLimiter(clock ingest.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		clock:   clock,
	}
}

// Check counts the call against the actor's current window. A new window
// starts when the stored reset time has elapsed. Once count reaches limit,
// further calls in the window are denied with remaining=0.
func (l *MemoryLimiter) Check(actorID string, limit int, windowDur time.Duration) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[actorID]
	if !ok || !now.Before(w.resetTime) {
		w = &window{resetTime: now.Add(windowDur)}
		l.windows[actorID] = w
	}
	if w.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetTime: w.resetTime}
	}
	w.count++
	return Decision{
		Allowed:   true,
		Remaining: limit - w.count,
		ResetTime: w.resetTime,
	}
}

// Prune drops expired windows. Call periodically to bound memory on
// long-running processes with many distinct actors.
func (l *MemoryLimiter) Prune() {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, w := range l.windows {
		if !now.Before(w.resetTime) {
			delete(l.windows, id)
		}
	}
}
