package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
}

func (e *entry) isBlocked() bool { return !e.blockedUntil.IsZero() }

// MemoryLimiter keeps entries in a process-local map.  It is safe for
// concurrent use.  Entries that are never checked again are removed by
// Sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	policy  Policy
	now     func() time.Time
}

// NewMemoryLimiter returns a limiter enforcing p.  A nil clock means
// time.Now.
func NewMemoryLimiter(p Policy, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		policy:  p.normalized(),
		now:     now,
	}
}

// Policy returns the effective policy.
func (l *MemoryLimiter) Policy() Policy { return l.policy }

func (l *MemoryLimiter) Check(_ context.Context, id string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[id]
	if !ok {
		return allowed(l.policy.MaxAttempts), nil
	}
	if e.isBlocked() {
		if now.Before(e.blockedUntil) {
			return blocked(e.blockedUntil, now), nil
		}
		delete(l.entries, id)
		return allowed(l.policy.MaxAttempts), nil
	}
	if now.Sub(e.windowStart) > l.policy.Window {
		delete(l.entries, id)
		return allowed(l.policy.MaxAttempts), nil
	}
	if e.failures >= l.policy.MaxAttempts {
		e.blockedUntil = now.Add(l.policy.Block)
		return blocked(e.blockedUntil, now), nil
	}
	return allowed(l.policy.MaxAttempts - e.failures), nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[id]
	switch {
	case !ok:
		l.entries[id] = &entry{failures: 1, windowStart: now}
	case e.isBlocked() && now.Before(e.blockedUntil):
		// counting resumes once the block has lapsed
	case e.isBlocked() || now.Sub(e.windowStart) > l.policy.Window:
		l.entries[id] = &entry{failures: 1, windowStart: now}
	default:
		e.failures++
	}
	return nil
}

func (l *MemoryLimiter) Clear(_ context.Context, id string) error {
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()
	return nil
}

// Sweep drops entries whose window or block has lapsed and returns how
// many were removed.  An active block is never lifted by a sweep.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, e := range l.entries {
		var stale bool
		if e.isBlocked() {
			stale = !now.Before(e.blockedUntil)
		} else {
			stale = now.Sub(e.windowStart) > l.policy.Window
		}
		if stale {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
