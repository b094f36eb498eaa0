// Package ratelimit tracks failed login attempts per client and blocks a
// client once it exhausts its attempts inside a sliding window.
//
// An entry moves through three states: absent, counting failures inside a
// window, and blocked until a fixed instant.  Check is the only operation
// that turns a full window into a block; RecordFailure only counts.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute
	DefaultBlock       = 30 * time.Minute
	DefaultSweepEvery  = time.Hour
)

// Policy configures a limiter.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
	SweepEvery  time.Duration
}

// DefaultPolicy returns 5 attempts per 15 minutes with a 30 minute block.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Window:      DefaultWindow,
		Block:       DefaultBlock,
		SweepEvery:  DefaultSweepEvery,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.Block <= 0 {
		p.Block = DefaultBlock
	}
	if p.SweepEvery <= 0 {
		p.SweepEvery = DefaultSweepEvery
	}
	return p
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// Remaining is the number of failures the client may still record
	// before the next Check blocks it.  Zero when blocked.
	Remaining int
	// BlockedUntil is set only when Allowed is false.
	BlockedUntil time.Time
	// RetryAfter is the time left on the block.
	RetryAfter time.Duration
}

// RetryAfterMinutes rounds the remaining block time up to whole minutes.
func (d Decision) RetryAfterMinutes() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Minutes()))
}

// Limiter is implemented by the in-memory and Redis backends.
type Limiter interface {
	// Check reports whether id may attempt a login.  A check on an entry
	// that has reached MaxAttempts inside its window starts the block.
	Check(ctx context.Context, id string) (Decision, error)
	// RecordFailure counts one failed attempt for id.  It never changes
	// an active block.
	RecordFailure(ctx context.Context, id string) error
	// Clear forgets id entirely.
	Clear(ctx context.Context, id string) error
}

func allowed(remaining int) Decision {
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

func blocked(until, now time.Time) Decision {
	return Decision{Allowed: false, BlockedUntil: until, RetryAfter: until.Sub(now)}
}
