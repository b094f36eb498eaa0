package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/facility-membership/internal/obs"
)

// Scheduler is the subset of *cron.Cron the sweeper needs.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Start()
	Stop() context.Context
}

// Sweeper periodically evicts stale entries from a MemoryLimiter.
type Sweeper struct {
	limiter *MemoryLimiter
	sched   Scheduler
	log     *zap.Logger
}

// NewSweeper registers a sweep every interval on sched.  A nil sched gets a
// fresh cron.Cron.
func NewSweeper(l *MemoryLimiter, sched Scheduler, every time.Duration, log *zap.Logger) (*Sweeper, error) {
	if sched == nil {
		sched = cron.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if every <= 0 {
		every = l.Policy().SweepEvery
	}
	s := &Sweeper{limiter: l, sched: sched, log: log}
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", every), s.Run); err != nil {
		return nil, fmt.Errorf("schedule limiter sweep: %w", err)
	}
	return s, nil
}

// Run performs a single sweep.
func (s *Sweeper) Run() {
	removed := s.limiter.Sweep()
	remaining := s.limiter.Len()
	obs.LimiterEntries.Set(float64(remaining))
	s.log.Debug("login limiter swept",
		zap.Int("removed", removed),
		zap.Int("remaining", remaining),
	)
}

func (s *Sweeper) Start() { s.sched.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.sched.Stop().Done()
}
