package cron

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is the subset of the session manager needed by the sweep job.
// Defined here to avoid a dependency on the session package.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SessionSweepJob drops expired session tokens and revocation buckets that
// have aged past the token lifetime.
type SessionSweepJob struct {
	Sessions     Sweeper
	Logger       *slog.Logger
	Now          func() time.Time // nil = time.Now
	ScheduleExpr string           // empty = default "0 * * * *"
}

// Compile-time interface check.
var _ Job = (*SessionSweepJob)(nil)

// Name implements Job.
func (j *SessionSweepJob) Name() string {
	return "session_sweep"
}

// Schedule implements Job.
func (j *SessionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run sweeps the session stores.
func (j *SessionSweepJob) Run(_ context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	if dropped := j.Sessions.Sweep(now()); dropped > 0 {
		j.Logger.Info("cron: swept session tokens", "count", dropped)
	}
	return nil
}
