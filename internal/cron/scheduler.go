package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for an expression that does not parse as a
// 5-field cron expression.
var ErrInvalidSchedule = errors.New("cron: invalid schedule")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates expr and returns its schedule.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Entry describes a registered job.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
}

type registration struct {
	job  Job
	id   cron.EntryID
	lock *sync.Mutex
}

// Scheduler manages periodic job execution using cron expressions. Jobs can
// be registered and removed at any time, before or after Start. Each job is
// protected by a per-job mutex so a slow run makes the next tick skip
// instead of overlapping (TryLock is atomic, no race).
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*registration
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		jobs:   make(map[string]*registration),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob adds a job to the scheduler. Returns an error if a job with
// the same name is already registered or its schedule does not parse.
func (s *Scheduler) RegisterJob(j Job) error {
	sched, err := Parse(j.Schedule())
	if err != nil {
		return fmt.Errorf("cron: job %q: %w", j.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	reg := &registration{job: j, lock: &sync.Mutex{}}
	reg.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(reg) }))
	s.jobs[name] = reg
	return nil
}

// Remove unregisters the named job. Removing an unknown name is a no-op.
// A run already in progress is not interrupted.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(reg.id)
	delete(s.jobs, name)
	return true
}

// Has reports whether a job with the given name is registered.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Entries returns the registered jobs sorted by name. Next is zero until
// the scheduler is started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.jobs))
	for name, reg := range s.jobs {
		out = append(out, Entry{
			Name:     name,
			Schedule: reg.job.Schedule(),
			Next:     s.cron.Entry(reg.id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(reg *registration) {
	job := reg.job
	// If the previous tick is still running, skip this one.
	if !reg.lock.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick",
			"job", job.Name(),
		)
		return
	}
	defer reg.lock.Unlock()

	s.logger.Debug("cron: job started", "job", job.Name())
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("cron: job failed",
			"job", job.Name(),
			"error", err,
		)
	} else {
		s.logger.Debug("cron: job completed", "job", job.Name())
	}
}

// Start begins executing registered jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop shuts down the scheduler, waiting for in-flight jobs until ctx is
// done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: waiting for running jobs: %w", ctx.Err())
	}
}
