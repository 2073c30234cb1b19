// Package schedule keeps the in-process scheduler in step with the stored
// sync directories: every directory in scheduled mode owns exactly one cron
// entry, and a firing entry asks the supervisor to start a run.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/strmsync/internal/cron"
	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
)

// ErrInvalidSchedule is returned for a directory whose cron_str does not
// parse.
var ErrInvalidSchedule = fault.New(fault.Validation, "invalid cron expression")

// Starter launches a run for a directory. The job supervisor implements it.
type Starter interface {
	Start(ctx context.Context, key string) error
}

// Entry is the schedule of one directory.
type Entry struct {
	Key  string    `json:"key"`
	Expr string    `json:"expr"`
	Next time.Time `json:"next"`
}

const jobPrefix = "lib:"

// Compile-time interface guards.
var (
	_ library.Reconciler = (*Registrar)(nil)
	_ library.Checker    = (*Registrar)(nil)
)

// Registrar maps directory keys to scheduler entries.
type Registrar struct {
	sched  *cron.Scheduler
	logger *slog.Logger

	mu      sync.Mutex
	exprs   map[string]string
	starter Starter
}

// NewRegistrar returns a registrar that places entries on sched.
func NewRegistrar(sched *cron.Scheduler, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		sched:  sched,
		logger: logger,
		exprs:  make(map[string]string),
	}
}

// SetStarter sets the target of firing entries. Entries that fire before a
// starter is set are dropped with a warning.
func (r *Registrar) SetStarter(s Starter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starter = s
}

func wantsEntry(dir library.Directory) bool {
	return dir.SyncType == library.ModeScheduled && strings.TrimSpace(dir.CronStr) != ""
}

// Check implements library.Checker.
func (r *Registrar) Check(dir library.Directory) error {
	if !wantsEntry(dir) {
		return nil
	}
	if _, err := cron.Parse(strings.TrimSpace(dir.CronStr)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSchedule, dir.CronStr)
	}
	return nil
}

// Reconcile implements library.Reconciler. A scheduled directory ends up
// with exactly one entry using its current expression; any other directory
// ends up with none. Calling it again with the same directory is a no-op.
func (r *Registrar) Reconcile(dir library.Directory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.exprs[dir.Key]
	if !wantsEntry(dir) {
		if exists {
			r.removeLocked(dir.Key)
		}
		return nil
	}

	expr := strings.TrimSpace(dir.CronStr)
	if exists && current == expr && r.sched.Has(jobPrefix+dir.Key) {
		return nil
	}
	if exists {
		r.removeLocked(dir.Key)
	}

	job := &directoryJob{key: dir.Key, expr: expr, registrar: r}
	if err := r.sched.RegisterJob(job); err != nil {
		return fmt.Errorf("schedule: %s: %w: %v", dir.Key, ErrInvalidSchedule, err)
	}
	r.exprs[dir.Key] = expr
	r.logger.Info("schedule: entry set", "key", dir.Key, "expr", expr)
	return nil
}

// Forget implements library.Reconciler.
func (r *Registrar) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exprs[key]; ok {
		r.removeLocked(key)
	}
}

func (r *Registrar) removeLocked(key string) {
	r.sched.Remove(jobPrefix + key)
	delete(r.exprs, key)
	r.logger.Info("schedule: entry removed", "key", key)
}

// ReconcileAll rebuilds the table from dirs and drops entries for keys not
// in dirs. Errors for individual directories are logged.
func (r *Registrar) ReconcileAll(dirs []library.Directory) {
	seen := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		seen[dir.Key] = struct{}{}
		if err := r.Reconcile(dir); err != nil {
			r.logger.Error("schedule: reconcile failed", "key", dir.Key, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.exprs {
		if _, ok := seen[key]; !ok {
			r.removeLocked(key)
		}
	}
}

// Entries returns the directory schedules sorted by key.
func (r *Registrar) Entries() []Entry {
	var out []Entry
	for _, e := range r.sched.Entries() {
		key, ok := strings.CutPrefix(e.Name, jobPrefix)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: key, Expr: e.Schedule, Next: e.Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registrar) fire(ctx context.Context, key string) error {
	r.mu.Lock()
	starter := r.starter
	r.mu.Unlock()

	if starter == nil {
		r.logger.Warn("schedule: no supervisor, skipping run", "key", key)
		return nil
	}

	err := starter.Start(metrics.WithTrigger(ctx, metrics.TriggerCron), key)
	switch {
	case err == nil:
		r.logger.Info("schedule: run started", "key", key)
		return nil
	case fault.Is(err, fault.Conflict):
		r.logger.Info("schedule: run already in progress", "key", key)
		return nil
	default:
		return fmt.Errorf("schedule: start %s: %w", key, err)
	}
}

// directoryJob is the scheduler entry of one directory.
type directoryJob struct {
	key       string
	expr      string
	registrar *Registrar
}

func (j *directoryJob) Name() string     { return jobPrefix + j.key }
func (j *directoryJob) Schedule() string { return j.expr }
func (j *directoryJob) Run(ctx context.Context) error {
	return j.registrar.fire(ctx, j.key)
}
