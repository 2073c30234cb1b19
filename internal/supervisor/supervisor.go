// Package supervisor launches one OS process per sync run, records its pid
// on the directory, observes its exit and stops it on request.
//
// The runtime substate of a directory is only ever changed through
// library.Store.UpdateExtra, so writes made here and by the job process
// itself never overwrite each other.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Failures returned by the supervisor.
var (
	ErrAlreadyRunning = fault.New(fault.Conflict, "sync job is already running")
	ErrInvalidKey     = fault.New(fault.Validation, "invalid directory key")
)

// Store is the part of the library store the supervisor uses.
type Store interface {
	GetDirectory(ctx context.Context, key string) (library.Directory, error)
	DirectoryByPath(ctx context.Context, path string) (library.Directory, error)
	ListDirectories(ctx context.Context) ([]library.Directory, error)
	UpdateExtra(ctx context.Context, key string, fn func(extra *library.Extra) error) (library.Extra, error)
}

// CommandFactory builds the command that runs the sync of key. The
// supervisor sets its output and process attributes.
type CommandFactory func(key string) *exec.Cmd

// Options configures a Supervisor.
type Options struct {
	// LogDir receives one <key>.log file per directory.
	LogDir string

	// Command builds the job process command.
	Command CommandFactory

	// StopSignal is delivered by Stop. Defaults to SIGTERM.
	StopSignal os.Signal

	// StopOnShutdown stops every tracked job in Shutdown.
	StopOnShutdown bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Tracked describes a job process started by this supervisor.
type Tracked struct {
	Key       string    `json:"key"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

type child struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
}

// Supervisor owns the job processes.
type Supervisor struct {
	store      Store
	logDir     string
	command    CommandFactory
	stopSignal os.Signal
	stopAll    bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	children map[string]*child
	wg       sync.WaitGroup
}

// New returns a supervisor over store.
func New(store Store, opts Options) *Supervisor {
	s := &Supervisor{
		store:      store,
		logDir:     opts.LogDir,
		command:    opts.Command,
		stopSignal: opts.StopSignal,
		stopAll:    opts.StopOnShutdown,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("github.com/flemzord/strmsync/internal/supervisor"),
		keyLocks:   make(map[string]*sync.Mutex),
		children:   make(map[string]*child),
	}
	if s.stopSignal == nil {
		s.stopSignal, _ = ParseSignal("")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// keyLock returns the mutex serializing Start and Stop of key.
func (s *Supervisor) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	return l
}

func (s *Supervisor) tracked(key string) (*child, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[key]
	return c, ok
}

// LogPath returns the log file of key.
func (s *Supervisor) LogPath(key string) string {
	return filepath.Join(s.logDir, key+".log")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Start launches the job process of key and records it as running. It
// returns once the process has been spawned.
func (s *Supervisor) Start(ctx context.Context, key string) (err error) {
	ctx, span := s.tracer.Start(ctx, "supervisor.Start", trace.WithAttributes(attribute.String("strmsync.key", key)))
	defer func() { endSpan(span, err) }()

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.store.GetDirectory(ctx, key)
	if err != nil {
		return err
	}
	if dir.Extra.Running() {
		return fmt.Errorf("supervisor: %s (pid %d): %w", key, dir.Extra.PID, ErrAlreadyRunning)
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return fmt.Errorf("supervisor: create log dir: %w", err)
	}
	logFile, err := os.OpenFile(s.LogPath(key), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("supervisor: open log: %w", err)
	}

	cmd := s.command(key)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	startErr := cmd.Start()
	_ = logFile.Close()
	if startErr != nil {
		return fmt.Errorf("supervisor: start %s: %w", key, startErr)
	}

	c := &child{cmd: cmd, pid: cmd.Process.Pid, startedAt: time.Now(), done: make(chan struct{})}
	span.SetAttributes(attribute.Int("strmsync.pid", c.pid))

	// The child records its own pid as soon as it runs, so that write may
	// land first.
	_, err = s.store.UpdateExtra(context.WithoutCancel(ctx), key, func(extra *library.Extra) error {
		if extra.Running() && extra.PID != c.pid {
			return ErrAlreadyRunning
		}
		extra.PID = c.pid
		extra.Status = library.StatusRunning
		return nil
	})
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		s.release(key, c.pid)
		return fmt.Errorf("supervisor: record pid of %s: %w", key, err)
	}

	s.mu.Lock()
	s.children[key] = c
	s.mu.Unlock()

	s.metrics.JobStarted(metrics.TriggerFrom(ctx))
	s.logger.Info("job started", "key", key, "pid", c.pid, "trigger", metrics.TriggerFrom(ctx))

	s.wg.Add(1)
	go s.observe(key, c)
	return nil
}

// release clears pid from key after a child was killed before it could be
// tracked.
func (s *Supervisor) release(key string, pid int) {
	_, err := s.store.UpdateExtra(context.Background(), key, func(extra *library.Extra) error {
		if extra.PID == pid {
			extra.PID = 0
			extra.Status = library.StatusInterrupted
		}
		return nil
	})
	if err != nil && !fault.Is(err, fault.NotFound) {
		s.logger.Error("killed job not cleared", "key", key, "pid", pid, "error", err)
	}
}

// observe waits for the child to exit and, if the directory still records
// its pid, resets it to idle (clean exit) or interrupted.
func (s *Supervisor) observe(key string, c *child) {
	defer s.wg.Done()
	defer close(c.done)

	waitErr := c.cmd.Wait()
	status := library.StatusIdle
	if waitErr != nil {
		status = library.StatusInterrupted
	}

	s.mu.Lock()
	if s.children[key] == c {
		delete(s.children, key)
	}
	s.mu.Unlock()

	s.metrics.JobExited(status.String())

	_, err := s.store.UpdateExtra(context.Background(), key, func(extra *library.Extra) error {
		if extra.PID == c.pid {
			extra.PID = 0
			extra.Status = status
		}
		return nil
	})
	switch {
	case err == nil, fault.Is(err, fault.NotFound):
	default:
		s.logger.Error("job exit not recorded", "key", key, "pid", c.pid, "error", err)
	}

	s.logger.Info("job exited", "key", key, "pid", c.pid, "status", status.String(), "wait", waitErr)
}

// Stop signals the job process of key. A directory that is not running is
// left alone. The pid is cleared either way; the status is interrupted when
// the signal was delivered and idle when it could not be.
func (s *Supervisor) Stop(ctx context.Context, key string) (err error) {
	ctx, span := s.tracer.Start(ctx, "supervisor.Stop", trace.WithAttributes(attribute.String("strmsync.key", key)))
	defer func() { endSpan(span, err) }()

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.store.GetDirectory(ctx, key)
	if err != nil {
		return err
	}
	if !dir.Extra.Running() {
		return nil
	}
	pid := dir.Extra.PID

	var sigErr error
	if c, ok := s.tracked(key); ok && c.pid == pid {
		sigErr = c.cmd.Process.Signal(s.stopSignal)
	} else {
		sigErr = signalPID(pid, s.stopSignal)
	}

	status := library.StatusInterrupted
	if sigErr != nil {
		status = library.StatusIdle
		s.logger.Warn("stop signal not delivered", "key", key, "pid", pid, "error", sigErr)
	}

	_, err = s.store.UpdateExtra(context.WithoutCancel(ctx), key, func(extra *library.Extra) error {
		extra.PID = 0
		extra.Status = status
		return nil
	})
	if err != nil {
		return fmt.Errorf("supervisor: record stop of %s: %w", key, err)
	}

	s.metrics.JobStopped(status.String())
	s.logger.Info("job stopped", "key", key, "pid", pid, "status", status.String())
	return nil
}

// StartByPath starts the directory whose source path is path.
func (s *Supervisor) StartByPath(ctx context.Context, path string) error {
	dir, err := s.store.DirectoryByPath(ctx, path)
	if err != nil {
		return err
	}
	return s.Start(ctx, dir.Key)
}

// Recover resets directories that record a pid this process does not track
// and that no longer exists. It returns the number of directories reset.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	dirs, err := s.store.ListDirectories(ctx)
	if err != nil {
		return 0, err
	}

	var reset int
	for _, dir := range dirs {
		pid := dir.Extra.PID
		if pid <= 0 {
			continue
		}
		if c, ok := s.tracked(dir.Key); ok && c.pid == pid {
			continue
		}
		if alive(pid) {
			s.logger.Info("job from previous run still alive", "key", dir.Key, "pid", pid)
			continue
		}
		_, err := s.store.UpdateExtra(ctx, dir.Key, func(extra *library.Extra) error {
			if extra.PID == pid {
				extra.PID = 0
				extra.Status = library.StatusInterrupted
			}
			return nil
		})
		if err != nil {
			return reset, fmt.Errorf("supervisor: recover %s: %w", dir.Key, err)
		}
		s.logger.Warn("stale job pid cleared", "key", dir.Key, "pid", pid)
		reset++
	}
	return reset, nil
}

// Tracked returns the job processes started by this supervisor that have
// not exited yet, sorted by key.
func (s *Supervisor) Tracked() []Tracked {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Tracked, 0, len(s.children))
	for key, c := range s.children {
		out = append(out, Tracked{Key: key, PID: c.pid, StartedAt: c.startedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Shutdown stops every tracked job concurrently when configured to, and
// waits for their exits until ctx is done. Otherwise jobs keep running
// detached and are recovered on the next start.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.stopAll {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.Tracked() {
		g.Go(func() error {
			return s.Stop(gctx, t.Key)
		})
	}
	stopErr := g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(stopErr, fmt.Errorf("supervisor: waiting for jobs: %w", ctx.Err()))
	}
	return stopErr
}
