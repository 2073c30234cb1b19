package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flemzord/strmsync/internal/library"
)

// Store is the part of the library store a run needs.
type Store interface {
	GetDirectory(ctx context.Context, key string) (library.Directory, error)
	UpdateExtra(ctx context.Context, key string, fn func(extra *library.Extra) error) (library.Extra, error)
	MarkRunFinished(ctx context.Context, key string, pid int, status library.Status, counters library.RunCounters) error
}

// Notifier delivers a run summary. Implementations decide themselves
// whether they are configured.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Runner executes one sync run in the current process.
type Runner struct {
	Store    Store
	Notifier Notifier
	Logger   *slog.Logger

	// PID is recorded as the directory's pid. Defaults to os.Getpid().
	PID int

	// Syncers picks the syncer for a directory. Defaults to SyncerFor.
	Syncers func(dir library.Directory, logger *slog.Logger) (Syncer, error)
}

// Run syncs the directory key. Cancelling ctx interrupts the run; the
// counters gathered so far are still stored and the status is recorded as
// interrupted.
func (r *Runner) Run(ctx context.Context, key string) (library.RunCounters, error) {
	ctx, span := otel.Tracer("github.com/flemzord/strmsync/internal/job").Start(ctx, "job.run")
	span.SetAttributes(attribute.String("directory.key", key))
	defer span.End()

	logger := r.logger().With("key", key)
	pid := r.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	dir, err := r.Store.GetDirectory(ctx, key)
	if err != nil {
		return library.RunCounters{}, fmt.Errorf("job: load %s: %w", key, err)
	}

	if _, err := r.Store.UpdateExtra(ctx, key, func(extra *library.Extra) error {
		extra.PID = pid
		extra.Status = library.StatusRunning
		return nil
	}); err != nil {
		return library.RunCounters{}, fmt.Errorf("job: mark %s running: %w", key, err)
	}
	logger.Info("sync started", "name", dir.Name, "pid", pid, "source", dir.SourceDir(), "target", dir.StrmRootPath)

	syncers := r.Syncers
	if syncers == nil {
		syncers = SyncerFor
	}

	var counters library.RunCounters
	syncer, err := syncers(dir, logger)
	if err == nil {
		counters, err = syncer.Sync(ctx, dir)
	}

	status := library.StatusIdle
	if ctx.Err() != nil {
		status = library.StatusInterrupted
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sync failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	// The run context may be cancelled by now; the final state must still
	// reach the store.
	finishCtx := context.WithoutCancel(ctx)
	if markErr := r.Store.MarkRunFinished(finishCtx, key, pid, status, counters); markErr != nil {
		logger.Error("failed to record run result", "error", markErr)
		err = errors.Join(err, markErr)
	}
	logger.Info("sync finished",
		"status", status.String(),
		"strm", counters.Strm,
		"meta", counters.Meta,
		"delete", counters.Delete,
	)

	if r.Notifier != nil {
		if nerr := r.Notifier.Notify(finishCtx, Summary(dir, status, counters, err)); nerr != nil {
			logger.Warn("notification failed", "error", nerr)
		}
	}
	return counters, err
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Summary renders the notification text of a finished run.
func Summary(dir library.Directory, status library.Status, c library.RunCounters, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "strmsync: %s %s\n", dir.Name, statusWord(status, err))
	fmt.Fprintf(&b, "strm: %d created, %d failed\n", c.Strm[0], c.Strm[1])
	fmt.Fprintf(&b, "meta: %d synced, %d failed\n", c.Meta[0], c.Meta[1])
	fmt.Fprintf(&b, "delete: %d removed, %d failed", c.Delete[0], c.Delete[1])
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(&b, "\nerror: %v", err)
	}
	return b.String()
}

func statusWord(status library.Status, err error) string {
	switch {
	case status == library.StatusInterrupted:
		return "interrupted"
	case err != nil:
		return "failed"
	default:
		return "finished"
	}
}
