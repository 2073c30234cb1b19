package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/flemzord/strmsync/internal/config"
	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/job"
)

// moduleOrder is the start order of the known modules. Stop runs in reverse,
// so the store outlives every module that reads from it and the gateway
// stops accepting requests first.
var moduleOrder = []string{
	"telemetry.otlp",
	"store.sqlite",
	"notify.telegram",
	"auth.session",
	"job.supervisor",
	"scheduler.cron",
	"watch.fsnotify",
	"gateway.http",
}

// jobModules are the modules a job process loads; everything else belongs
// to the service.
var jobModules = []string{"telemetry.otlp", "store.sqlite", "notify.telegram"}

// OrderModules sorts ids into start order. Unknown IDs keep their relative
// order after the known ones.
func OrderModules(ids []string) []string {
	out := slices.Clone(ids)
	rank := func(id string) int {
		if i := slices.Index(moduleOrder, id); i >= 0 {
			return i
		}
		return len(moduleOrder)
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return rank(a) - rank(b)
	})
	return out
}

// JobParams configures a single job run.
type JobParams struct {
	ConfigPath string
	DataDir    string
	Key        string
	LogLevel   slog.Level

	// LogOutput receives the run log. Defaults to os.Stderr, which the
	// supervisor redirects into the directory's log file.
	LogOutput io.Writer
}

// RunJob performs one sync run for params.Key in the current process and
// returns when it finishes or ctx is cancelled. Only the store, the notifier
// and tracing are loaded from the configuration.
func RunJob(ctx context.Context, params JobParams) error {
	_, cfg, err := loadConfig(params.ConfigPath)
	if err != nil {
		return err
	}
	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	env := newEnvironment(params.LogOutput, params.LogLevel)
	appCtx := env.appContext(dataDir, cfg)

	ids := slices.DeleteFunc(OrderModules(config.Resolve(cfg)), func(id string) bool {
		return !slices.Contains(jobModules, id)
	})
	if !slices.Contains(ids, "store.sqlite") {
		return errNoStore
	}

	application := core.NewApp(appCtx)
	if err := application.LoadModules(ids); err != nil {
		return err
	}
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Stop()

	store, ok := core.ServiceAs[job.Store](appCtx, "library.store")
	if !ok {
		return errNoStore
	}
	notifier, _ := core.ServiceAs[job.Notifier](appCtx, "notify.telegram")

	runner := &job.Runner{
		Store:    store,
		Notifier: notifier,
		Logger:   env.logger.With("component", "job"),
		PID:      os.Getpid(),
	}
	if _, err := runner.Run(ctx, params.Key); err != nil {
		return fmt.Errorf("app: job %s: %w", params.Key, err)
	}
	return nil
}
