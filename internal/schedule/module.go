package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/cron"
	"github.com/flemzord/strmsync/internal/library"
	"gopkg.in/yaml.v3"
)

// Service names published by the module.
const (
	ServiceName          = "schedule.registrar"
	SchedulerServiceName = "cron.scheduler"
)

// Service names the module resolves at Start.
const (
	storeService      = "library.store"
	supervisorService = "job.supervisor"
	sessionService    = "auth.session"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the scheduler module configuration.
type Config struct {
	// SessionSweep is the schedule of the session sweep. Defaults to hourly.
	SessionSweep string `yaml:"session_sweep"`
}

// Module runs the cron scheduler and the directory registrar.
type Module struct {
	config    Config
	appCtx    *core.AppContext
	sched     *cron.Scheduler
	registrar *Registrar
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "scheduler.cron",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("schedule: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.sched = cron.NewScheduler(ctx.Logger)
	m.registrar = NewRegistrar(m.sched, ctx.Logger)

	ctx.RegisterService(ServiceName, m.registrar)
	ctx.RegisterService(SchedulerServiceName, m.sched)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.SessionSweep == "" {
		return nil
	}
	if _, err := cron.Parse(m.config.SessionSweep); err != nil {
		return fmt.Errorf("schedule: session_sweep: %w", err)
	}
	return nil
}

// Start implements core.Starter. It subscribes the registrar to the store,
// rebuilds the entry table from the stored directories and starts ticking.
func (m *Module) Start() error {
	store, ok := core.ServiceAs[*library.Store](m.appCtx, storeService)
	if !ok {
		return errors.New("schedule: store.sqlite module is required")
	}

	if starter, ok := core.ServiceAs[Starter](m.appCtx, supervisorService); ok {
		m.registrar.SetStarter(starter)
	} else {
		m.appCtx.Logger.Warn("schedule: job supervisor not loaded, scheduled runs are disabled")
	}

	if sweeper, ok := core.ServiceAs[cron.Sweeper](m.appCtx, sessionService); ok {
		if err := m.sched.RegisterJob(&cron.SessionSweepJob{
			Sessions:     sweeper,
			Logger:       m.appCtx.Logger,
			ScheduleExpr: m.config.SessionSweep,
		}); err != nil {
			return err
		}
	}

	store.AddReconciler(m.registrar)

	dirs, err := store.ListDirectories(context.Background())
	if err != nil {
		return fmt.Errorf("schedule: load directories: %w", err)
	}
	m.registrar.ReconcileAll(dirs)

	return m.sched.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.sched.Stop(ctx)
}

// Registrar returns the directory registrar.
func (m *Module) Registrar() *Registrar {
	return m.registrar
}
