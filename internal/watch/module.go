package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/library"
	"gopkg.in/yaml.v3"
)

// ServiceName is the name the watcher is registered under.
const ServiceName = "watch.manager"

const (
	storeService      = "library.store"
	supervisorService = "job.supervisor"
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
	_ core.Reloader     = (*Module)(nil)
)

// Config holds the watch module configuration.
type Config struct {
	// Debounce is the quiet period before a run starts. Defaults to 10s.
	Debounce time.Duration `yaml:"debounce"`
}

// Module watches the source trees of directories in watch mode.
type Module struct {
	config  Config
	appCtx  *core.AppContext
	watcher *Watcher
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "watch.fsnotify",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("watch: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.watcher = New(m.config.Debounce, ctx.Logger)
	ctx.RegisterService(ServiceName, m.watcher)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Debounce < 0 {
		return errors.New("watch: debounce must not be negative")
	}
	return nil
}

// Reload implements core.Reloader. Only the debounce delay is applied.
func (m *Module) Reload(ctx *core.AppContext) error {
	var cfg Config
	if node, ok := ctx.ModuleConfig("watch.fsnotify"); ok {
		if err := node.Decode(&cfg); err != nil {
			return fmt.Errorf("watch: decode config: %w", err)
		}
	}
	if cfg.Debounce < 0 {
		return errors.New("watch: debounce must not be negative")
	}
	m.config = cfg
	m.watcher.SetDelay(cfg.Debounce)
	ctx.Logger.Info("watch debounce updated", "debounce", m.watcher.Delay())
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	store, ok := core.ServiceAs[*library.Store](m.appCtx, storeService)
	if !ok {
		return errors.New("watch: store.sqlite module is required")
	}
	if starter, ok := core.ServiceAs[Starter](m.appCtx, supervisorService); ok {
		m.watcher.SetStarter(starter)
	} else {
		m.appCtx.Logger.Warn("watch: job supervisor not loaded, watched changes are ignored")
	}

	store.AddReconciler(m.watcher)

	dirs, err := store.ListDirectories(context.Background())
	if err != nil {
		return fmt.Errorf("watch: load directories: %w", err)
	}
	m.watcher.ReconcileAll(dirs)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	m.watcher.Close()
	return nil
}

// Watcher returns the module's watcher.
func (m *Module) Watcher() *Watcher {
	return m.watcher
}
