package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/security"
	"gopkg.in/yaml.v3"
)

// ServiceName is the name the supervisor is registered under.
const ServiceName = "job.supervisor"

// ConfigPathService is the service holding the path of the loaded
// configuration file, passed on to job processes.
const ConfigPathService = "config.path"

const storeService = "library.store"

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

// Config holds the supervisor module configuration.
type Config struct {
	// LogDir holds the job logs. Defaults to {DataDir}/logs.
	LogDir string `yaml:"log_dir"`

	// StopSignal is delivered to stop a job. Defaults to SIGTERM.
	StopSignal string `yaml:"stop_signal"`

	// StopJobsOnShutdown stops running jobs when the daemon exits instead
	// of leaving them to finish detached.
	StopJobsOnShutdown bool `yaml:"stop_jobs_on_shutdown"`

	// Executable is the binary run for each job. Defaults to the running
	// executable.
	Executable string `yaml:"executable"`
}

// Module publishes the supervisor.
type Module struct {
	config Config
	appCtx *core.AppContext
	sup    *Supervisor
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "job.supervisor",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("supervisor: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. The store is bound in Start.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx

	if m.config.LogDir == "" {
		m.config.LogDir = filepath.Join(ctx.DataDir, "logs")
	}
	if m.config.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("supervisor: resolve executable: %w", err)
		}
		m.config.Executable = exe
	}
	sig, err := ParseSignal(m.config.StopSignal)
	if err != nil {
		return err
	}

	configPath, _ := core.ServiceAs[string](ctx, ConfigPathService)
	command := JobCommand(m.config.Executable, configPath, ctx.DataDir)
	if creds, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialsService); ok {
		command = withEnv(command, func() []string { return security.SanitizedEnv(creds) })
	}
	m.sup = New(nil, Options{
		LogDir:         m.config.LogDir,
		Command:        command,
		StopSignal:     sig,
		StopOnShutdown: m.config.StopJobsOnShutdown,
		Logger:         ctx.Logger,
	})
	if mt, ok := core.ServiceAs[*metrics.Metrics](ctx, metrics.ServiceName); ok {
		m.sup.metrics = mt
	}

	ctx.RegisterService(ServiceName, m.sup)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if _, err := ParseSignal(m.config.StopSignal); err != nil {
		return err
	}
	return nil
}

// Start implements core.Starter. It binds the store and clears pids left
// behind by jobs that died while the daemon was down.
func (m *Module) Start() error {
	store, ok := core.ServiceAs[*library.Store](m.appCtx, storeService)
	if !ok {
		return errors.New("supervisor: store.sqlite module is required")
	}
	m.sup.store = store

	n, err := m.sup.Recover(context.Background())
	if err != nil {
		return err
	}
	if n > 0 {
		m.appCtx.Logger.Info("recovered stale jobs", "count", n)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.sup.Shutdown(ctx)
}

// Supervisor returns the supervisor.
func (m *Module) Supervisor() *Supervisor {
	return m.sup
}

// JobCommand returns a factory running `<exe> job run <key>` with the given
// configuration file and data directory.
func JobCommand(exe, configPath, dataDir string) CommandFactory {
	return func(key string) *exec.Cmd {
		args := []string{"job", "run"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if dataDir != "" {
			args = append(args, "--data-dir", dataDir)
		}
		args = append(args, key)
		return exec.Command(exe, args...) //nolint:gosec // exe is the daemon binary
	}
}

// withEnv sets the environment of every command built by f.
func withEnv(f CommandFactory, env func() []string) CommandFactory {
	return func(key string) *exec.Cmd {
		cmd := f(key)
		cmd.Env = env()
		return cmd
	}
}
