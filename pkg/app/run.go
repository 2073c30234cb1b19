// Package app provides the entry points shared by the strmsync commands:
// the long-running service and the per-directory job process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/strmsync/internal/config"
	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/reload"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/supervisor"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// LogOutput receives the text log. Defaults to os.Stderr.
	LogOutput io.Writer
}

// Run loads configuration, starts all modules, and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives; both stop the modules in reverse
// order and return nil. SIGHUP and file-change events re-apply the
// configuration to modules that implement core.Reloader.
func Run(ctx context.Context, params RunParams) error {
	cfgPath, cfg, err := loadConfig(params.ConfigPath)
	if err != nil {
		return err
	}
	sec := cfg.SecurityOrDefault()

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("app: create data dir: %w", err)
	}

	env := newEnvironment(params.LogOutput, params.LogLevel)
	logger := env.logger

	auditLogger, closeAudit, err := openAuditLog(dataDir, sec.AuditLog, env.redactor)
	if err != nil {
		return err
	}
	defer closeAudit()

	appCtx := env.appContext(dataDir, cfg)
	appCtx.RegisterService(security.AuditService, auditLogger)
	appCtx.RegisterService(security.RateLimiterService, security.NewRateLimiter(security.RateLimitConfig{
		LoginPerMin: sec.RateLimit.LoginPerMin,
		APIPerMin:   sec.RateLimit.APIPerMin,
	}))
	appCtx.RegisterService(supervisor.ConfigPathService, cfgPath)
	appCtx.RegisterService(metrics.ServiceName, metrics.New())

	application := core.NewApp(appCtx)
	ids := OrderModules(config.Resolve(cfg))
	if err := application.LoadModules(ids); err != nil {
		return err
	}
	handler := reload.NewHandler(application, logger, dataDir)

	if err := application.Start(); err != nil {
		return err
	}
	logger.Info("strmsync started",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"data_dir", dataDir,
		"modules", len(ids),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()

	// A nil channel never fires, so polling stays off unless configured.
	var changes <-chan reload.Event
	if sec.ReloadPoll > 0 {
		watcher := reload.NewWatcher(reload.WatcherConfig{
			ConfigPath:   cfgPath,
			PollInterval: sec.ReloadPoll,
		})
		watcher.Start(watchCtx)
		defer watcher.Stop()
		changes = watcher.Events()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		case evt := <-changes:
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// CheckConfig loads and validates the configuration at path and provisions
// every module without starting it. It returns the module IDs in start order.
func CheckConfig(path, dataDir string, out io.Writer) ([]string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	env := newEnvironment(out, slog.LevelWarn)
	appCtx := env.appContext(dataDir, cfg)
	appCtx.RegisterService(supervisor.ConfigPathService, path)

	application := core.NewApp(appCtx)
	ids := OrderModules(config.Resolve(cfg))
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}
	application.Stop()
	return ids, nil
}

// loadConfig resolves, loads and validates the configuration.
func loadConfig(path string) (string, *config.Config, error) {
	if path == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return "", nil, err
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return "", nil, err
	}
	return path, cfg, nil
}

// environment holds the process-wide security foundation every module
// discovers through the app context.
type environment struct {
	logger   *slog.Logger
	creds    *security.CredentialStore
	redactor *security.Redactor
}

func newEnvironment(out io.Writer, level slog.Level) *environment {
	if out == nil {
		out = os.Stderr
	}
	creds := security.NewCredentialStore()
	redactor := security.NewRedactor()
	creds.AttachRedactor(redactor)

	inner := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return &environment{
		logger:   slog.New(security.NewRedactingHandler(inner, redactor)),
		creds:    creds,
		redactor: redactor,
	}
}

func (e *environment) appContext(dataDir string, cfg *config.Config) *core.AppContext {
	appCtx := core.NewAppContext(e.logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.CredentialsService, e.creds)
	appCtx.RegisterService(security.RedactorService, e.redactor)
	return appCtx
}

// openAuditLog opens the JSONL audit file. path "-" disables it and an
// empty path means {dataDir}/audit.log.
func openAuditLog(dataDir, path string, redactor *security.Redactor) (*security.AuditLogger, func(), error) {
	if path == "-" {
		return security.NewAuditLogger(security.AuditLoggerConfig{Redactor: redactor}), func() {}, nil
	}
	if path == "" {
		path = filepath.Join(dataDir, "audit.log")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open audit log: %w", err)
	}
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   f,
		Redactor: redactor,
	})
	return logger, func() { _ = f.Close() }, nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/strmsync/strmsync.yaml, then
// ~/.config/strmsync/strmsync.yaml, then ./strmsync.yaml.
func ResolveConfigPath() (string, error) {
	candidates := configCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultConfigPath is where `strmsync init` writes a new configuration.
func DefaultConfigPath() string {
	return configCandidates()[0]
}

func configCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "strmsync", "strmsync.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "strmsync", "strmsync.yaml"))
	}
	return append(candidates, "strmsync.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/strmsync if set, otherwise ~/.local/share/strmsync.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "strmsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "strmsync")
}

// errNoStore is returned by RunJob when the configuration has no store.
var errNoStore = errors.New("app: store.sqlite module is required to run a job")
