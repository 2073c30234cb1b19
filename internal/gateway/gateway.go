// Package gateway serves the HTTP API: login, sync directory and account
// management, job control, log streaming, settings and the MCP endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/schedule"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/supervisor"
	"gopkg.in/yaml.v3"
)

// Service names resolved at Start.
const (
	storeService    = "library.store"
	sessionService  = "auth.session"
	watchService    = "watch.manager"
	notifierService = "notify.telegram"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Sessions authenticates the administrator. *session.Manager implements it.
type Sessions interface {
	Issue(ctx context.Context, username, password string) (string, error)
	Verify(token string) (string, error)
	Revoke(token string) error
}

// Jobs controls sync runs. *supervisor.Supervisor implements it.
type Jobs interface {
	Start(ctx context.Context, key string) error
	Stop(ctx context.Context, key string) error
	ReadLog(key string) (string, error)
	TailLog(key string, offset int64) ([]byte, int64, error)
	Tracked() []supervisor.Tracked
}

// Schedules lists the scheduled directories. *schedule.Registrar implements it.
type Schedules interface {
	Entries() []schedule.Entry
}

// Watches lists the watched directories. *watch.Watcher implements it.
type Watches interface {
	Keys() []string
}

// NotifyTester sends a test notification with the given settings.
type NotifyTester interface {
	Test(ctx context.Context, s library.Settings) error
}

// Gateway is the HTTP gateway module. Nothing depends on it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// Resolved lazily at Start() via the service registry.
	store     *library.Store
	sessions  Sessions
	jobs      Jobs
	schedules Schedules
	watches   Watches
	notifier  NotifyTester
	metrics   *metrics.Metrics
	audit     *security.AuditLogger
	limiter   *security.RateLimiter
	creds     *security.CredentialStore
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.validate()
}

// Start implements core.Starter. It resolves dependencies from the service
// registry and starts the HTTP server.
func (g *Gateway) Start() error {
	if err := g.bind(); err != nil {
		return err
	}
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

func (g *Gateway) bind() error {
	var ok bool
	if g.store, ok = core.ServiceAs[*library.Store](g.appCtx, storeService); !ok {
		return errors.New("gateway: store.sqlite module is required")
	}
	if g.sessions, ok = core.ServiceAs[Sessions](g.appCtx, sessionService); !ok {
		return errors.New("gateway: auth.session module is required")
	}
	if g.jobs, ok = core.ServiceAs[Jobs](g.appCtx, supervisor.ServiceName); !ok {
		return errors.New("gateway: job.supervisor module is required")
	}

	// Optional services.
	g.schedules, _ = core.ServiceAs[Schedules](g.appCtx, schedule.ServiceName)
	g.watches, _ = core.ServiceAs[Watches](g.appCtx, watchService)
	g.notifier, _ = core.ServiceAs[NotifyTester](g.appCtx, notifierService)
	g.metrics, _ = core.ServiceAs[*metrics.Metrics](g.appCtx, metrics.ServiceName)
	g.audit, _ = core.ServiceAs[*security.AuditLogger](g.appCtx, security.AuditService)
	g.limiter, _ = core.ServiceAs[*security.RateLimiter](g.appCtx, security.RateLimiterService)
	g.creds, _ = core.ServiceAs[*security.CredentialStore](g.appCtx, security.CredentialsService)
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
