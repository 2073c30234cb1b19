package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
	"github.com/flemzord/strmsync/internal/security"
	"gopkg.in/yaml.v3"
)

// ServiceName is the name the manager is registered under.
const ServiceName = "auth.session"

// File names under the session directory.
const (
	ActiveTokensFile = "user_tokens.json"
	RevocationsFile  = "token_blacklist.json"
	SecretFile       = "session.key"
)

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
)

// Config holds the session module configuration.
type Config struct {
	// Secret signs tokens. Generated and kept in {Dir}/session.key when empty.
	Secret string `yaml:"secret"`

	// TokenTTL is the token lifetime. Defaults to 168h.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// MaxSessions caps the live tokens per user. Defaults to 3.
	MaxSessions int `yaml:"max_sessions"`

	// Dir holds the token stores. Defaults to the data directory.
	Dir string `yaml:"dir"`
}

func (c *Config) defaults() {
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTTL
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.TokenTTL < time.Minute {
		errs = append(errs, fmt.Errorf("session: token_ttl must be at least 1m, got %s", c.TokenTTL))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("session: max_sessions must be positive, got %d", c.MaxSessions))
	}
	return errors.Join(errs...)
}

// Module publishes the session manager.
type Module struct {
	config  Config
	appCtx  *core.AppContext
	manager *Manager
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "auth.session",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("session: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. It loads both token stores and
// the signing secret; the credential store is bound in Start.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx

	dir := m.config.Dir
	if dir == "" {
		dir = ctx.DataDir
	}

	active, err := LoadActiveTokens(filepath.Join(dir, ActiveTokensFile))
	if err != nil {
		return err
	}
	revoked, err := LoadRevocations(filepath.Join(dir, RevocationsFile))
	if err != nil {
		return err
	}

	secret := []byte(m.config.Secret)
	if len(secret) == 0 {
		if secret, err = LoadOrCreateSecret(filepath.Join(dir, SecretFile)); err != nil {
			return err
		}
	}
	if creds, ok := core.ServiceAs[*security.CredentialStore](ctx, security.CredentialsService); ok {
		creds.Set(security.CredSessionSecret, string(secret))
	}

	mt, _ := core.ServiceAs[*metrics.Metrics](ctx, metrics.ServiceName)
	m.manager = NewManager(nil, active, revoked, Options{
		Secret:      secret,
		TTL:         m.config.TokenTTL,
		MaxSessions: m.config.MaxSessions,
		Logger:      ctx.Logger,
		Metrics:     mt,
	})

	ctx.RegisterService(ServiceName, m.manager)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. It binds the credential store and creates
// the administrator on first boot.
func (m *Module) Start() error {
	store, ok := core.ServiceAs[*library.Store](m.appCtx, storeService)
	if !ok {
		return errors.New("session: store.sqlite module is required")
	}
	m.manager.creds = store

	created, err := EnsureAdmin(context.Background(), store, os.Stderr)
	if err != nil {
		return fmt.Errorf("session: create administrator: %w", err)
	}
	if created {
		m.appCtx.Logger.Warn("administrator created with a random password, change it in settings", "user", DefaultAdmin)
	}
	return nil
}

// Manager returns the session manager.
func (m *Module) Manager() *Manager {
	return m.manager
}
