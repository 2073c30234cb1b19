// Package telegram sends run notifications through the Telegram Bot API.
// Bot token and chat id are global settings, so edits apply to the next
// message without a restart.
//
// No external Telegram library is used; the module talks to the Bot API via
// net/http and encoding/json.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/security"
	"gopkg.in/yaml.v3"
)

// ServiceName is the name the notifier is registered under.
const ServiceName = "notify.telegram"

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

// Config holds the notifier configuration.
type Config struct {
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.APIURL == "" {
		c.APIURL = "https://api.telegram.org"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("telegram: api_url must be a valid http/https URL, got %q", c.APIURL)
	}
	return nil
}

// Module provides the Telegram notifier.
type Module struct {
	config   Config
	appCtx   *core.AppContext
	notifier *Notifier
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "notify.telegram",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.config.defaults()
	m.notifier = NewNotifier(nil, m.config.APIURL, &http.Client{Timeout: m.config.Timeout}, ctx.Logger)
	ctx.RegisterService(ServiceName, m.notifier)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter.
func (m *Module) Start() error {
	store, ok := core.ServiceAs[*library.Store](m.appCtx, storeService)
	if !ok {
		return fmt.Errorf("telegram: store.sqlite module is required")
	}
	m.notifier.SetSettings(store)

	// Keep the bot token out of logs from the start.
	if creds, ok := core.ServiceAs[*security.CredentialStore](m.appCtx, security.CredentialsService); ok {
		s, found, err := store.Settings(context.Background())
		if err != nil {
			return fmt.Errorf("telegram: read settings: %w", err)
		}
		if found {
			creds.Set(security.CredTelegramToken, s.TelegramBotToken)
		}
	}
	return nil
}

// Notifier returns the module's notifier.
func (m *Module) Notifier() *Notifier {
	return m.notifier
}
