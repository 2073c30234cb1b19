package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/flemzord/strmsync/internal/library"
)

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// ErrNotConfigured is returned by Test when token or chat id is missing.
var ErrNotConfigured = errors.New("telegram: bot token and user id are required")

// SettingsSource provides the current global settings.
type SettingsSource interface {
	Settings(ctx context.Context) (library.Settings, bool, error)
}

// Notifier sends run summaries to the configured Telegram chat. Token and
// chat id are read from the settings on every send.
type Notifier struct {
	settings SettingsSource
	apiURL   string
	http     *http.Client
	logger   *slog.Logger
}

// NewNotifier returns a Notifier. settings may be nil until SetSettings.
func NewNotifier(settings SettingsSource, apiURL string, httpClient *http.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{settings: settings, apiURL: apiURL, http: httpClient, logger: logger}
}

// SetSettings sets the settings source.
func (n *Notifier) SetSettings(s SettingsSource) {
	n.settings = s
}

// Notify sends text when notifications are configured and is a no-op
// otherwise.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.settings == nil {
		return nil
	}
	s, ok, err := n.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("telegram: load settings: %w", err)
	}
	if !ok || !s.NotifyConfigured() {
		n.logger.Debug("telegram: notifications not configured, skipping")
		return nil
	}
	return n.send(ctx, s, text)
}

// Test sends a test message with s, which need not be saved yet.
func (n *Notifier) Test(ctx context.Context, s library.Settings) error {
	if !s.NotifyConfigured() {
		return ErrNotConfigured
	}
	return n.send(ctx, s, "strmsync: Telegram notifications are working.")
}

func (n *Notifier) send(ctx context.Context, s library.Settings, text string) error {
	if !tokenPattern.MatchString(s.TelegramBotToken) {
		return errors.New("telegram: bot token format invalid (expected <bot_id>:<hash>)")
	}
	c := NewClient(s.TelegramBotToken, n.apiURL, n.http)
	_, err := c.SendMessage(ctx, SendMessageRequest{
		ChatID:                s.TelegramUserID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	return err
}
