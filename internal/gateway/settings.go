package gateway

import (
	"net/http"

	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/security"
	"github.com/flemzord/strmsync/internal/session"
)

type settingsRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramUserID   string `json:"telegram_user_id"`
}

// handleGetSettings returns the settings. The password hash is never
// serialized.
func (g *Gateway) handleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, _, err := g.store.Settings(r.Context())
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		ok(w, "", s)
	}
}

// handleUpdateSettings replaces the credentials and notification settings,
// then sends a test notification when Telegram is configured.
func (g *Gateway) handleUpdateSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if err := security.ReadJSONBody(r.Body, g.config.MaxBodyBytes, &req); err != nil {
			g.failErr(w, r, err)
			return
		}
		if req.Username == "" || req.Password == "" {
			fail(w, http.StatusBadRequest, "username and password must not be empty")
			return
		}

		hash, err := session.HashPassword(req.Password)
		if err != nil {
			g.failErr(w, r, err)
			return
		}
		s := library.Settings{
			Username:         req.Username,
			PasswordHash:     hash,
			TelegramBotToken: req.TelegramBotToken,
			TelegramUserID:   req.TelegramUserID,
		}
		if err := g.store.SaveSettings(r.Context(), s); err != nil {
			g.failErr(w, r, err)
			return
		}
		if g.creds != nil {
			g.creds.Set(security.CredTelegramToken, s.TelegramBotToken)
		}
		g.emit(r, security.AuditEvent{Type: security.EventSettingsChange, Detail: "user " + s.Username})

		if s.NotifyConfigured() && g.notifier != nil {
			if err := g.notifier.Test(r.Context(), s); err != nil {
				g.logger.Warn("settings saved but test notification failed", "error", err)
				fail(w, http.StatusInternalServerError, "saved but notification failed: "+err.Error())
				return
			}
		}
		ok(w, "", s)
	}
}
