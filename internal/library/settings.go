package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Settings returns the stored settings. ok is false before the first save.
func (s *Store) Settings(ctx context.Context) (settings Settings, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT username, password_hash, telegram_bot_token, telegram_user_id FROM settings WHERE id = 1",
	).Scan(&settings.Username, &settings.PasswordHash, &settings.TelegramBotToken, &settings.TelegramUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("library: read settings: %w", err)
	}
	return settings, true, nil
}

// SaveSettings replaces the stored settings.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	if settings.Username == "" || settings.PasswordHash == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, username, password_hash, telegram_bot_token, telegram_user_id)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password_hash = excluded.password_hash,
			telegram_bot_token = excluded.telegram_bot_token,
			telegram_user_id = excluded.telegram_user_id`,
		settings.Username, settings.PasswordHash, settings.TelegramBotToken, settings.TelegramUserID,
	)
	if err != nil {
		return fmt.Errorf("library: save settings: %w", err)
	}
	return nil
}
