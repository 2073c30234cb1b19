package library

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS directories (
		key         TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		path        TEXT NOT NULL UNIQUE,
		account_key TEXT NOT NULL DEFAULT '',
		definition  TEXT NOT NULL,
		extra       TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_directories_account ON directories(account_key)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		key        TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		cookie     TEXT NOT NULL UNIQUE,
		status     INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		id                 INTEGER PRIMARY KEY CHECK (id = 1),
		username           TEXT NOT NULL,
		password_hash      TEXT NOT NULL,
		telegram_bot_token TEXT NOT NULL DEFAULT '',
		telegram_user_id   TEXT NOT NULL DEFAULT ''
	)`,
}

// migrate creates or updates the database schema to the latest version.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("library: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("library: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("library: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("library: record schema version: %w", err)
	}
	return nil
}
