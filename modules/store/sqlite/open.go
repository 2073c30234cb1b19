package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/strmsync/internal/library"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// dsn builds a connection string that applies the pragmas on every
// connection and starts write transactions with BEGIN IMMEDIATE, so two
// processes updating the same row serialize instead of failing on upgrade.
func dsn(path string, cfg Config) string {
	journal := "DELETE"
	if cfg.walEnabled() {
		journal = "WAL"
	}
	return fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=journal_mode(%s)"+
			"&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, journal, cfg.BusyTimeout,
	)
}

// Open opens the database at cfg.Path and returns a migrated store backed
// by it. The caller is responsible for closing the returned *sql.DB.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*library.Store, *sql.DB, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg.Path, cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// SQLite handles one writer at a time; a single connection keeps the
	// in-process writers queued in database/sql instead of on the file lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping %s: %w", cfg.Path, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	store, err := library.New(ctx, db, library.WithLogger(logger))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
