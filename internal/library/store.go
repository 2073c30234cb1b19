// Package library stores sync directories, cloud accounts and global
// settings. Every read goes to the database, so changes made by job
// processes are visible immediately, and every write runs in a transaction.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Reconciler is notified after a directory is written or deleted.
// Schedulers and watchers implement it to follow the stored desired state.
type Reconciler interface {
	Reconcile(dir Directory) error
	Forget(key string)
}

// Checker is optionally implemented by a Reconciler that can reject a
// definition before it is persisted (for example an invalid schedule).
type Checker interface {
	Check(dir Directory) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for reconciliation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the durable store for directories, accounts and settings.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	reconcilers []Reconciler
}

// New migrates db and returns a Store backed by it. The caller owns db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := migrate(ctx, db); err != nil {
		return nil, err
	}
	return s, nil
}

// AddReconciler registers r for directory change notifications.
func (s *Store) AddReconciler(r Reconciler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcilers = append(s.reconcilers, r)
}

func (s *Store) snapshotReconcilers() []Reconciler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Reconciler(nil), s.reconcilers...)
}

// check runs every Checker against dir.
func (s *Store) check(dir Directory) error {
	var errs []error
	for _, r := range s.snapshotReconcilers() {
		if c, ok := r.(Checker); ok {
			if err := c.Check(dir); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// reconcile notifies reconcilers of a committed write. Failures are logged:
// the write already happened and the next reconciliation will retry.
func (s *Store) reconcile(dir Directory) {
	for _, r := range s.snapshotReconcilers() {
		if err := r.Reconcile(dir); err != nil {
			s.logger.Error("library: reconcile failed", "key", dir.Key, "error", err)
		}
	}
}

func (s *Store) forget(key string) {
	for _, r := range s.snapshotReconcilers() {
		r.Forget(key)
	}
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("library: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("library: commit: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
