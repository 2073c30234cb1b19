package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AccountPatch is a partial update of an account.
type AccountPatch struct {
	Name   *string `json:"name,omitempty"`
	Cookie *string `json:"cookie,omitempty"`
}

const accountColumns = "key, name, cookie, status, created_at, updated_at"

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.Key, &a.Name, &a.Cookie, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ListAccounts returns all accounts in insertion order.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("library: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("library: list accounts: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("library: list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns the account with the given key.
func (s *Store) GetAccount(ctx context.Context, key string) (Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE key = ?", key))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("library: account %q: %w", key, ErrAccountNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("library: get account: %w", err)
	}
	return a, nil
}

// AddAccount stores a new account keyed by the hash of its name.
func (s *Store) AddAccount(ctx context.Context, name, cookie string) (Account, error) {
	if name == "" || cookie == "" {
		return Account{}, fmt.Errorf("%w: name and cookie are required", ErrInvalid)
	}
	a := Account{
		Key:       DeriveKey(name),
		Name:      name,
		Cookie:    cookie,
		CreatedAt: FormatTime(s.now()),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := accountConflicts(ctx, tx, "", name, cookie); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO accounts ("+accountColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			a.Key, a.Name, a.Cookie, a.Status, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("library: insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func accountConflicts(ctx context.Context, tx *sql.Tx, exceptKey, name, cookie string) error {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE key <> ? AND (name = ? OR cookie = ?)",
		exceptKey, name, cookie,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("library: check accounts: %w", err)
	}
	if n > 0 {
		return ErrDuplicateAcct
	}
	return nil
}

// UpdateAccount changes the name and/or cookie of key and stamps updated_at.
// The key is not re-derived.
func (s *Store) UpdateAccount(ctx context.Context, key string, patch AccountPatch) (Account, error) {
	var updated Account
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := scanAccount(tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE key = ?", key))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("library: account %q: %w", key, ErrAccountNotFound)
		}
		if err != nil {
			return fmt.Errorf("library: get account: %w", err)
		}
		setIf(&a.Name, patch.Name)
		setIf(&a.Cookie, patch.Cookie)
		if a.Name == "" || a.Cookie == "" {
			return fmt.Errorf("%w: name and cookie are required", ErrInvalid)
		}
		if err := accountConflicts(ctx, tx, key, a.Name, a.Cookie); err != nil {
			return err
		}
		a.UpdatedAt = FormatTime(s.now())
		_, err = tx.ExecContext(ctx,
			"UPDATE accounts SET name = ?, cookie = ?, updated_at = ? WHERE key = ?",
			a.Name, a.Cookie, a.UpdatedAt, key,
		)
		if err != nil {
			return fmt.Errorf("library: update account: %w", err)
		}
		updated = a
		return nil
	})
	return updated, err
}

// DeleteAccount removes key unless a directory references it. Deleting an
// unknown key succeeds.
func (s *Store) DeleteAccount(ctx context.Context, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var refs int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM directories WHERE account_key = ?", key).Scan(&refs); err != nil {
			return fmt.Errorf("library: check account references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("library: account %q: %w", key, ErrAccountInUse)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE key = ?", key); err != nil {
			return fmt.Errorf("library: delete account: %w", err)
		}
		return nil
	})
}
