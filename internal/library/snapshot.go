package library

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
)

// Snapshot is a portable copy of all directories and accounts, keyed the
// same way as in the store.
type Snapshot struct {
	Libs     map[string]Directory `json:"libs"`
	Accounts map[string]Account   `json:"accounts"`
}

// Export returns a snapshot of the store.
func (s *Store) Export(ctx context.Context) (Snapshot, error) {
	dirs, err := s.ListDirectories(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Libs:     make(map[string]Directory, len(dirs)),
		Accounts: make(map[string]Account, len(accounts)),
	}
	for _, d := range dirs {
		snap.Libs[d.Key] = d
	}
	for _, a := range accounts {
		snap.Accounts[a.Key] = a
	}
	return snap, nil
}

// Import writes every record of snap, replacing records with the same key,
// in one transaction. A directory whose path or name belongs to another
// directory, in the store or in snap, fails the whole import. Runtime
// substate is imported as-is except that a missing substate is defaulted.
func (s *Store) Import(ctx context.Context, snap Snapshot) error {
	dirs := make([]Directory, 0, len(snap.Libs))
	paths := make(map[string]string, len(snap.Libs))
	names := make(map[string]string, len(snap.Libs))
	for _, key := range slices.Sorted(maps.Keys(snap.Libs)) {
		d := snap.Libs[key]
		if d.Key == "" {
			d.Key = key
		}
		d.withDefaults()
		if err := d.validate(); err != nil {
			return fmt.Errorf("library: import %s: %w", d.Key, err)
		}
		if !ValidKey(d.Key) {
			return fmt.Errorf("library: import %s: %w: invalid key", d.Key, ErrInvalid)
		}
		if other, ok := paths[d.Path]; ok {
			return fmt.Errorf("library: import %s: %w (%s)", d.Key, ErrDuplicatePath, other)
		}
		if other, ok := names[d.Name]; ok {
			return fmt.Errorf("library: import %s: %w (%s)", d.Key, ErrDuplicateName, other)
		}
		paths[d.Path] = d.Key
		names[d.Name] = d.Key
		d.Extra.normalize()
		dirs = append(dirs, d)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range dirs {
			if err := conflicts(ctx, tx, d.Key, d.Path, d.Name); err != nil {
				return fmt.Errorf("library: import %s: %w", d.Key, err)
			}
			def, extra, err := marshalDirectory(d)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO directories (key, name, path, account_key, definition, extra) VALUES (?, ?, ?, ?, ?, ?)",
				d.Key, d.Name, d.Path, d.AccountKey, def, extra,
			)
			if err != nil {
				return fmt.Errorf("library: import directory %s: %w", d.Key, err)
			}
		}
		for key, a := range snap.Accounts {
			if a.Key == "" {
				a.Key = key
			}
			_, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO accounts ("+accountColumns+") VALUES (?, ?, ?, ?, ?, ?)",
				a.Key, a.Name, a.Cookie, a.Status, a.CreatedAt, a.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("library: import account %s: %w", a.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range dirs {
		s.reconcile(d)
	}
	return nil
}
