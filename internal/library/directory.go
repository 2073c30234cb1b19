package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const directoryColumns = "key, definition, extra"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirectory(row rowScanner) (Directory, error) {
	var (
		dir              Directory
		defRaw, extraRaw string
	)
	if err := row.Scan(&dir.Key, &defRaw, &extraRaw); err != nil {
		return Directory{}, err
	}
	if err := json.Unmarshal([]byte(defRaw), &dir.Definition); err != nil {
		return Directory{}, fmt.Errorf("library: decode definition of %s: %w", dir.Key, err)
	}
	dir.Extra = DefaultExtra()
	if extraRaw != "" {
		if err := json.Unmarshal([]byte(extraRaw), &dir.Extra); err != nil {
			return Directory{}, fmt.Errorf("library: decode extra of %s: %w", dir.Key, err)
		}
	}
	dir.Extra.normalize()
	return dir, nil
}

// withDefaults fills unset definition fields.
func (d *Definition) withDefaults() {
	if d.SyncType == "" {
		d.SyncType = ModeManual
	}
	if d.Type == "" {
		d.Type = TransportLocal
	}
	if d.CopyMetaFile == 0 {
		d.CopyMetaFile = MetaOff
	}
}

func (d Definition) validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalid))
	}
	if d.Path == "" {
		errs = append(errs, fmt.Errorf("%w: path is required", ErrInvalid))
	}
	if !d.SyncType.valid() {
		errs = append(errs, fmt.Errorf("%w: unknown sync_type %q", ErrInvalid, d.SyncType))
	}
	if !d.Type.valid() {
		errs = append(errs, fmt.Errorf("%w: unknown type %q", ErrInvalid, d.Type))
	}
	if d.CopyMetaFile < MetaOff || d.CopyMetaFile > MetaSymlink {
		errs = append(errs, fmt.Errorf("%w: copy_meta_file must be 1, 2 or 3", ErrInvalid))
	}
	if d.CopyDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: copy_delay must not be negative", ErrInvalid))
	}
	return errors.Join(errs...)
}

func marshalDirectory(dir Directory) (def, extra string, err error) {
	defRaw, err := json.Marshal(dir.Definition)
	if err != nil {
		return "", "", fmt.Errorf("library: encode definition: %w", err)
	}
	extraRaw, err := json.Marshal(dir.Extra)
	if err != nil {
		return "", "", fmt.Errorf("library: encode extra: %w", err)
	}
	return string(defRaw), string(extraRaw), nil
}

// ListDirectories returns all directories in insertion order.
func (s *Store) ListDirectories(ctx context.Context) ([]Directory, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+directoryColumns+" FROM directories ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("library: list directories: %w", err)
	}
	defer rows.Close()

	var dirs []Directory
	for rows.Next() {
		dir, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("library: list directories: %w", err)
	}
	return dirs, nil
}

// GetDirectory returns the directory with the given key.
func (s *Store) GetDirectory(ctx context.Context, key string) (Directory, error) {
	return getDirectory(ctx, s.db, "key", key)
}

// DirectoryByPath returns the directory whose source path is path.
func (s *Store) DirectoryByPath(ctx context.Context, path string) (Directory, error) {
	return getDirectory(ctx, s.db, "path", path)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDirectory(ctx context.Context, q querier, column, value string) (Directory, error) {
	row := q.QueryRowContext(ctx, "SELECT "+directoryColumns+" FROM directories WHERE "+column+" = ?", value)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Directory{}, fmt.Errorf("library: %s %q: %w", column, value, ErrDirNotFound)
	}
	if err != nil {
		return Directory{}, fmt.Errorf("library: get directory: %w", err)
	}
	return dir, nil
}

// AddDirectory validates and stores a new directory, assigning its key from
// the path when blank and seeding a fresh runtime substate. Reconcilers are
// notified after the commit.
func (s *Store) AddDirectory(ctx context.Context, dir Directory) (Directory, error) {
	dir.withDefaults()
	if err := dir.validate(); err != nil {
		return Directory{}, err
	}
	if dir.Key == "" {
		dir.Key = DeriveKey(dir.Path)
	} else if !ValidKey(dir.Key) {
		return Directory{}, fmt.Errorf("%w: key %q has invalid characters", ErrInvalid, dir.Key)
	}
	dir.Extra = DefaultExtra()

	if err := s.check(dir); err != nil {
		return Directory{}, err
	}

	def, extra, err := marshalDirectory(dir)
	if err != nil {
		return Directory{}, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflicts(ctx, tx, "", dir.Path, dir.Name); err != nil {
			return err
		}
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM directories WHERE key = ?", dir.Key).Scan(&exists); err != nil {
			return fmt.Errorf("library: check key: %w", err)
		}
		if exists > 0 {
			return ErrDuplicateKey
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO directories (key, name, path, account_key, definition, extra) VALUES (?, ?, ?, ?, ?, ?)",
			dir.Key, dir.Name, dir.Path, dir.AccountKey, def, extra,
		)
		if err != nil {
			return fmt.Errorf("library: insert directory: %w", err)
		}
		return nil
	})
	if err != nil {
		return Directory{}, err
	}

	s.reconcile(dir)
	return dir, nil
}

// conflicts reports a duplicate path or name among directories other than
// exceptKey. A path conflict takes precedence.
func conflicts(ctx context.Context, tx *sql.Tx, exceptKey, path, name string) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT name, path FROM directories WHERE key <> ? AND (path = ? OR name = ?)",
		exceptKey, path, name,
	)
	if err != nil {
		return fmt.Errorf("library: check duplicates: %w", err)
	}
	defer rows.Close()

	var dupName bool
	for rows.Next() {
		var n, p string
		if err := rows.Scan(&n, &p); err != nil {
			return fmt.Errorf("library: check duplicates: %w", err)
		}
		if p == path {
			return ErrDuplicatePath
		}
		if n == name {
			dupName = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("library: check duplicates: %w", err)
	}
	if dupName {
		return ErrDuplicateName
	}
	return nil
}

// UpdateDirectory applies patch to the definition of key. The runtime
// substate is never modified here. Reconcilers are notified after the commit.
func (s *Store) UpdateDirectory(ctx context.Context, key string, patch DirectoryPatch) (Directory, error) {
	var updated Directory
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		dir, err := getDirectory(ctx, tx, "key", key)
		if err != nil {
			return err
		}
		patch.Apply(&dir.Definition)
		dir.withDefaults()
		if err := dir.validate(); err != nil {
			return err
		}
		if err := s.check(dir); err != nil {
			return err
		}
		if err := conflicts(ctx, tx, key, dir.Path, dir.Name); err != nil {
			return err
		}
		def, _, err := marshalDirectory(dir)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE directories SET name = ?, path = ?, account_key = ?, definition = ? WHERE key = ?",
			dir.Name, dir.Path, dir.AccountKey, def, key,
		)
		if err != nil {
			return fmt.Errorf("library: update directory: %w", err)
		}
		updated = dir
		return nil
	})
	if err != nil {
		return Directory{}, err
	}

	s.reconcile(updated)
	return updated, nil
}

// DeleteDirectory removes key. Deleting an unknown key succeeds. Reconcilers
// are told to forget the key.
func (s *Store) DeleteDirectory(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM directories WHERE key = ?", key); err != nil {
		return fmt.Errorf("library: delete directory: %w", err)
	}
	s.forget(key)
	return nil
}

// SaveExtra overwrites the runtime substate of key.
func (s *Store) SaveExtra(ctx context.Context, key string, extra Extra) error {
	extra.normalize()
	raw, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("library: encode extra: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE directories SET extra = ? WHERE key = ?", string(raw), key)
	if err != nil {
		return fmt.Errorf("library: save extra: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("library: key %q: %w", key, ErrDirNotFound)
	}
	return nil
}

// UpdateExtra runs fn on the current runtime substate of key inside a
// transaction and stores the result. If fn returns an error nothing is
// written and the error is returned unchanged.
func (s *Store) UpdateExtra(ctx context.Context, key string, fn func(extra *Extra) error) (Extra, error) {
	var result Extra
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		dir, err := getDirectory(ctx, tx, "key", key)
		if err != nil {
			return err
		}
		extra := dir.Extra
		if err := fn(&extra); err != nil {
			return err
		}
		extra.normalize()
		raw, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("library: encode extra: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE directories SET extra = ? WHERE key = ?", string(raw), key); err != nil {
			return fmt.Errorf("library: save extra: %w", err)
		}
		result = extra
		return nil
	})
	return result, err
}

// MarkRunFinished stamps the run time and counters of a finished run.
func (s *Store) MarkRunFinished(ctx context.Context, key string, pid int, status Status, counters RunCounters) error {
	_, err := s.UpdateExtra(ctx, key, func(extra *Extra) error {
		extra.LastSyncAt = FormatTime(s.now())
		extra.LastSyncResult = counters
		if extra.PID == pid {
			extra.PID = 0
			extra.Status = status
		}
		return nil
	})
	return err
}
