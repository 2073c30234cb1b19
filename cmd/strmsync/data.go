package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flemzord/strmsync/internal/config"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/modules/store/sqlite"
	"github.com/flemzord/strmsync/pkg/app"
	"github.com/spf13/cobra"
)

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Export or import sync directories and accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write a JSON snapshot to file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("data: create %s: %w", args[0], err)
				}
				defer f.Close()
				out = f
			}
			return exportSnapshot(cmd.Context(), store, out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Load a JSON snapshot, replacing records with the same key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("data: open %s: %w", args[0], err)
			}
			defer f.Close()

			store, db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := importSnapshot(cmd.Context(), store, f)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d directories and %d accounts\n", n.dirs, n.accounts)
			return nil
		},
	})
	return cmd
}

func exportSnapshot(ctx context.Context, store *library.Store, w io.Writer) error {
	snap, err := store.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

type importCounts struct {
	dirs, accounts int
}

func importSnapshot(ctx context.Context, store *library.Store, r io.Reader) (importCounts, error) {
	var snap library.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return importCounts{}, fmt.Errorf("data: decode snapshot: %w", err)
	}
	if err := store.Import(ctx, snap); err != nil {
		return importCounts{}, err
	}
	return importCounts{dirs: len(snap.Libs), accounts: len(snap.Accounts)}, nil
}

// openStore opens the database the service uses: the store.sqlite path from
// the configuration when one is found, else the default file under the data
// directory.
func openStore(cmd *cobra.Command) (*library.Store, *sql.DB, error) {
	cfgPath, dataDir, _ := globalFlags(cmd)
	if dataDir == "" {
		dataDir = app.DefaultDataDir()
	}
	cfg := sqlite.Config{Path: filepath.Join(dataDir, sqlite.DefaultDBFile)}

	if cfgPath == "" {
		cfgPath, _ = app.ResolveConfigPath()
	}
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		if node, ok := loaded.Modules["store.sqlite"]; ok {
			var fromFile sqlite.Config
			if err := node.Decode(&fromFile); err != nil {
				return nil, nil, fmt.Errorf("data: decode store.sqlite: %w", err)
			}
			if fromFile.Path == "" {
				fromFile.Path = cfg.Path
			}
			cfg = fromFile
		}
	}
	return sqlite.Open(cmd.Context(), cfg, nil)
}
