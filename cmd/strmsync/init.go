package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"text/template"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/strmsync/internal/session"
	"github.com/flemzord/strmsync/modules/store/sqlite"
	"github.com/flemzord/strmsync/pkg/app"
	"github.com/spf13/cobra"
)

// initOptions are the answers collected by `strmsync init`.
type initOptions struct {
	Bind       string
	BrowseRoot string
	Username   string
	Password   string
	Schedule   bool
	Watch      bool
}

var configTmpl = template.Must(template.New("config").Parse(`version: "1"

modules:
  store.sqlite: {}
  auth.session: {}
  job.supervisor: {}
{{- if .Schedule}}
  scheduler.cron: {}
{{- end}}
{{- if .Watch}}
  watch.fsnotify: {}
{{- end}}
  notify.telegram: {}
  gateway.http:
    bind: {{printf "%q" .Bind}}
{{- if .BrowseRoot}}
    browse_root: {{printf "%q" .BrowseRoot}}
{{- end}}

security:
  rate_limit:
    login_per_min: 10
  reload_poll: 5s
`))

// renderConfig writes the configuration file for opts.
func renderConfig(w io.Writer, opts initOptions) error {
	return configTmpl.Execute(w, opts)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file and the administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, dataDir, _ := globalFlags(cmd)
			if cfgPath == "" {
				cfgPath = app.DefaultConfigPath()
			}
			if dataDir == "" {
				dataDir = app.DefaultDataDir()
			}
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfgPath)
			}

			opts := initOptions{
				Bind:     "127.0.0.1:11566",
				Username: session.DefaultAdmin,
				Schedule: true,
			}
			if err := askInit(&opts); err != nil {
				return err
			}

			if err := writeConfig(cfgPath, opts); err != nil {
				return err
			}
			if err := saveAdmin(cmd.Context(), dataDir, opts.Username, opts.Password); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nAdministrator %q saved in %s\n", cfgPath, opts.Username, dataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

func askInit(opts *initOptions) error {
	var confirm string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("host:port of the web API").
				Value(&opts.Bind).
				Validate(func(s string) error {
					_, err := net.ResolveTCPAddr("tcp", s)
					return err
				}),
			huh.NewInput().
				Title("Browse root").
				Description("Directory tree the directory picker may list (empty for /)").
				Value(&opts.BrowseRoot),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Administrator").
				Value(&opts.Username).
				Validate(nonEmpty("username")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&opts.Password).
				Validate(nonEmpty("password")),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&confirm).
				Validate(func(s string) error {
					if s != opts.Password {
						return errors.New("passwords do not match")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable scheduled syncs?").
				Value(&opts.Schedule),
			huh.NewConfirm().
				Title("Enable watch mode?").
				Description("Sync local directories when files change").
				Value(&opts.Watch),
		),
	)
	return form.Run()
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func writeConfig(path string, opts initOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("init: create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("init: open config: %w", err)
	}
	if err := renderConfig(f, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("init: write config: %w", err)
	}
	return f.Close()
}

// saveAdmin stores the administrator credentials in the database under
// dataDir, keeping any notification settings already there.
func saveAdmin(ctx context.Context, dataDir, username, password string) error {
	store, db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(dataDir, sqlite.DefaultDBFile)}, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	settings, _, err := store.Settings(ctx)
	if err != nil {
		return err
	}
	hash, err := session.HashPassword(password)
	if err != nil {
		return err
	}
	settings.Username = username
	settings.PasswordHash = hash
	return store.SaveSettings(ctx, settings)
}
