// Package main is the entry point for the strmsync CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/strmsync/internal/core"
	"github.com/flemzord/strmsync/pkg/app"
	"github.com/spf13/cobra"

	_ "github.com/flemzord/strmsync/internal/gateway"
	_ "github.com/flemzord/strmsync/internal/schedule"
	_ "github.com/flemzord/strmsync/internal/session"
	_ "github.com/flemzord/strmsync/internal/supervisor"
	_ "github.com/flemzord/strmsync/internal/telemetry"
	_ "github.com/flemzord/strmsync/internal/watch"
	_ "github.com/flemzord/strmsync/modules/notify/telegram"
	_ "github.com/flemzord/strmsync/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strmsync",
		Short:         "Keep .strm libraries in sync with local and cloud media",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Persistent data directory")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), jobCmd(), initCmd(), serviceCmd(), dataCmd())
	return root
}

// globalFlags reads the persistent flags shared by every command.
func globalFlags(cmd *cobra.Command) (cfgPath, dataDir string, level slog.Level) {
	cfgPath, _ = cmd.Flags().GetString("config")
	dataDir, _ = cmd.Flags().GetString("data-dir")
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return cfgPath, dataDir, level
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "strmsync %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				_, _ = fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			_, _ = fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				_, _ = fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start strmsync with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, dataDir, level := globalFlags(cmd)
			return app.Run(cmd.Context(), runParams(cfgPath, dataDir, level))
		},
	}
}

func runParams(cfgPath, dataDir string, level slog.Level) app.RunParams {
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		LogLevel:   level,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dataDir, _ := globalFlags(cmd)
			ids, err := app.CheckConfig(args[0], dataDir, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				_, _ = fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "job",
		Short:  "Sync job processes",
		Hidden: true,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <key>",
		Short: "Run one sync for a directory and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, dataDir, level := globalFlags(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return app.RunJob(ctx, app.JobParams{
				ConfigPath: cfgPath,
				DataDir:    dataDir,
				Key:        args[0],
				LogLevel:   level,
			})
		},
	})
	return cmd
}
