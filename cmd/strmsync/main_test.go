package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/kardianos/service"
	"golang.org/x/crypto/bcrypt"

	"github.com/flemzord/strmsync/internal/config"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/modules/store/sqlite"
)

func TestVersionCmd_ListsModules(t *testing.T) {
	t.Parallel()

	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"strmsync dev", "store.sqlite", "gateway.http", "job.supervisor"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("version output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRenderConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    initOptions
		present []string
		absent  []string
	}{
		{
			name:    "defaults",
			opts:    initOptions{Bind: "127.0.0.1:11566", Schedule: true},
			present: []string{"store.sqlite", "scheduler.cron", "gateway.http"},
			absent:  []string{"watch.fsnotify"},
		},
		{
			name:    "watch without schedule",
			opts:    initOptions{Bind: "0.0.0.0:8080", BrowseRoot: "/media", Watch: true},
			present: []string{"watch.fsnotify", "gateway.http"},
			absent:  []string{"scheduler.cron"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "strmsync.yaml")
			if err := writeConfig(path, tt.opts); err != nil {
				t.Fatalf("writeConfig() error = %v", err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if err := config.Validate(cfg); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			ids := config.Resolve(cfg)
			for _, id := range tt.present {
				if !slices.Contains(ids, id) {
					t.Errorf("module %s missing from %v", id, ids)
				}
			}
			for _, id := range tt.absent {
				if slices.Contains(ids, id) {
					t.Errorf("module %s should not be in %v", id, ids)
				}
			}

			var gw struct {
				Bind       string `yaml:"bind"`
				BrowseRoot string `yaml:"browse_root"`
			}
			node := cfg.Modules["gateway.http"]
			if err := node.Decode(&gw); err != nil {
				t.Fatalf("decode gateway: %v", err)
			}
			if gw.Bind != tt.opts.Bind || gw.BrowseRoot != tt.opts.BrowseRoot {
				t.Errorf("gateway = %+v, want bind %q root %q", gw, tt.opts.Bind, tt.opts.BrowseRoot)
			}
		})
	}
}

func TestSaveAdmin_KeepsNotificationSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dataDir := t.TempDir()
	dbPath := filepath.Join(dataDir, sqlite.DefaultDBFile)

	store, db, err := sqlite.Open(ctx, sqlite.Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSettings(ctx, library.Settings{Username: "old", PasswordHash: "x", TelegramBotToken: "tok", TelegramUserID: "42"}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if err := saveAdmin(ctx, dataDir, "root", "s3cret"); err != nil {
		t.Fatalf("saveAdmin() error = %v", err)
	}

	store, db, err = sqlite.Open(ctx, sqlite.Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, ok, err := store.Settings(ctx)
	if err != nil || !ok {
		t.Fatalf("Settings() = %v, %v", ok, err)
	}
	if got.Username != "root" || got.TelegramBotToken != "tok" || got.TelegramUserID != "42" {
		t.Errorf("settings = %+v", got)
	}
	if got.PasswordHash == "s3cret" || got.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(got.PasswordHash), []byte("s3cret")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, srcDB, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "a.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srcDB.Close()

	acct, err := src.AddAccount(ctx, "main", "UID=1")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	if _, err := src.AddDirectory(ctx, library.Directory{Definition: library.Definition{
		Name: "Movies",
		Path: "/media/movies",
	}}); err != nil {
		t.Fatalf("AddDirectory() error = %v", err)
	}

	var buf bytes.Buffer
	if err := exportSnapshot(ctx, src, &buf); err != nil {
		t.Fatalf("exportSnapshot() error = %v", err)
	}

	dst, dstDB, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "b.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dstDB.Close()

	n, err := importSnapshot(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("importSnapshot() error = %v", err)
	}
	if n.dirs != 1 || n.accounts != 1 {
		t.Errorf("counts = %+v, want 1 and 1", n)
	}
	dirs, err := dst.ListDirectories(ctx)
	if err != nil || len(dirs) != 1 || dirs[0].Name != "Movies" {
		t.Errorf("imported directories = %+v, %v", dirs, err)
	}
	if _, err := dst.GetAccount(ctx, acct.Key); err != nil {
		t.Errorf("GetAccount(%s) error = %v", acct.Key, err)
	}
}

func TestImportSnapshot_InvalidJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "x.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := importSnapshot(ctx, store, strings.NewReader("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestDataExportCmd_UsesConfiguredStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "custom.db")
	store, db, err := sqlite.Open(context.Background(), sqlite.Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddDirectory(context.Background(), library.Directory{Definition: library.Definition{
		Name: "Shows",
		Path: "/media/shows",
	}}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	cfgPath := filepath.Join(dir, "strmsync.yaml")
	cfg := "version: \"1\"\nmodules:\n  store.sqlite:\n    path: " + dbPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"data", "export", "--config", cfgPath, "--data-dir", dir})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "/media/shows") {
		t.Errorf("export missing directory:\n%s", out.String())
	}
}

func TestServiceConfig(t *testing.T) {
	t.Parallel()

	cfg, err := serviceConfig("/etc/strmsync.yaml", "/var/lib/strmsync")
	if err != nil {
		t.Fatalf("serviceConfig() error = %v", err)
	}
	want := []string{"service", "run", "--config", "/etc/strmsync.yaml", "--data-dir", "/var/lib/strmsync"}
	if !slices.Equal(cfg.Arguments, want) {
		t.Errorf("Arguments = %v, want %v", cfg.Arguments, want)
	}
	if cfg.Name != "strmsync" {
		t.Errorf("Name = %q", cfg.Name)
	}

	bare, err := serviceConfig("", "")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(bare.Arguments, []string{"service", "run"}) {
		t.Errorf("Arguments = %v", bare.Arguments)
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		st   service.Status
		err  error
		want string
	}{
		{service.StatusRunning, nil, "running"},
		{service.StatusStopped, nil, "stopped"},
		{service.StatusUnknown, nil, "unknown"},
		{service.StatusUnknown, service.ErrNotInstalled, "not installed"},
		{service.StatusUnknown, errors.Join(errors.New("x"), service.ErrNotInstalled), "not installed"},
	}
	for _, tt := range tests {
		if got := statusText(tt.st, tt.err); got != tt.want {
			t.Errorf("statusText(%v, %v) = %q, want %q", tt.st, tt.err, got, tt.want)
		}
	}
}
