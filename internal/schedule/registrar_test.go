package schedule

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/flemzord/strmsync/internal/cron"
	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"

	_ "modernc.org/sqlite" // SQLite driver registration
)

type fakeStarter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeStarter) Start(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.err
}

func newTestRegistrar(t *testing.T) (*Registrar, *cron.Scheduler) {
	t.Helper()
	sched := cron.NewScheduler(slog.Default())
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	return NewRegistrar(sched, slog.Default()), sched
}

func scheduled(key, expr string) library.Directory {
	return library.Directory{
		Key: key,
		Definition: library.Definition{
			Name:     key,
			Path:     "/" + key,
			SyncType: library.ModeScheduled,
			CronStr:  expr,
		},
	}
}

func TestReconcile_RestoresMissingEntry(t *testing.T) {
	t.Parallel()
	r, sched := newTestRegistrar(t)

	dir := scheduled("a", "0 3 * * *")
	if err := r.Reconcile(dir); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	sched.Remove(jobPrefix + "a")

	if err := r.Reconcile(dir); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !sched.Has(jobPrefix + "a") {
		t.Error("entry not restored")
	}
	if entries := r.Entries(); len(entries) != 1 || entries[0].Key != "a" {
		t.Errorf("entries = %+v, want a", entries)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()
	r, sched := newTestRegistrar(t)

	dir := scheduled("a", "0 3 * * *")
	for range 3 {
		if err := r.Reconcile(dir); err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
	}

	if n := len(sched.Entries()); n != 1 {
		t.Fatalf("scheduler entries = %d, want 1", n)
	}
	entries := r.Entries()
	if len(entries) != 1 || entries[0].Key != "a" || entries[0].Expr != "0 3 * * *" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestReconcile_ReplacesChangedExpression(t *testing.T) {
	t.Parallel()
	r, sched := newTestRegistrar(t)

	_ = r.Reconcile(scheduled("a", "0 3 * * *"))
	if err := r.Reconcile(scheduled("a", "*/10 * * * *")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	entries := sched.Entries()
	if len(entries) != 1 || entries[0].Schedule != "*/10 * * * *" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestReconcile_RemovesWhenNotScheduled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dir  library.Directory
	}{
		{"manual", func() library.Directory {
			d := scheduled("a", "0 3 * * *")
			d.SyncType = library.ModeManual
			return d
		}()},
		{"watch", func() library.Directory {
			d := scheduled("a", "0 3 * * *")
			d.SyncType = library.ModeWatch
			return d
		}()},
		{"blank expression", scheduled("a", "  ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestRegistrar(t)
			_ = r.Reconcile(scheduled("a", "0 3 * * *"))

			if err := r.Reconcile(tt.dir); err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if n := len(r.Entries()); n != 0 {
				t.Errorf("entries = %d, want 0", n)
			}
		})
	}
}

func TestForget(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistrar(t)

	_ = r.Reconcile(scheduled("a", "0 3 * * *"))
	_ = r.Reconcile(scheduled("b", "0 4 * * *"))
	r.Forget("a")
	r.Forget("missing")

	entries := r.Entries()
	if len(entries) != 1 || entries[0].Key != "b" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestReconcileAll_DropsStaleKeys(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistrar(t)

	_ = r.Reconcile(scheduled("old", "0 3 * * *"))
	r.ReconcileAll([]library.Directory{scheduled("a", "0 1 * * *"), scheduled("b", "0 2 * * *")})

	entries := r.Entries()
	if len(entries) != 2 || entries[0].Key != "a" || entries[1].Key != "b" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistrar(t)

	if err := r.Check(scheduled("a", "0 3 * * *")); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	err := r.Check(scheduled("a", "every day"))
	if !errors.Is(err, ErrInvalidSchedule) || !fault.Is(err, fault.Validation) {
		t.Errorf("err = %v, want ErrInvalidSchedule", err)
	}
	manual := scheduled("a", "every day")
	manual.SyncType = library.ModeManual
	if err := r.Check(manual); err != nil {
		t.Errorf("manual directory expression checked: %v", err)
	}
}

func TestFire(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		startErr error
		wantErr  bool
	}{
		{"started", nil, false},
		{"already running", fault.New(fault.Conflict, "already running"), false},
		{"not found", fault.New(fault.NotFound, "gone"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestRegistrar(t)
			starter := &fakeStarter{err: tt.startErr}
			r.SetStarter(starter)

			err := (&directoryJob{key: "a", expr: "* * * * *", registrar: r}).Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(starter.keys) != 1 || starter.keys[0] != "a" {
				t.Errorf("started = %v", starter.keys)
			}
		})
	}
}

func TestFire_NoStarter(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistrar(t)
	if err := r.fire(context.Background(), "a"); err != nil {
		t.Errorf("fire without starter: %v", err)
	}
}

func TestRegistrar_WithStore(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	store, err := library.New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRegistrar(t)
	store.AddReconciler(r)

	bad := scheduled("bad", "not a schedule")
	bad.Key = ""
	if _, err := store.AddDirectory(ctx, bad); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("AddDirectory err = %v, want ErrInvalidSchedule", err)
	}
	if dirs, _ := store.ListDirectories(ctx); len(dirs) != 0 {
		t.Fatal("invalid schedule reached the store")
	}

	good := scheduled("movies", "0 3 * * *")
	good.Key = ""
	dir, err := store.AddDirectory(ctx, good)
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if entries := r.Entries(); len(entries) != 1 || entries[0].Key != dir.Key {
		t.Fatalf("entries = %+v", entries)
	}

	manual := library.ModeManual
	if _, err := store.UpdateDirectory(ctx, dir.Key, library.DirectoryPatch{SyncType: &manual}); err != nil {
		t.Fatalf("UpdateDirectory: %v", err)
	}
	if n := len(r.Entries()); n != 0 {
		t.Errorf("entries after switching to manual = %d", n)
	}

	scheduledMode := library.ModeScheduled
	_, _ = store.UpdateDirectory(ctx, dir.Key, library.DirectoryPatch{SyncType: &scheduledMode})
	if err := store.DeleteDirectory(ctx, dir.Key); err != nil {
		t.Fatal(err)
	}
	if n := len(r.Entries()); n != 0 {
		t.Errorf("entries after delete = %d", n)
	}
}
