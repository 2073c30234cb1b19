package job

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/flemzord/strmsync/internal/library"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func newStore(t *testing.T) *library.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := library.New(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

type syncerFunc func(ctx context.Context, dir library.Directory) (library.RunCounters, error)

func (f syncerFunc) Sync(ctx context.Context, dir library.Directory) (library.RunCounters, error) {
	return f(ctx, dir)
}

func TestRunnerRecordsResult(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	dir, err := store.AddDirectory(context.Background(), localDir(t, library.MetaOff))
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{err: errors.New("telegram down")}
	r := &Runner{Store: store, Notifier: notifier, Logger: slog.Default(), PID: 4242}
	counters, err := r.Run(context.Background(), dir.Key)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counters.Strm != (library.Counter{2, 0}) {
		t.Errorf("strm counters = %v", counters.Strm)
	}

	got, err := store.GetDirectory(context.Background(), dir.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Extra.PID != 0 || got.Extra.Status != library.StatusIdle {
		t.Errorf("extra = %+v, want pid 0 idle", got.Extra)
	}
	if got.Extra.LastSyncAt == "" || got.Extra.LastSyncResult != counters {
		t.Errorf("extra = %+v, want last sync stamped with %+v", got.Extra, counters)
	}

	if len(notifier.texts) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.texts))
	}
	if !strings.Contains(notifier.texts[0], "strm: 2 created, 0 failed") {
		t.Errorf("summary = %q", notifier.texts[0])
	}
}

func TestRunnerMarksRunningWhileSyncing(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	dir, err := store.AddDirectory(context.Background(), localDir(t, library.MetaOff))
	if err != nil {
		t.Fatal(err)
	}

	var during library.Extra
	r := &Runner{
		Store: store,
		PID:   777,
		Syncers: func(library.Directory, *slog.Logger) (Syncer, error) {
			return syncerFunc(func(ctx context.Context, d library.Directory) (library.RunCounters, error) {
				cur, err := store.GetDirectory(ctx, d.Key)
				during = cur.Extra
				return library.RunCounters{}, err
			}), nil
		},
	}
	if _, err := r.Run(context.Background(), dir.Key); err != nil {
		t.Fatal(err)
	}
	if during.PID != 777 || during.Status != library.StatusRunning {
		t.Errorf("extra during run = %+v, want pid 777 running", during)
	}
}

func TestRunnerInterrupted(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	dir, err := store.AddDirectory(context.Background(), localDir(t, library.MetaOff))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		Store: store,
		PID:   99,
		Syncers: func(library.Directory, *slog.Logger) (Syncer, error) {
			return syncerFunc(func(ctx context.Context, _ library.Directory) (library.RunCounters, error) {
				cancel()
				return library.RunCounters{Strm: library.Counter{5, 0}}, ctx.Err()
			}), nil
		},
	}
	if _, err := r.Run(ctx, dir.Key); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	got, err := store.GetDirectory(context.Background(), dir.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Extra.PID != 0 || got.Extra.Status != library.StatusInterrupted {
		t.Errorf("extra = %+v, want pid 0 interrupted", got.Extra)
	}
	if got.Extra.LastSyncResult.Strm != (library.Counter{5, 0}) {
		t.Errorf("partial counters not stored: %+v", got.Extra.LastSyncResult)
	}
}

func TestRunnerStoppedBySupervisor(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	dir, err := store.AddDirectory(context.Background(), localDir(t, library.MetaOff))
	if err != nil {
		t.Fatal(err)
	}

	r := &Runner{
		Store: store,
		PID:   55,
		Syncers: func(library.Directory, *slog.Logger) (Syncer, error) {
			return syncerFunc(func(ctx context.Context, d library.Directory) (library.RunCounters, error) {
				// The supervisor's stop already reset the substate.
				_, err := store.UpdateExtra(ctx, d.Key, func(e *library.Extra) error {
					e.PID = 0
					e.Status = library.StatusInterrupted
					return nil
				})
				return library.RunCounters{}, err
			}), nil
		},
	}
	if _, err := r.Run(context.Background(), dir.Key); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDirectory(context.Background(), dir.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Extra.Status != library.StatusInterrupted {
		t.Errorf("status = %v, want interrupted kept", got.Extra.Status)
	}
}

func TestRunnerUnsupportedTransport(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	def := localDir(t, library.MetaOff)
	def.Type = library.TransportWebDAV
	dir, err := store.AddDirectory(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}

	notifier := &recordingNotifier{}
	r := &Runner{Store: store, Notifier: notifier, PID: 12}
	if _, err := r.Run(context.Background(), dir.Key); !errors.Is(err, ErrUnsupportedTransport) {
		t.Fatalf("Run() error = %v, want unsupported transport", err)
	}
	got, err := store.GetDirectory(context.Background(), dir.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Extra.PID != 0 || got.Extra.Status != library.StatusIdle {
		t.Errorf("extra = %+v, want pid 0 idle", got.Extra)
	}
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "failed") {
		t.Errorf("notifications = %q", notifier.texts)
	}
}

func TestRunnerUnknownKey(t *testing.T) {
	t.Parallel()

	r := &Runner{Store: newStore(t)}
	if _, err := r.Run(context.Background(), "nope"); !errors.Is(err, library.ErrDirNotFound) {
		t.Fatalf("Run() error = %v, want ErrDirNotFound", err)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	dir := library.Directory{Definition: library.Definition{Name: "Movies"}}
	c := library.RunCounters{Strm: library.Counter{3, 1}, Meta: library.Counter{2, 0}, Delete: library.Counter{1, 0}}

	tests := []struct {
		name   string
		status library.Status
		err    error
		want   []string
	}{
		{"finished", library.StatusIdle, nil, []string{"Movies finished", "strm: 3 created, 1 failed", "delete: 1 removed"}},
		{"interrupted", library.StatusInterrupted, context.Canceled, []string{"Movies interrupted"}},
		{"failed", library.StatusIdle, errors.New("disk full"), []string{"Movies failed", "error: disk full"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Summary(dir, tt.status, c, tt.err)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Summary() = %q, missing %q", got, w)
				}
			}
		})
	}
	if got := Summary(dir, library.StatusInterrupted, c, context.Canceled); strings.Contains(got, "error:") {
		t.Errorf("cancelled run should not report an error line: %q", got)
	}
}
