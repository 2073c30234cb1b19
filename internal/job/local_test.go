package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func localDir(t *testing.T, meta library.MetaMode) library.Directory {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "movie.mkv"), "video")
	writeFile(t, filepath.Join(src, "show", "s01e01.MP4"), "video")
	writeFile(t, filepath.Join(src, "show", "poster.jpg"), "jpeg")
	writeFile(t, filepath.Join(src, "notes.txt"), "ignored")

	return library.Directory{
		Key: "movies",
		Definition: library.Definition{
			Name:         "Movies",
			Path:         src,
			Type:         library.TransportLocal,
			StrmRootPath: filepath.Join(root, "strm"),
			CopyMetaFile: meta,
			StrmExt:      []string{".mkv", "mp4"},
			MetaExt:      []string{".jpg"},
		},
	}
}

func TestLocalSyncWritesStrmFiles(t *testing.T) {
	t.Parallel()

	dir := localDir(t, library.MetaOff)
	s := &LocalSyncer{}
	counters, err := s.Sync(context.Background(), dir)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if counters.Strm != (library.Counter{2, 0}) {
		t.Errorf("strm counters = %v, want [2 0]", counters.Strm)
	}
	if counters.Meta != (library.Counter{}) {
		t.Errorf("meta counters = %v, want none with copy off", counters.Meta)
	}

	got := readFile(t, filepath.Join(dir.StrmRootPath, "movie.strm"))
	if want := filepath.Join(dir.Path, "movie.mkv"); got != want {
		t.Errorf("movie.strm = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(dir.StrmRootPath, "show", "s01e01.strm")); err != nil {
		t.Errorf("nested strm missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir.StrmRootPath, "notes.strm")); !os.IsNotExist(err) {
		t.Errorf("notes.txt must not produce a strm file, stat err = %v", err)
	}

	// A second run changes nothing.
	counters, err = s.Sync(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if counters != (library.RunCounters{}) {
		t.Errorf("second run counters = %+v, want zero", counters)
	}
}

func TestLocalSyncMountPath(t *testing.T) {
	t.Parallel()

	dir := localDir(t, library.MetaOff)
	dir.MountPath = "/mnt/media"
	if _, err := (&LocalSyncer{}).Sync(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	got := readFile(t, filepath.Join(dir.StrmRootPath, "movie.strm"))
	if want := filepath.Join("/mnt/media", dir.Path, "movie.mkv"); got != want {
		t.Errorf("movie.strm = %q, want %q", got, want)
	}
}

func TestLocalSyncMetadata(t *testing.T) {
	t.Parallel()

	t.Run("copy", func(t *testing.T) {
		t.Parallel()
		dir := localDir(t, library.MetaCopy)
		counters, err := (&LocalSyncer{}).Sync(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		if counters.Meta != (library.Counter{1, 0}) {
			t.Errorf("meta counters = %v, want [1 0]", counters.Meta)
		}
		dst := filepath.Join(dir.StrmRootPath, "show", "poster.jpg")
		info, err := os.Lstat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if !info.Mode().IsRegular() {
			t.Errorf("poster.jpg mode = %v, want regular file", info.Mode())
		}
		if got := readFile(t, dst); got != "jpeg" {
			t.Errorf("poster.jpg = %q", got)
		}
	})

	t.Run("symlink", func(t *testing.T) {
		t.Parallel()
		dir := localDir(t, library.MetaSymlink)
		counters, err := (&LocalSyncer{}).Sync(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		if counters.Meta != (library.Counter{1, 0}) {
			t.Errorf("meta counters = %v, want [1 0]", counters.Meta)
		}
		target, err := os.Readlink(filepath.Join(dir.StrmRootPath, "show", "poster.jpg"))
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir.Path, "show", "poster.jpg"); target != want {
			t.Errorf("link target = %q, want %q", target, want)
		}

		counters, err = (&LocalSyncer{}).Sync(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		if counters.Meta != (library.Counter{}) {
			t.Errorf("relink counters = %v, want zero", counters.Meta)
		}
	})
}

func TestLocalSyncCopyDelay(t *testing.T) {
	t.Parallel()

	dir := localDir(t, library.MetaCopy)
	writeFile(t, filepath.Join(dir.Path, "fanart.jpg"), "jpeg")
	dir.CopyDelay = 1.5

	var slept []time.Duration
	s := &LocalSyncer{Sleep: func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}}
	if _, err := s.Sync(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	// The delay separates copies; the first copy does not wait.
	if len(slept) != 1 || slept[0] != 1500*time.Millisecond {
		t.Errorf("slept = %v, want [1.5s]", slept)
	}
}

func TestLocalSyncDeletesOrphans(t *testing.T) {
	t.Parallel()

	dir := localDir(t, library.MetaOff)
	orphan := filepath.Join(dir.StrmRootPath, "old", "gone.strm")
	writeFile(t, orphan, "/nowhere/gone.mkv")
	keep := filepath.Join(dir.StrmRootPath, "readme.nfo")
	writeFile(t, keep, "user file")

	counters, err := (&LocalSyncer{}).Sync(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if counters.Delete != (library.Counter{1, 0}) {
		t.Errorf("delete counters = %v, want [1 0]", counters.Delete)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphan still present, stat err = %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("non-strm file removed: %v", err)
	}

	// Removing a source removes its strm file on the next run.
	if err := os.Remove(filepath.Join(dir.Path, "movie.mkv")); err != nil {
		t.Fatal(err)
	}
	counters, err = (&LocalSyncer{}).Sync(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if counters.Delete != (library.Counter{1, 0}) {
		t.Errorf("delete counters = %v, want [1 0]", counters.Delete)
	}
}

func TestLocalSyncErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(d *library.Directory)
	}{
		{"missing source", func(d *library.Directory) { d.Path = filepath.Join(d.Path, "missing") }},
		{"empty strm root", func(d *library.Directory) { d.StrmRootPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := localDir(t, library.MetaOff)
			tt.mutate(&dir)
			if _, err := (&LocalSyncer{}).Sync(context.Background(), dir); err == nil {
				t.Fatal("Sync() error = nil")
			}
		})
	}
}

func TestLocalSyncCancelled(t *testing.T) {
	t.Parallel()

	dir := localDir(t, library.MetaOff)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&LocalSyncer{}).Sync(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sync() error = %v, want context.Canceled", err)
	}
}

func TestSyncerFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		transport library.Transport
		wantErr   bool
	}{
		{library.TransportLocal, false},
		{library.TransportWebDAV, true},
		{library.TransportAlist302, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.transport), func(t *testing.T) {
			t.Parallel()
			dir := library.Directory{Key: "k", Definition: library.Definition{Type: tt.transport}}
			_, err := SyncerFor(dir, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SyncerFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedTransport) || !fault.Is(err, fault.Validation) {
					t.Errorf("error = %v, want unsupported transport", err)
				}
			}
		})
	}
}
