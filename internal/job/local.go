package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flemzord/strmsync/internal/library"
)

const strmExt = ".strm"

// LocalSyncer syncs a directory whose source is reachable on a local mount.
// For every source file whose extension is in strm_ext it writes a .strm
// file holding the playable path; metadata files are copied or symlinked
// per copy_meta_file; .strm files whose source is gone are deleted.
type LocalSyncer struct {
	Logger *slog.Logger

	// Sleep waits between metadata copies. Defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type run struct {
	s        *LocalSyncer
	dir      library.Directory
	src, dst string
	strm     map[string]bool
	meta     map[string]bool
	expected map[string]struct{}
	counters library.RunCounters
	copied   int
}

// Sync implements Syncer.
func (s *LocalSyncer) Sync(ctx context.Context, dir library.Directory) (library.RunCounters, error) {
	r := &run{
		s:        s,
		dir:      dir,
		src:      dir.SourceDir(),
		dst:      dir.StrmRootPath,
		strm:     extSet(dir.StrmExt),
		meta:     extSet(dir.MetaExt),
		expected: make(map[string]struct{}),
	}
	if r.dst == "" {
		return r.counters, fmt.Errorf("job: %s: strm_root_path is empty", dir.Key)
	}
	info, err := os.Stat(r.src)
	if err != nil {
		return r.counters, fmt.Errorf("job: source: %w", err)
	}
	if !info.IsDir() {
		return r.counters, fmt.Errorf("job: source %s is not a directory", r.src)
	}
	if err := os.MkdirAll(r.dst, 0o755); err != nil {
		return r.counters, fmt.Errorf("job: create %s: %w", r.dst, err)
	}

	err = filepath.WalkDir(r.src, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger().Warn("walk error", "path", path, "error", err)
			if d != nil && d.IsDir() && path != r.src {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		return r.file(ctx, path)
	})
	if err != nil {
		return r.counters, err
	}

	if err := r.prune(ctx); err != nil {
		return r.counters, err
	}
	return r.counters, nil
}

func (s *LocalSyncer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *LocalSyncer) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func extSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

func (r *run) file(ctx context.Context, path string) error {
	rel, err := filepath.Rel(r.src, path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))

	switch {
	case r.strm[ext]:
		target := filepath.Join(r.dst, strings.TrimSuffix(rel, filepath.Ext(rel))+strmExt)
		r.expected[target] = struct{}{}
		written, err := writeIfChanged(target, []byte(r.playPath(rel)))
		switch {
		case err != nil:
			r.counters.Strm[1]++
			r.s.logger().Error("strm write failed", "path", target, "error", err)
		case written:
			r.counters.Strm[0]++
		}

	case r.meta[ext] && r.dir.CopyMetaFile != library.MetaOff:
		target := filepath.Join(r.dst, rel)
		done, err := r.metaFile(ctx, path, target)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			r.counters.Meta[1]++
			r.s.logger().Error("metadata sync failed", "path", target, "error", err)
		case done:
			r.counters.Meta[0]++
		}
	}
	return nil
}

// playPath is the content of a .strm file: the path the media server opens.
func (r *run) playPath(rel string) string {
	if r.dir.MountPath != "" {
		return filepath.Join(r.dir.MountPath, r.dir.Path, rel)
	}
	return filepath.Join(r.src, rel)
}

func (r *run) metaFile(ctx context.Context, src, dst string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	if r.dir.CopyMetaFile == library.MetaSymlink {
		if cur, err := os.Readlink(dst); err == nil && cur == src {
			return false, nil
		}
		_ = os.Remove(dst)
		return true, os.Symlink(src, dst)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	if dstInfo, err := os.Lstat(dst); err == nil && dstInfo.Mode().IsRegular() && dstInfo.Size() == srcInfo.Size() {
		return false, nil
	}

	if r.copied > 0 && r.dir.CopyDelay > 0 {
		if err := r.s.sleep(ctx, time.Duration(r.dir.CopyDelay*float64(time.Second))); err != nil {
			return false, err
		}
	}
	r.copied++

	f, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	return true, atomicWrite(dst, f)
}

// prune deletes .strm files under the strm root that this run did not
// produce.
func (r *run) prune(ctx context.Context) error {
	return filepath.WalkDir(r.dst, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), strmExt) {
			return nil
		}
		if _, ok := r.expected[path]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			r.counters.Delete[1]++
			r.s.logger().Error("orphan delete failed", "path", path, "error", err)
			return nil
		}
		r.counters.Delete[0]++
		return nil
	})
}

// writeIfChanged writes data to path unless it already holds exactly data.
func writeIfChanged(path string, data []byte) (bool, error) {
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, data) {
		return false, nil
	}
	return true, atomicWrite(path, bytes.NewReader(data))
}

func atomicWrite(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp := dst + ".strmsync.tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
