// Package watch triggers runs of directories in watch mode: the source tree
// of each such directory is watched recursively and a burst of changes
// starts one run once the tree has been quiet for the debounce delay.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"
	"github.com/flemzord/strmsync/internal/metrics"
)

// DefaultDebounce is the quiet period before a run is started.
const DefaultDebounce = 10 * time.Second

// Starter launches a run for a directory. The job supervisor implements it.
type Starter interface {
	Start(ctx context.Context, key string) error
}

var _ library.Reconciler = (*Watcher)(nil)

// Watcher maps directory keys to watched source trees.
type Watcher struct {
	delay  atomic.Int64
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	trees   map[string]*tree
	starter Starter
}

// New returns a Watcher. A zero delay means DefaultDebounce.
func New(delay time.Duration, logger *slog.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		trees:  make(map[string]*tree),
	}
	w.delay.Store(int64(delay))
	return w
}

// Delay returns the debounce delay.
func (w *Watcher) Delay() time.Duration {
	return time.Duration(w.delay.Load())
}

// SetDelay changes the debounce delay of quiet periods started from now
// on. A zero delay means DefaultDebounce.
func (w *Watcher) SetDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounce
	}
	w.delay.Store(int64(d))
}

// SetStarter sets the target of debounced changes.
func (w *Watcher) SetStarter(s Starter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starter = s
}

// Reconcile implements library.Reconciler.
func (w *Watcher) Reconcile(dir library.Directory) error {
	if dir.SyncType != library.ModeWatch {
		w.Forget(dir.Key)
		return nil
	}
	root := dir.SourceDir()

	w.mu.Lock()
	old, ok := w.trees[dir.Key]
	if ok && old.root == root {
		w.mu.Unlock()
		return nil
	}
	delete(w.trees, dir.Key)
	w.mu.Unlock()
	if ok {
		old.close()
	}

	t, err := w.watch(dir.Key, root)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.trees[dir.Key]
	w.trees[dir.Key] = t
	w.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	w.logger.Info("watching directory", "key", dir.Key, "root", root)
	return nil
}

// Forget implements library.Reconciler.
func (w *Watcher) Forget(key string) {
	w.mu.Lock()
	t, ok := w.trees[key]
	delete(w.trees, key)
	w.mu.Unlock()
	if ok {
		t.close()
		w.logger.Info("stopped watching directory", "key", key)
	}
}

// ReconcileAll reconciles every directory in dirs and drops watches whose
// directory is gone.
func (w *Watcher) ReconcileAll(dirs []library.Directory) {
	seen := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		seen[dir.Key] = struct{}{}
		if err := w.Reconcile(dir); err != nil {
			w.logger.Error("watch: reconcile failed", "key", dir.Key, "error", err)
		}
	}
	for _, key := range w.Keys() {
		if _, ok := seen[key]; !ok {
			w.Forget(key)
		}
	}
}

// Keys returns the watched directory keys, sorted.
func (w *Watcher) Keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, 0, len(w.trees))
	for k := range w.trees {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close stops every watch.
func (w *Watcher) Close() {
	w.cancel()
	for _, key := range w.Keys() {
		w.Forget(key)
	}
}

func (w *Watcher) watch(key, root string) (*tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch: %s: %w", key, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s: %s is not a directory", key, root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	t := &tree{
		key:    key,
		root:   root,
		fw:     fw,
		w:      w,
		done:   make(chan struct{}),
		logger: w.logger.With("key", key),
	}
	if err := t.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch: %s: %w", key, err)
	}
	go t.run()
	return t, nil
}

func (w *Watcher) start(key string) {
	w.mu.Lock()
	starter := w.starter
	w.mu.Unlock()
	if starter == nil {
		w.logger.Warn("watch: change detected but no job supervisor is loaded", "key", key)
		return
	}

	ctx := metrics.WithTrigger(w.ctx, metrics.TriggerWatch)
	err := starter.Start(ctx, key)
	switch {
	case err == nil:
		w.logger.Info("watch: run started", "key", key)
	case fault.Is(err, fault.Conflict):
		w.logger.Info("watch: run already in progress", "key", key)
	default:
		w.logger.Error("watch: start failed", "key", key, "error", err)
	}
}

// tree is one watched source tree.
type tree struct {
	key    string
	root   string
	fw     *fsnotify.Watcher
	w      *Watcher
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func (t *tree) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := t.fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (t *tree) run() {
	for {
		select {
		case <-t.done:
			return

		case ev, ok := <-t.fw.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := t.addRecursive(ev.Name); err != nil {
						t.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			t.touch()

		case err, ok := <-t.fw.Errors:
			if !ok {
				return
			}
			t.logger.Error("watcher error", "error", err)
		}
	}
}

// touch restarts the quiet period.
func (t *tree) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.w.Delay(), t.fire)
		return
	}
	t.timer.Reset(t.w.Delay())
}

func (t *tree) fire() {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.w.start(t.key)
	}
}

func (t *tree) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	close(t.done)
	_ = t.fw.Close()
}
