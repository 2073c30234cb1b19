// Package reload re-applies the configuration file to running modules, on
// SIGHUP or when polling notices the file content changed.
package reload

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration
}

func (c WatcherConfig) pollIntervalOrDefault() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// EventType describes the type of file change event.
type EventType string

const (
	// EventModified indicates the config file content changed.
	EventModified EventType = "modified"
)

// Event represents a file change notification.
type Event struct {
	Type       EventType
	ConfigPath string
}

// fingerprint identifies a version of the file. The content hash is only
// computed when size or modification time moved.
type fingerprint struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher polls a configuration file for content changes. A save that
// rewrites identical bytes emits nothing.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of file change events. Changes arriving while
// an event is pending are folded into it.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and waits for the polling goroutine. Safe to call
// multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.pollIntervalOrDefault())
	defer ticker.Stop()

	last, _ := w.read(fingerprint{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current, ok := w.read(last)
			if !ok || current.sum == last.sum {
				last.size, last.modTime = current.size, current.modTime
				continue
			}
			last = current
			select {
			case w.events <- Event{Type: EventModified, ConfigPath: w.cfg.ConfigPath}:
			default:
			}
		}
	}
}

// read returns the fingerprint of the file, reusing prev's hash when size
// and modification time are unchanged. ok is false when the file cannot be
// read.
func (w *Watcher) read(prev fingerprint) (fingerprint, bool) {
	info, err := os.Stat(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	fp := fingerprint{size: info.Size(), modTime: info.ModTime()}
	if fp.size == prev.size && fp.modTime.Equal(prev.modTime) {
		fp.sum = prev.sum
		return fp, true
	}
	data, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	fp.sum = sha256.Sum256(data)
	return fp, true
}
