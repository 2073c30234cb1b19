// Package job is the body of a sync run: the process started by the
// supervisor for one directory. It records its own pid, runs the syncer of
// the directory's transport, stores the counters and reports the outcome.
package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/strmsync/internal/fault"
	"github.com/flemzord/strmsync/internal/library"
)

// ErrUnsupportedTransport is returned for a directory whose transport has
// no syncer.
var ErrUnsupportedTransport = fault.New(fault.Validation, "unsupported transport")

// Syncer mirrors the source of a directory into its strm tree.
type Syncer interface {
	Sync(ctx context.Context, dir library.Directory) (library.RunCounters, error)
}

// SyncerFor returns the syncer of the directory's transport.
func SyncerFor(dir library.Directory, logger *slog.Logger) (Syncer, error) {
	switch dir.Type {
	case library.TransportLocal, "":
		return &LocalSyncer{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("job: %s: %w %q", dir.Key, ErrUnsupportedTransport, dir.Type)
	}
}
