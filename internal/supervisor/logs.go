package supervisor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/flemzord/strmsync/internal/library"
)

// maxTailChunk bounds a single TailLog read.
const maxTailChunk = 1 << 20

// ReadLog returns the log of key with line breaks as "<br />". A directory
// that never ran has an empty log.
func (s *Supervisor) ReadLog(key string) (string, error) {
	if !library.ValidKey(key) {
		return "", fmt.Errorf("supervisor: %q: %w", key, ErrInvalidKey)
	}
	data, err := os.ReadFile(s.LogPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("supervisor: read log: %w", err)
	}
	return strings.ReplaceAll(string(data), "\n", "<br />"), nil
}

// TailLog returns the bytes of the log of key written after offset and the
// offset to resume from. When the log is shorter than offset (a new run
// truncated it) reading restarts at the beginning.
func (s *Supervisor) TailLog(key string, offset int64) ([]byte, int64, error) {
	if !library.ValidKey(key) {
		return nil, offset, fmt.Errorf("supervisor: %q: %w", key, ErrInvalidKey)
	}
	f, err := os.Open(s.LogPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("supervisor: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("supervisor: stat log: %w", err)
	}
	size := info.Size()
	if offset < 0 || size < offset {
		offset = 0
	}
	if size == offset {
		return nil, offset, nil
	}

	n := min(size-offset, maxTailChunk)
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, offset, fmt.Errorf("supervisor: read log: %w", err)
	}
	return buf[:read], offset + int64(read), nil
}
