package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tcai793/datamanager/internal/fsutil"
)

// FileSystemMirror keeps timestamped copies in a local directory, typically
// a mounted backup drive.
type FileSystemMirror struct {
	dir string
	now func() time.Time
}

func NewFileSystemMirror(dir string) (*FileSystemMirror, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &FileSystemMirror{dir: dir, now: time.Now}, nil
}

func (m *FileSystemMirror) Upload(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(m.dir, objectName(path, m.now()))
	if err := fsutil.CopyFileAtomic(path, dest); err != nil {
		return "", fmt.Errorf("mirror %s: %w", path, err)
	}
	return dest, nil
}

var _ Mirror = (*FileSystemMirror)(nil)
