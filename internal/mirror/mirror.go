// Package mirror copies published archive databases to a second location.
package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tcai793/datamanager/internal/config"
)

// Mirror receives a copy of a file and reports where it was stored.
type Mirror interface {
	Upload(ctx context.Context, path string) (string, error)
}

// New creates the mirror selected by cfg.Type. It returns nil for an empty
// type.
func New(ctx context.Context, cfg config.MirrorConfig) (Mirror, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem mirror requires mirror.dir to be set")
		}
		return NewFileSystemMirror(cfg.Dir)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 mirror requires mirror.s3_bucket to be set")
		}
		return NewS3Mirror(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}

// objectName stamps the base name of path with t, so earlier copies are
// kept: archive.db becomes archive-20240101T000000Z.db.
func objectName(path string, t time.Time) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return stem + "-" + t.UTC().Format("20060102T150405Z") + ext
}
