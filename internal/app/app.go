package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tcai793/datamanager/internal/progress"
	"github.com/tcai793/datamanager/internal/remote"
	"github.com/tcai793/datamanager/internal/selector"
	"github.com/tcai793/datamanager/internal/workcopy"
)

// Mirror receives a copy of every published archive database.
type Mirror interface {
	Upload(ctx context.Context, path string) (string, error)
}

type Options struct {
	ArchiveRoot string
	WorkDir     string

	Criteria selector.Criteria
	// Folders are locally defined folder rules; they override account
	// folders with the same title.
	Folders []remote.FolderRule
	// IgnoredFolders are left out of FolderMap.
	IgnoredFolders []string

	// CountFirst counts a chat's pending messages before ingesting it so
	// progress can show a total.
	CountFirst bool

	Log      zerolog.Logger
	Progress progress.Sink
	Workcopy *workcopy.Manager
	Mirror   Mirror
}

type App struct {
	opts     Options
	log      zerolog.Logger
	remote   remote.Client
	progress progress.Sink
	wc       *workcopy.Manager
}

func New(r remote.Client, opts Options) (*App, error) {
	if r == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if opts.ArchiveRoot == "" || opts.WorkDir == "" {
		return nil, fmt.Errorf("archive root and work dir are required")
	}
	a := &App{
		opts:     opts,
		log:      opts.Log,
		remote:   r,
		progress: opts.Progress,
		wc:       opts.Workcopy,
	}
	if a.progress == nil {
		a.progress = progress.Nop{}
	}
	if a.wc == nil {
		a.wc = workcopy.New(workcopy.Options{Log: opts.Log})
	}
	return a, nil
}

func (a *App) Remote() remote.Client { return a.remote }
func (a *App) ArchiveRoot() string   { return a.opts.ArchiveRoot }
func (a *App) WorkDir() string       { return a.opts.WorkDir }
