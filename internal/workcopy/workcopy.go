// Package workcopy implements the checkout/commit cycle that protects the
// canonical archive while a sync session runs.
//
// A session snapshots the canonical database into a working directory,
// mutates only that staging copy and finally publishes it atomically, keeping
// the previous canonical database as a backup. A lock marker and a matching
// pair of session descriptors tie the root and the working directory together
// so an interrupted session can be resumed instead of repeated.
package workcopy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tcai793/datamanager/internal/fsutil"
	"github.com/tcai793/datamanager/internal/lock"
)

const (
	DBName         = "archive.db"
	DescriptorName = "session.json"
	TmpDirName     = "tmp"
	MediaDirName   = "media"
	AliasDirName   = "chats"
	BackupSuffix   = ".backup"
)

var (
	// ErrDescriptorMismatch means the root and working copy descriptors
	// disagree. The working copy is stale or misrouted and needs manual
	// intervention.
	ErrDescriptorMismatch = errors.New("session descriptors do not match")

	// ErrInconsistentState means only one of lock marker and staging database
	// exists.
	ErrInconsistentState = errors.New("archive root and working copy are inconsistent")
)

type Options struct {
	Log zerolog.Logger
	Now func() time.Time
	// NewID returns a fresh session id.
	NewID func() string
	// BackupRecipient, when set, encrypts the pre-session backup with age.
	BackupRecipient age.Recipient
}

type Manager struct {
	opts Options
}

func New(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{opts: opts}
}

type Session struct {
	m         *Manager
	root      string
	work      string
	desc      Descriptor
	lock      *lock.Lock
	resumed   bool
	committed bool
}

func (s *Session) Root() string           { return s.root }
func (s *Session) WorkDir() string        { return s.work }
func (s *Session) DBPath() string         { return filepath.Join(s.work, DBName) }
func (s *Session) TmpDir() string         { return filepath.Join(s.work, TmpDirName) }
func (s *Session) MediaDir() string       { return filepath.Join(s.root, MediaDirName) }
func (s *Session) AliasDir() string       { return filepath.Join(s.root, AliasDirName) }
func (s *Session) Resumed() bool          { return s.resumed }
func (s *Session) Descriptor() Descriptor { return s.desc }

// Open checks out a working copy of the archive in root, or resumes the one
// already present in workDir.
func (m *Manager) Open(root, workDir string) (*Session, error) {
	root, work, err := normalizePaths(root, workDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}

	locked := lock.Exists(root)
	staged := fsutil.Exists(filepath.Join(work, DBName))
	switch {
	case !locked && !staged:
		return m.checkout(root, work)
	case locked && staged:
		return m.resume(root, work)
	case locked:
		return nil, fmt.Errorf("%w: lock marker in %s but no staging database in %s", ErrInconsistentState, root, work)
	default:
		return nil, fmt.Errorf("%w: staging database in %s but no lock marker in %s", ErrInconsistentState, work, root)
	}
}

func (m *Manager) checkout(root, work string) (*Session, error) {
	now := m.opts.Now().UTC()
	desc := Descriptor{SessionID: m.opts.NewID(), Root: root, Work: work, StartedAt: now}

	lk, err := lock.Acquire(root, lock.NewToken(desc.SessionID, now))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Session, error) {
		_ = lk.Release()
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(work, TmpDirName), 0700); err != nil {
		return fail(fmt.Errorf("create working copy: %w", err))
	}

	canonical := filepath.Join(root, DBName)
	staging := filepath.Join(work, DBName)
	if fsutil.Exists(canonical) {
		if err := fsutil.CopyFileAtomic(canonical, staging); err != nil {
			return fail(fmt.Errorf("snapshot archive: %w", err))
		}
	} else {
		// A zero-length file is an empty sqlite database.
		if err := fsutil.WriteFileAtomic(staging, nil, 0600); err != nil {
			return fail(fmt.Errorf("create staging database: %w", err))
		}
	}

	if err := writeDescriptor(work, desc); err != nil {
		return fail(err)
	}
	if err := writeDescriptor(root, desc); err != nil {
		return fail(err)
	}

	m.opts.Log.Info().Str("session", desc.SessionID).Str("root", root).Str("work", work).Msg("checked out working copy")
	return &Session{m: m, root: root, work: work, desc: desc, lock: lk}, nil
}

func (m *Manager) resume(root, work string) (*Session, error) {
	rootDesc, err := readDescriptor(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root: %v", ErrDescriptorMismatch, err)
	}
	workDesc, err := readDescriptor(work)
	if err != nil {
		return nil, fmt.Errorf("%w: working copy: %v", ErrDescriptorMismatch, err)
	}
	if !rootDesc.Equal(workDesc) {
		return nil, fmt.Errorf("%w: root session %s, working copy session %s", ErrDescriptorMismatch, rootDesc.SessionID, workDesc.SessionID)
	}
	if rootDesc.Root != root || rootDesc.Work != work {
		return nil, fmt.Errorf("%w: session was opened for %s -> %s", ErrDescriptorMismatch, rootDesc.Root, rootDesc.Work)
	}

	lk, err := lock.Takeover(root, m.opts.Now())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(work, TmpDirName), 0700); err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}

	m.opts.Log.Info().Str("session", rootDesc.SessionID).Time("started", rootDesc.StartedAt).Msg("resuming interrupted session")
	return &Session{m: m, root: root, work: work, desc: rootDesc, lock: lk, resumed: true}, nil
}

// afterPublish runs between publishing and cleanup.
var afterPublish = func() error { return nil }

type CommitResult struct {
	Published string
	Backup    string
}

// Commit publishes the staging database as the canonical archive and tears
// down the session. The staging database must be closed by the caller.
func (s *Session) Commit() (CommitResult, error) {
	if s.committed {
		return CommitResult{}, fmt.Errorf("session %s already committed", s.desc.SessionID)
	}
	canonical := filepath.Join(s.root, DBName)
	staging := s.DBPath()

	var res CommitResult
	switch {
	case s.desc.Published:
		// An earlier attempt already replaced the canonical database, so the
		// backup on disk is the only copy of the pre-session state.
		res.Backup = s.m.existingBackup(canonical)
	case fsutil.Exists(canonical):
		path, err := s.m.backup(canonical)
		if err != nil {
			return CommitResult{}, err
		}
		res.Backup = path
	}

	s.desc.Published = true
	if err := writeDescriptor(s.root, s.desc); err != nil {
		return CommitResult{}, err
	}
	if err := fsutil.CopyFileAtomic(staging, canonical); err != nil {
		return CommitResult{}, fmt.Errorf("publish staging database: %w", err)
	}
	if err := afterPublish(); err != nil {
		return CommitResult{}, err
	}
	res.Published = canonical

	if err := removeDescriptor(s.root); err != nil {
		return res, err
	}
	if err := s.lock.Release(); err != nil {
		return res, err
	}
	if err := os.RemoveAll(s.work); err != nil {
		return res, fmt.Errorf("remove working copy: %w", err)
	}
	s.committed = true

	s.m.opts.Log.Info().Str("session", s.desc.SessionID).Str("backup", res.Backup).Msg("committed session")
	return res, nil
}

// Discard drops an in-flight session without touching the canonical database.
func Discard(root, workDir string) error {
	root, work, err := normalizePaths(root, workDir)
	if err != nil {
		return err
	}
	if err := removeDescriptor(root); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(root, lock.FileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	if err := os.RemoveAll(work); err != nil {
		return fmt.Errorf("remove working copy: %w", err)
	}
	return nil
}

func normalizePaths(root, workDir string) (string, string, error) {
	if root == "" || workDir == "" {
		return "", "", fmt.Errorf("archive root and work dir are required")
	}
	r, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	w, err := filepath.Abs(workDir)
	if err != nil {
		return "", "", err
	}
	if r == w {
		return "", "", fmt.Errorf("work dir must differ from archive root")
	}
	return r, w, nil
}
