// Package lock implements the advisory lock marker kept in the archive root.
//
// The marker is cooperative: it is a small JSON session token naming the
// holder (host and pid) and the time the session started. Nothing in the OS
// enforces it, so every writer must go through Acquire or Takeover.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tcai793/datamanager/internal/fsutil"
)

const FileName = "archive.lock"

// StaleAfter is how old a token from another host must be before it is
// considered abandoned. Liveness cannot be probed across hosts.
const StaleAfter = 24 * time.Hour

var (
	ErrLockHeld = errors.New("archive is locked by a running session")
	ErrNotFound = errors.New("lock marker not found")
)

type Token struct {
	SessionID string    `json:"session_id"`
	Host      string    `json:"host"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// NewToken describes a session held by the current process.
func NewToken(sessionID string, startedAt time.Time) Token {
	host, _ := os.Hostname()
	return Token{
		SessionID: sessionID,
		Host:      host,
		PID:       os.Getpid(),
		StartedAt: startedAt.UTC(),
	}
}

// Stale reports whether the holder of t can no longer be running a session.
// A token written by the current process is never considered live.
func (t Token) Stale(now time.Time) bool {
	self := NewToken("", now)
	if t.Host == self.Host {
		if t.PID == self.PID {
			return true
		}
		return !processAlive(t.PID)
	}
	return now.Sub(t.StartedAt) > StaleAfter
}

type Lock struct {
	path  string
	token Token
}

func (l *Lock) Token() Token { return l.token }
func (l *Lock) Path() string { return l.path }

// Acquire creates the marker in dir. It fails if a marker already exists.
func Acquire(dir string, tok Token) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			existing, rerr := Read(dir)
			if rerr == nil {
				return nil, fmt.Errorf("%w (session %s, pid %d on %s, since %s)", ErrLockHeld,
					existing.SessionID, existing.PID, existing.Host, existing.StartedAt.Format(time.RFC3339))
			}
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("create lock marker: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("sync lock marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &Lock{path: path, token: tok}, nil
}

// Takeover adopts an existing marker for the current process. The previous
// holder must be stale; the session id and start time are kept.
func Takeover(dir string, now time.Time) (*Lock, error) {
	cur, err := Read(dir)
	if err != nil {
		return nil, err
	}
	if !cur.Stale(now) {
		return nil, fmt.Errorf("%w (pid %d on %s)", ErrLockHeld, cur.PID, cur.Host)
	}
	next := NewToken(cur.SessionID, cur.StartedAt)
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, FileName)
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return nil, fmt.Errorf("rewrite lock marker: %w", err)
	}
	return &Lock{path: path, token: next}, nil
}

// Read loads the marker in dir.
func Read(dir string) (Token, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Token{}, ErrNotFound
		}
		return Token{}, fmt.Errorf("read lock marker: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, fmt.Errorf("parse lock marker: %w", err)
	}
	return tok, nil
}

// Exists reports whether dir holds a marker, valid or not.
func Exists(dir string) bool {
	return fsutil.Exists(filepath.Join(dir, FileName))
}

func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	return nil
}
