package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DateLayout is the on-disk format for Message.date and Message.edited.
const DateLayout = "2006-01-02 15:04:05"

var (
	// ErrDuplicate marks an insert that collided with an existing primary key.
	// It always indicates broken cursor or media id bookkeeping.
	ErrDuplicate = errors.New("duplicate key")

	// ErrIdentityChanged is returned when the archive owner differs from the
	// account that is currently logged in.
	ErrIdentityChanged = errors.New("archive owner changed")

	// ErrCursorRegression is returned when a cursor update would not move forward.
	ErrCursorRegression = errors.New("cursor must increase")
)

type DB struct {
	path     string
	sql      *sql.DB
	readOnly bool
}

// Open opens (creating if needed) a writable archive database and applies
// pending schema migrations.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; transactions and reads must not race for the file lock.
	db.SetMaxOpenConns(1)

	s := &DB{path: path, sql: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing archive without migrating it. The schema
// must already be at the version this binary expects.
func OpenReadOnly(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := checkMigrationStatus(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{path: path, sql: db, readOnly: true}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) Path() string { return d.path }

func (d *DB) init() error {
	// Rollback journal keeps the staging copy a single self-contained file.
	if _, err := d.sql.Exec("PRAGMA journal_mode=DELETE;"); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	_, _ = d.sql.Exec("PRAGMA temp_store=MEMORY;")

	return migrateUp(d.sql)
}

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// wrapWriteErr turns primary key collisions into ErrDuplicate.
func wrapWriteErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w", what, ErrDuplicate)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func nullDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatDate(t)
}

func parseDate(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(DateLayout, s.String, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
