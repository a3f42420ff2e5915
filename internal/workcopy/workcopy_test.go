package workcopy

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"

	"github.com/tcai793/datamanager/internal/lock"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(opts Options) *Manager {
	opts.Log = zerolog.Nop()
	opts.Now = func() time.Time { return testNow }
	n := 0
	opts.NewID = func() string {
		n++
		return "session-" + string(rune('0'+n))
	}
	return New(opts)
}

func testDirs(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	return filepath.Join(base, "archive"), filepath.Join(base, "work")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(b)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestOpenFreshArchive(t *testing.T) {
	root, work := testDirs(t)
	m := newTestManager(Options{})

	s, err := m.Open(root, work)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Resumed() {
		t.Fatalf("fresh open must not be a resume")
	}
	if !exists(s.DBPath()) || !exists(s.TmpDir()) {
		t.Fatalf("expected staging database and scratch area")
	}
	if !exists(filepath.Join(root, lock.FileName)) {
		t.Fatalf("expected lock marker")
	}
	rootDesc, err := readDescriptor(root)
	if err != nil {
		t.Fatalf("readDescriptor(root): %v", err)
	}
	workDesc, err := readDescriptor(work)
	if err != nil {
		t.Fatalf("readDescriptor(work): %v", err)
	}
	if !rootDesc.Equal(workDesc) || !rootDesc.StartedAt.Equal(testNow) {
		t.Fatalf("descriptors differ: %+v vs %+v", rootDesc, workDesc)
	}

	res, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Backup != "" {
		t.Fatalf("no backup expected for a new archive, got %s", res.Backup)
	}
	if !exists(filepath.Join(root, DBName)) {
		t.Fatalf("expected published archive")
	}
	for _, p := range []string{filepath.Join(root, lock.FileName), filepath.Join(root, DescriptorName), work} {
		if exists(p) {
			t.Fatalf("expected %s to be removed after commit", p)
		}
	}
}

func TestCommitWithoutChangesKeepsContentAndBacksUp(t *testing.T) {
	root, work := testDirs(t)
	writeFile(t, filepath.Join(root, DBName), "canonical-v1")

	s, err := newTestManager(Options{}).Open(root, work)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := readFile(t, s.DBPath()); got != "canonical-v1" {
		t.Fatalf("staging copy = %q", got)
	}
	res, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readFile(t, filepath.Join(root, DBName)); got != "canonical-v1" {
		t.Fatalf("canonical changed: %q", got)
	}
	if res.Backup != filepath.Join(root, DBName+BackupSuffix) {
		t.Fatalf("unexpected backup path %s", res.Backup)
	}
	if got := readFile(t, res.Backup); got != "canonical-v1" {
		t.Fatalf("backup = %q", got)
	}
	if _, err := s.Commit(); err == nil {
		t.Fatalf("expected second commit to fail")
	}
}

func TestCommitPublishesStaging(t *testing.T) {
	root, work := testDirs(t)
	writeFile(t, filepath.Join(root, DBName), "before")

	s, err := newTestManager(Options{}).Open(root, work)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	writeFile(t, s.DBPath(), "after")
	if got := readFile(t, filepath.Join(root, DBName)); got != "before" {
		t.Fatalf("canonical mutated before commit: %q", got)
	}
	if _, err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readFile(t, filepath.Join(root, DBName)); got != "after" {
		t.Fatalf("canonical = %q", got)
	}
	if got := readFile(t, filepath.Join(root, DBName+BackupSuffix)); got != "before" {
		t.Fatalf("backup = %q", got)
	}
}

func TestResumeAfterInterruptedSession(t *testing.T) {
	root, work := testDirs(t)
	writeFile(t, filepath.Join(root, DBName), "canonical")

	first, err := newTestManager(Options{}).Open(root, work)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	writeFile(t, first.DBPath(), "progress")
	// Simulated crash: the session is dropped without Commit.

	second, err := newTestManager(Options{}).Open(root, work)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !second.Resumed() {
		t.Fatalf("expected resume")
	}
	if second.Descriptor().SessionID != first.Descriptor().SessionID {
		t.Fatalf("resume changed session id: %s vs %s", second.Descriptor().SessionID, first.Descriptor().SessionID)
	}
	if got := readFile(t, second.DBPath()); got != "progress" {
		t.Fatalf("staging was re-copied: %q", got)
	}
	if _, err := second.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readFile(t, filepath.Join(root, DBName)); got != "progress" {
		t.Fatalf("canonical = %q", got)
	}
}

func TestResumeAfterCrashInCommitKeepsBackup(t *testing.T) {
	root, work := testDirs(t)
	writeFile(t, filepath.Join(root, DBName), "pre-session")

	first, err := newTestManager(Options{}).Open(root, work)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	writeFile(t, first.DBPath(), "new")

	crash := errors.New("killed after publish")
	afterPublish = func() error { return crash }
	_, err = first.Commit()
	afterPublish = func() error { return nil }
	if !errors.Is(err, crash) {
		t.Fatalf("Commit error = %v, want %v", err, crash)
	}
	if got := readFile(t, filepath.Join(root, DBName)); got != "new" {
		t.Fatalf("canonical after crash = %q", got)
	}
	if !lock.Exists(root) {
		t.Fatalf("lock marker removed before cleanup")
	}

	second, err := newTestManager(Options{}).Open(root, work)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !second.Resumed() || !second.Descriptor().Published {
		t.Fatalf("expected to resume a published session: %+v", second.Descriptor())
	}
	writeFile(t, second.DBPath(), "newer")
	res, err := second.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readFile(t, filepath.Join(root, DBName)); got != "newer" {
		t.Fatalf("canonical = %q", got)
	}
	backup := filepath.Join(root, DBName+BackupSuffix)
	if res.Backup != backup {
		t.Fatalf("Backup = %q, want %q", res.Backup, backup)
	}
	if got := readFile(t, backup); got != "pre-session" {
		t.Fatalf("backup = %q, want the pre-session archive", got)
	}
	if lock.Exists(root) || exists(work) {
		t.Fatalf("session not cleaned up")
	}
}

func TestOpenDescriptorMismatch(t *testing.T) {
	root, work := testDirs(t)
	if _, err := newTestManager(Options{}).Open(root, work); err != nil {
		t.Fatalf("Open: %v", err)
	}

	d, err := readDescriptor(work)
	if err != nil {
		t.Fatalf("readDescriptor: %v", err)
	}
	d.SessionID = "someone-else"
	data, _ := json.Marshal(d)
	writeFile(t, filepath.Join(work, DescriptorName), string(data))

	_, err = newTestManager(Options{}).Open(root, work)
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("expected ErrDescriptorMismatch, got %v", err)
	}

	st, err := Inspect(root, work)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.State != StateMismatch {
		t.Fatalf("Inspect state = %s", st.State)
	}
}

func TestOpenInconsistentState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, root, work string)
	}{
		{
			name: "lock without staging",
			setup: func(t *testing.T, root, work string) {
				if _, err := lock.Acquire(root, lock.NewToken("x", testNow)); err != nil {
					t.Fatalf("Acquire: %v", err)
				}
			},
		},
		{
			name: "staging without lock",
			setup: func(t *testing.T, root, work string) {
				writeFile(t, filepath.Join(work, DBName), "orphan")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, work := testDirs(t)
			tt.setup(t, root, work)
			_, err := newTestManager(Options{}).Open(root, work)
			if !errors.Is(err, ErrInconsistentState) {
				t.Fatalf("expected ErrInconsistentState, got %v", err)
			}
		})
	}
}

func TestResumeRefusesLiveHolder(t *testing.T) {
	root, work := testDirs(t)
	if _, err := newTestManager(Options{}).Open(root, work); err != nil {
		t.Fatalf("Open: %v", err)
	}

	tok, err := lock.Read(root)
	if err != nil {
		t.Fatalf("lock.Read: %v", err)
	}
	tok.PID = os.Getppid()
	data, _ := json.Marshal(tok)
	writeFile(t, filepath.Join(root, lock.FileName), string(data))

	_, err = newTestManager(Options{}).Open(root, work)
	if !errors.Is(err, lock.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}

func TestEncryptedBackup(t *testing.T) {
	root, work := testDirs(t)
	writeFile(t, filepath.Join(root, DBName), "secret archive")

	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	recipient, err := ParseRecipient(id.Recipient().String())
	if err != nil {
		t.Fatalf("ParseRecipient: %v", err)
	}

	s, err := newTestManager(Options{BackupRecipient: recipient}).Open(root, work)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	res, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Backup != filepath.Join(root, DBName+BackupSuffix+".age") {
		t.Fatalf("unexpected backup path %s", res.Backup)
	}

	f, err := os.Open(res.Backup)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer f.Close()
	r, err := age.Decrypt(f, id)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(plain, []byte("secret archive")) {
		t.Fatalf("decrypted backup = %q", plain)
	}
}

func TestInspectAndDiscard(t *testing.T) {
	root, work := testDirs(t)
	writeFile(t, filepath.Join(root, DBName), "keep me")

	st, err := Inspect(root, work)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.State != StateIdle {
		t.Fatalf("state = %s, want idle", st.State)
	}

	if _, err := newTestManager(Options{}).Open(root, work); err != nil {
		t.Fatalf("Open: %v", err)
	}
	st, err = Inspect(root, work)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.State != StateResumable || st.Token == nil || st.Token.SessionID != st.RootDesc.SessionID {
		t.Fatalf("unexpected status: %+v", st)
	}

	if err := Discard(root, work); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	st, err = Inspect(root, work)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.State != StateIdle {
		t.Fatalf("state after discard = %s", st.State)
	}
	if got := readFile(t, filepath.Join(root, DBName)); got != "keep me" {
		t.Fatalf("discard touched canonical archive: %q", got)
	}
}
