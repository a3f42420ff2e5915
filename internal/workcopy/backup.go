package workcopy

import (
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/tcai793/datamanager/internal/fsutil"
)

// ParseRecipient parses an age public key ("age1...").
func ParseRecipient(s string) (age.Recipient, error) {
	recipients, err := age.ParseRecipients(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("parse age recipient: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no age recipient found")
	}
	return recipients[0], nil
}

// existingBackup returns the backup written for canonical, or "" if there is
// none.
func (m *Manager) existingBackup(canonical string) string {
	path := canonical + BackupSuffix
	if m.opts.BackupRecipient != nil {
		path += ".age"
	}
	if !fsutil.Exists(path) {
		return ""
	}
	return path
}

// backup snapshots the canonical database next to itself, encrypted when a
// recipient is configured. It returns the backup path.
func (m *Manager) backup(canonical string) (string, error) {
	if m.opts.BackupRecipient == nil {
		path := canonical + BackupSuffix
		if err := fsutil.CopyFileAtomic(canonical, path); err != nil {
			return "", fmt.Errorf("back up archive: %w", err)
		}
		return path, nil
	}

	path := canonical + BackupSuffix + ".age"
	in, err := os.Open(canonical)
	if err != nil {
		return "", fmt.Errorf("back up archive: %w", err)
	}
	defer in.Close()

	err = fsutil.WriteAtomic(path, 0600, func(w io.Writer) error {
		enc, err := age.Encrypt(w, m.opts.BackupRecipient)
		if err != nil {
			return fmt.Errorf("creating encrypted writer: %w", err)
		}
		if _, err := io.Copy(enc, in); err != nil {
			return fmt.Errorf("encrypting backup: %w", err)
		}
		return enc.Close()
	})
	if err != nil {
		return "", fmt.Errorf("back up archive: %w", err)
	}
	return path, nil
}
