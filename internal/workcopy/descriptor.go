package workcopy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tcai793/datamanager/internal/fsutil"
)

// Descriptor identifies a session. An identical copy lives in the archive
// root and in the working directory.
type Descriptor struct {
	SessionID string    `json:"session_id"`
	Root      string    `json:"root"`
	Work      string    `json:"work"`
	StartedAt time.Time `json:"started_at"`
	// Published is set in the root copy just before the staging database
	// replaces the canonical one. A resumed session with Published set must
	// not back up the canonical database again.
	Published bool `json:"published,omitempty"`
}

// Equal compares the session identity. Published is not part of it.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.SessionID == o.SessionID &&
		d.Root == o.Root &&
		d.Work == o.Work &&
		d.StartedAt.Equal(o.StartedAt)
}

func writeDescriptor(dir string, d Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, DescriptorName), data, 0600); err != nil {
		return fmt.Errorf("write session descriptor: %w", err)
	}
	return nil
}

func readDescriptor(dir string) (Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorName))
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse %s: %w", DescriptorName, err)
	}
	return d, nil
}

func removeDescriptor(dir string) error {
	if err := os.Remove(filepath.Join(dir, DescriptorName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session descriptor: %w", err)
	}
	return nil
}
