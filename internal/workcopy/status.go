package workcopy

import (
	"path/filepath"

	"github.com/tcai793/datamanager/internal/fsutil"
	"github.com/tcai793/datamanager/internal/lock"
)

type State string

const (
	StateIdle         State = "idle"
	StateResumable    State = "resumable"
	StateMismatch     State = "mismatch"
	StateInconsistent State = "inconsistent"
)

type Status struct {
	State          State       `json:"state"`
	LockPresent    bool        `json:"lock_present"`
	StagingPresent bool        `json:"staging_present"`
	Token          *lock.Token `json:"token,omitempty"`
	RootDesc       *Descriptor `json:"root_descriptor,omitempty"`
	WorkDesc       *Descriptor `json:"work_descriptor,omitempty"`
}

// Inspect reports what Open would find, without changing anything.
func Inspect(root, workDir string) (Status, error) {
	root, work, err := normalizePaths(root, workDir)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		LockPresent:    lock.Exists(root),
		StagingPresent: fsutil.Exists(filepath.Join(work, DBName)),
	}
	if tok, err := lock.Read(root); err == nil {
		st.Token = &tok
	}
	if d, err := readDescriptor(root); err == nil {
		st.RootDesc = &d
	}
	if d, err := readDescriptor(work); err == nil {
		st.WorkDesc = &d
	}

	switch {
	case !st.LockPresent && !st.StagingPresent:
		st.State = StateIdle
	case st.LockPresent != st.StagingPresent:
		st.State = StateInconsistent
	case st.RootDesc != nil && st.WorkDesc != nil && st.RootDesc.Equal(*st.WorkDesc) &&
		st.RootDesc.Root == root && st.RootDesc.Work == work:
		st.State = StateResumable
	default:
		st.State = StateMismatch
	}
	return st, nil
}
