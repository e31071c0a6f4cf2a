package workspace

import (
	"errors"
	"fmt"
)

// Acquisition stages reported by AcquisitionError.
const (
	StageClone    = "clone"
	StageCheckout = "checkout"
	StageTimeout  = "timeout"
	StagePrepare  = "prepare"
	StageResolve  = "resolve"
)

// ErrNoBaseRevision is returned by Diff when the workspace has no recorded
// starting revision.
var ErrNoBaseRevision = errors.New("workspace has no base revision")

// AcquisitionError reports a failed workspace acquisition.
type AcquisitionError struct {
	RepoID string
	Stage  string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.RepoID, e.Stage, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
