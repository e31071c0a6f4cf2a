package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattjoyce/codemig/internal/workspace"
)

const defaultPrepareTimeout = 10 * time.Minute

// CommandPreparer runs a shell command in the workspace root before the
// first round. A non-zero exit faults the run.
type CommandPreparer struct {
	Command string
	Timeout time.Duration
}

// Prepare implements Preparer.
func (p CommandPreparer) Prepare(ctx context.Context, ws *workspace.Workspace) error {
	if p.Command == "" {
		return nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPrepareTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	cmd.Dir = ws.Root()
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &workspace.AcquisitionError{
			RepoID: ws.RepoID,
			Stage:  workspace.StagePrepare,
			Err:    fmt.Errorf("%q: %w: %s", p.Command, err, bytes.TrimSpace(out.Bytes())),
		}
	}
	return nil
}
