package evaluation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"text/template"
	"time"

	"github.com/mattjoyce/codemig/internal/workspace"
)

// DefaultTimeout bounds one evaluator invocation.
const DefaultTimeout = 30 * time.Minute

const maxDetailBytes = 4 * 1024

// ErrNotConfigured is wrapped by Evaluate when no command is set.
var ErrNotConfigured = errors.New("evaluation command not configured")

// TemplateData is exposed to each argv element of the command template.
type TemplateData struct {
	Path    string
	URL     string
	RepoID  string
	Policy  Policy
	Maximal bool
}

// CommandEvaluator runs an external checker. Exit status 0 is a pass, 1 is
// a fail, anything else (or a failure to start, or a timeout) is an Error.
type CommandEvaluator struct {
	argv    []*template.Template
	timeout time.Duration
}

// NewCommandEvaluator parses each argv element as a text/template. An empty
// command yields an evaluator whose every call is an Error.
func NewCommandEvaluator(command []string, timeout time.Duration) (*CommandEvaluator, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ev := &CommandEvaluator{timeout: timeout}
	for i, arg := range command {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parse evaluation argument %d: %w", i, err)
		}
		ev.argv = append(ev.argv, tmpl)
	}
	return ev, nil
}

// Args renders the command for one invocation.
func (e *CommandEvaluator) Args(ws *workspace.Workspace, policy Policy) ([]string, error) {
	data := TemplateData{
		Path:    ws.Root(),
		URL:     ws.SourceURL,
		RepoID:  ws.RepoID,
		Policy:  policy,
		Maximal: policy == Maximal,
	}
	args := make([]string, 0, len(e.argv))
	for _, tmpl := range e.argv {
		var b strings.Builder
		if err := tmpl.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render evaluation command: %w", err)
		}
		args = append(args, b.String())
	}
	return args, nil
}

// Evaluate implements Evaluator.
func (e *CommandEvaluator) Evaluate(ctx context.Context, ws *workspace.Workspace, policy Policy) (bool, error) {
	if len(e.argv) == 0 {
		return false, &Error{Policy: policy, Err: ErrNotConfigured}
	}
	args, err := e.Args(ws, policy)
	if err != nil {
		return false, &Error{Policy: policy, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = ws.Root()
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	err = cmd.Run()
	if ctx.Err() != nil {
		return false, &Error{Policy: policy, Err: fmt.Errorf("evaluation stopped after %s: %w", e.timeout, ctx.Err())}
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	case errors.As(err, &exitErr):
		return false, &Error{Policy: policy, Err: fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), tail(out.Bytes()))}
	default:
		return false, &Error{Policy: policy, Err: err}
	}
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxDetailBytes {
		b = b[len(b)-maxDetailBytes:]
	}
	return string(b)
}
