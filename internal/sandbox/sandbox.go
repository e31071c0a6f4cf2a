package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/codemig/internal/workspace"
)

const (
	// DefaultTimeout bounds one command's wall-clock time.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxOutputBytes caps the text returned to the model.
	DefaultMaxOutputBytes = 256 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	truncatedMarker = "\n... (output truncated)"
	noOutput        = "(no output)"
)

// Options tunes a Sandbox. Zero values select the defaults.
type Options struct {
	AllowedPrefixes []string
	Timeout         time.Duration
	MaxOutputBytes  int
	GracePeriod     time.Duration
	Logger          *slog.Logger
}

// Sandbox runs commands for exactly one workspace. It holds no mutable state
// and may be shared by sequential callers of the same run.
type Sandbox struct {
	ws      *workspace.Workspace
	allowed []string
	timeout time.Duration
	maxOut  int
	grace   time.Duration
	logger  *slog.Logger
}

// New binds a sandbox to ws.
func New(ws *workspace.Workspace, opts Options) *Sandbox {
	s := &Sandbox{
		ws:      ws,
		allowed: opts.AllowedPrefixes,
		timeout: opts.Timeout,
		maxOut:  opts.MaxOutputBytes,
		grace:   opts.GracePeriod,
		logger:  opts.Logger,
	}
	if s.allowed == nil {
		s.allowed = DefaultAllowedPrefixes
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxOut <= 0 {
		s.maxOut = DefaultMaxOutputBytes
	}
	if s.grace <= 0 {
		s.grace = terminationGracePeriod
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "sandbox"), slog.String("repo_id", ws.RepoID))
	return s
}

// Workspace returns the bound workspace.
func (s *Sandbox) Workspace() *workspace.Workspace {
	return s.ws
}

// Validate decides whether command may run.
func (s *Sandbox) Validate(command string) Verdict {
	return Check(s.ws.Root(), s.allowed, command)
}

// Run validates command and executes it only when allowed. Every outcome,
// denial included, is returned as text.
func (s *Sandbox) Run(ctx context.Context, command string) string {
	v := s.Validate(command)
	if !v.Allowed {
		s.logger.Warn("command denied", "command", command, "reason", v.Reason)
		return v.Reason
	}
	return s.Execute(ctx, command)
}

// Execute runs command through sh with the workspace root as working
// directory, merging stdout and stderr. It assumes Validate has passed.
func (s *Sandbox) Execute(ctx context.Context, command string) string {
	timeoutTimer := time.NewTimer(s.timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination of the whole process group is managed here.
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.ws.Root()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = s.grace

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	s.logger.Debug("executing command", "command", command, "timeout", s.timeout)

	if err := cmd.Start(); err != nil {
		return fmt.Sprintf("Error executing command: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		s.logger.Warn("command timed out, terminating process group", "command", command)
		s.terminate(cmd, waitErr)
		return fmt.Sprintf("Error: Command timed out after %s", formatTimeout(s.timeout))

	case <-ctx.Done():
		s.logger.Warn("command interrupted", "command", command, "error", ctx.Err())
		s.terminate(cmd, waitErr)
		return fmt.Sprintf("Error executing command: %v", ctx.Err())

	case err := <-waitErr:
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return fmt.Sprintf("Error executing command: %v", err)
			}
			s.logger.Debug("command exited with non-zero status", "exit_code", exitErr.ExitCode())
		}
		return s.render(out.String())
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL once the grace
// period expires.
func (s *Sandbox) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		s.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		s.logger.Warn("command did not exit after SIGTERM, sending SIGKILL")
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			s.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func (s *Sandbox) render(text string) string {
	if text == "" {
		return noOutput
	}
	if len(text) > s.maxOut {
		return text[:s.maxOut] + truncatedMarker
	}
	return text
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int64(d/time.Second))
	}
	return d.String()
}
