package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func runGitCommand(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmdArgs := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text == "" {
			text = err.Error()
		}
		return "", fmt.Errorf("git %s failed in %s: %s", strings.Join(args, " "), repoPath, text)
	}
	return text, nil
}

// HeadRevision returns the commit checked out in dir.
func HeadRevision(ctx context.Context, dir string) (string, error) {
	return runGitCommand(ctx, dir, "rev-parse", "HEAD")
}

// Diff returns the textual change set of ws relative to its base revision.
func Diff(ctx context.Context, ws *Workspace) (string, error) {
	if ws.BaseRevision == "" {
		return "", ErrNoBaseRevision
	}
	cmd := exec.CommandContext(ctx, "git", "-C", ws.Root(), "diff", ws.BaseRevision)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff %s in %s: %w", ws.BaseRevision, ws.Root(), err)
	}
	return string(out), nil
}
