package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is one acquired repository checkout an agent run may touch.
//
// The root is made absolute and symlink-resolved once, in New, and never
// recomputed afterwards; every containment decision compares against it.
type Workspace struct {
	root string

	RepoID       string
	BaseRevision string
	SourceURL    string
}

// Source acquires workspaces for repository identifiers.
type Source interface {
	Acquire(ctx context.Context, repoID string) (*Workspace, error)
}

// New binds a workspace to an existing directory.
func New(root, repoID, baseRevision string) (*Workspace, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", resolved)
	}
	return &Workspace{root: resolved, RepoID: repoID, BaseRevision: baseRevision}, nil
}

// Root returns the absolute, symlink-resolved workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve interprets p relative to the root when it is not absolute and
// returns the cleaned result. It does not check containment.
func (w *Workspace) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(w.root, p)
}

// Contains reports whether the cleaned absolute path p is the root or lies
// beneath it. Comparison is per path component, so /work/r10 is not inside
// /work/r1.
func (w *Workspace) Contains(p string) bool {
	return Within(w.root, p)
}

// Within reports whether p is root or a descendant of root after cleaning.
func Within(root, p string) bool {
	root = filepath.Clean(root)
	p = filepath.Clean(p)
	if p == root {
		return true
	}
	if root == string(filepath.Separator) {
		return filepath.IsAbs(p)
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}
