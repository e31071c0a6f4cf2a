package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager owns the per-repository checkout directories of one experiment.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager creates a filesystem-backed workspace manager rooted at baseDir
// (typically <workdir>/<experiment>).
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &Manager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// BaseDir returns the directory holding every checkout.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Prepare removes any previous checkout for repoID and recreates an empty
// directory in its place.
func (m *Manager) Prepare(ctx context.Context, repoID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := m.Path(repoID)
	if err != nil {
		return "", err
	}

	if err := os.RemoveAll(path); err != nil {
		return "", fmt.Errorf("remove previous workspace for %q: %w", repoID, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create workspace for %q: %w", repoID, err)
	}
	return path, nil
}

// Open returns the existing checkout directory for repoID.
func (m *Manager) Open(ctx context.Context, repoID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := m.Path(repoID)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("open workspace for %q: %w", repoID, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace path for %q is not a directory", repoID)
	}
	return path, nil
}

// Cleanup removes workspace directories older than olderThan based on directory
// modification time.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

// Path returns the checkout directory for repoID without touching disk.
func (m *Manager) Path(repoID string) (string, error) {
	name, err := SanitizeRepoID(repoID)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, name), nil
}

// SanitizeRepoID maps "owner/repo" to the single path segment "owner__repo".
func SanitizeRepoID(repoID string) (string, error) {
	trimmed := strings.TrimSpace(repoID)
	if trimmed == "" {
		return "", fmt.Errorf("repo id is empty")
	}
	if strings.Contains(trimmed, `\`) {
		return "", fmt.Errorf("repo id %q must not contain backslashes", repoID)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("repo id %q is invalid", repoID)
		}
	}
	return strings.ReplaceAll(trimmed, "/", "__"), nil
}
