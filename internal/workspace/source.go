package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
)

// Pin carries per-repository acquisition hints from a dataset manifest.
type Pin struct {
	URL        string
	BaseCommit string
}

// GitSource clones repositories into a Manager-owned directory.
type GitSource struct {
	Manager *Manager
	BaseURL string
	// CloneTimeout bounds the whole acquisition: every clone attempt, the
	// backoff between them, the base checkout and the HEAD lookup.
	CloneTimeout time.Duration
	Attempts     uint
	RetryBackoff time.Duration
	Pins         map[string]Pin
	Logger       *slog.Logger
}

var _ Source = (*GitSource)(nil)

// CloneURL returns the remote for repoID: the pinned URL when known,
// otherwise <BaseURL>/<repoID>.git.
func (s *GitSource) CloneURL(repoID string) string {
	if pin, ok := s.Pins[repoID]; ok && pin.URL != "" {
		return pin.URL
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + repoID + ".git"
}

// Acquire clones repoID, checks out its pinned base commit when one is known
// and records the resulting HEAD as the base revision.
func (s *GitSource) Acquire(ctx context.Context, repoID string) (*Workspace, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("repo_id", repoID))

	if err := ctx.Err(); err != nil {
		return nil, &AcquisitionError{RepoID: repoID, Stage: StagePrepare, Err: err}
	}

	acqCtx := ctx
	if s.CloneTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.CloneTimeout)
		defer cancel()
	}
	fail := func(stage string, err error) error {
		if errors.Is(acqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &AcquisitionError{
				RepoID: repoID,
				Stage:  StageTimeout,
				Err:    fmt.Errorf("acquisition timed out after %s during %s: %w", s.CloneTimeout, stage, err),
			}
		}
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) {
			return acqErr
		}
		return &AcquisitionError{RepoID: repoID, Stage: stage, Err: err}
	}

	url := s.CloneURL(repoID)
	var dir string

	attempts := s.Attempts
	if attempts == 0 {
		attempts = 1
	}
	wait := s.RetryBackoff
	if wait <= 0 {
		wait = time.Second
	}

	err := retry.Retry(func(attempt uint) error {
		var err error
		dir, err = s.Manager.Prepare(acqCtx, repoID)
		if err != nil {
			return &AcquisitionError{RepoID: repoID, Stage: StagePrepare, Err: err}
		}
		logger.Info("cloning repository", "url", url, "dir", dir, "attempt", attempt)
		if _, err := runGitCommand(acqCtx, filepath.Dir(dir), "clone", url, dir); err != nil {
			return &AcquisitionError{RepoID: repoID, Stage: StageClone, Err: err}
		}
		return nil
	},
		strategy.Limit(attempts),
		func(uint) bool { return acqCtx.Err() == nil },
		strategy.Backoff(backoff.Exponential(wait, 2)),
	)
	if err != nil {
		var acqErr *AcquisitionError
		stage := StageClone
		if errors.As(err, &acqErr) {
			stage = acqErr.Stage
		}
		return nil, fail(stage, err)
	}

	if pin, ok := s.Pins[repoID]; ok && pin.BaseCommit != "" {
		if _, err := runGitCommand(acqCtx, dir, "checkout", pin.BaseCommit); err != nil {
			return nil, fail(StageCheckout, err)
		}
	}

	head, err := HeadRevision(acqCtx, dir)
	if err != nil {
		return nil, fail(StageCheckout, err)
	}

	ws, err := New(dir, repoID, head)
	if err != nil {
		return nil, &AcquisitionError{RepoID: repoID, Stage: StageResolve, Err: err}
	}
	ws.SourceURL = url
	logger.Info("workspace acquired", "root", ws.Root(), "base_revision", head)
	return ws, nil
}

// LocalSource binds repository identifiers to directories that already exist
// on disk. It never copies or removes anything.
type LocalSource struct {
	// Dirs maps repo ids to directories. An id missing from Dirs is treated
	// as a path itself.
	Dirs map[string]string
}

var _ Source = (*LocalSource)(nil)

// Acquire resolves the directory for repoID and records its HEAD, if any.
func (s *LocalSource) Acquire(ctx context.Context, repoID string) (*Workspace, error) {
	dir := repoID
	if d, ok := s.Dirs[repoID]; ok {
		dir = d
	}

	ws, err := New(dir, repoID, "")
	if err != nil {
		return nil, &AcquisitionError{RepoID: repoID, Stage: StageResolve, Err: err}
	}
	if ws.RepoID == "" {
		ws.RepoID = filepath.Base(ws.Root())
	}
	if head, err := HeadRevision(ctx, ws.Root()); err == nil {
		ws.BaseRevision = head
	}
	return ws, nil
}

// OpenLocal binds a single existing directory, naming it after its base name
// when repoID is empty.
func OpenLocal(ctx context.Context, dir, repoID string) (*Workspace, error) {
	src := &LocalSource{Dirs: map[string]string{repoID: dir}}
	return src.Acquire(ctx, repoID)
}
