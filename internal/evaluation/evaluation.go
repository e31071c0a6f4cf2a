// Package evaluation decides whether a migrated workspace meets the target.
// The oracle itself is external; this package fixes the contract, a
// command-backed implementation, and the two-policy verification step.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/codemig/internal/results"
	"github.com/mattjoyce/codemig/internal/workspace"
)

// Policy selects how strict an evaluation is.
type Policy string

const (
	Maximal Policy = "maximal"
	Minimal Policy = "minimal"
)

// Evaluator judges a workspace. It must not modify the workspace. A false
// result means the check ran and failed; an error means it could not run.
type Evaluator interface {
	Evaluate(ctx context.Context, ws *workspace.Workspace, policy Policy) (bool, error)
}

// Error is an evaluator failure that is distinct from a negative verdict.
type Error struct {
	Policy Policy
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluate (%s): %v", e.Policy, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Verdicts holds the outcome of both policies.
type Verdicts struct {
	Max results.Verdict
	Min results.Verdict
	// Mutated is set when the workspace fingerprint changed across
	// evaluation.
	Mutated bool
}

// Verify evaluates ws under the maximal then the minimal policy. The
// workspace is fingerprinted before and after; a change is logged, and
// flagged in the result, because evaluation must be side-effect free.
func Verify(ctx context.Context, ev Evaluator, ws *workspace.Workspace, logger *slog.Logger) Verdicts {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "evaluation"), slog.String("repo_id", ws.RepoID))

	before, ferr := workspace.Fingerprint(ws)
	if ferr != nil {
		logger.Warn("fingerprint before evaluation failed", "error", ferr)
	}

	var out Verdicts
	out.Max = results.VerdictOf(ev.Evaluate(ctx, ws, Maximal))
	out.Min = results.VerdictOf(ev.Evaluate(ctx, ws, Minimal))

	if ferr == nil {
		after, err := workspace.Fingerprint(ws)
		switch {
		case err != nil:
			logger.Warn("fingerprint after evaluation failed", "error", err)
		case after != before:
			out.Mutated = true
			logger.Warn("evaluation modified the workspace", "before", before, "after", after)
		}
	}

	logger.Info("evaluation complete",
		"max", out.Max.Outcome,
		"min", out.Min.Outcome,
	)
	return out
}
