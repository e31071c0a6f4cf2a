// Package results holds per-repository migration records and the sinks
// that persist them.
package results

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/codemig/internal/transcript"
)

// ErrExists is returned by a Sink when a record for the same batch and
// repository was already written.
var ErrExists = errors.New("result already recorded")

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("result not found")

// Outcome is the tri-state result of one evaluation.
type Outcome string

const (
	Pass    Outcome = "pass"
	Fail    Outcome = "fail"
	Errored Outcome = "error"
)

// Verdict is one evaluation outcome. Error carries the evaluator failure
// text when Outcome is Errored.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Success reports whether the evaluation passed. Errored counts as false.
func (v Verdict) Success() bool {
	return v.Outcome == Pass
}

// VerdictOf converts an evaluator return into a Verdict.
func VerdictOf(ok bool, err error) Verdict {
	switch {
	case err != nil:
		return Verdict{Outcome: Errored, Error: err.Error()}
	case ok:
		return Verdict{Outcome: Pass}
	default:
		return Verdict{Outcome: Fail}
	}
}

// Record is the persisted outcome of one repository in one batch.
type Record struct {
	BatchID      string             `json:"batch_id"`
	RepoID       string             `json:"repo_id"`
	Variant      string             `json:"variant"`
	State        string             `json:"terminal_state"`
	Reason       string             `json:"terminal_reason,omitempty"`
	Rounds       int                `json:"rounds"`
	Max          Verdict            `json:"max_verdict"`
	Min          Verdict            `json:"min_verdict"`
	BaseRevision string             `json:"base_revision,omitempty"`
	DiffHash     string             `json:"diff_hash,omitempty"`
	UnitError    string             `json:"unit_error,omitempty"`
	Trajectory   []transcript.Entry `json:"trajectory"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// MaxSuccess is the compatibility boolean for the maximal policy.
func (r Record) MaxSuccess() bool { return r.Max.Success() }

// MinSuccess is the compatibility boolean for the minimal policy.
func (r Record) MinSuccess() bool { return r.Min.Success() }

// Sink persists records. Put must be safe for concurrent use and must
// return ErrExists rather than overwrite.
type Sink interface {
	Put(ctx context.Context, rec Record) error
}

// Reader looks records up.
type Reader interface {
	Batches(ctx context.Context) ([]BatchSummary, error)
	List(ctx context.Context, batchID string) ([]Record, error)
	Get(ctx context.Context, batchID, repoID string) (Record, error)
}

// BatchSummary aggregates one batch.
type BatchSummary struct {
	ID         string    `json:"id"`
	Experiment string    `json:"experiment,omitempty"`
	Variant    string    `json:"variant,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Total      int       `json:"total"`
	MaxPassed  int       `json:"max_passed"`
	MinPassed  int       `json:"min_passed"`
}

// Batch describes a batch at registration time.
type Batch struct {
	ID         string
	Experiment string
	Variant    string
	Model      string
	CreatedAt  time.Time
}
