package api

import (
	"time"

	"github.com/mattjoyce/codemig/internal/results"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Batches       int    `json:"batches"`
	LiveEvents    bool   `json:"live_events"`
}

// BatchesResponse is returned by GET /batches.
type BatchesResponse struct {
	Batches []results.BatchSummary `json:"batches"`
}

// ResultSummary is a record without its trajectory.
type ResultSummary struct {
	RepoID              string          `json:"repo_id"`
	Variant             string          `json:"variant"`
	State               string          `json:"terminal_state"`
	Reason              string          `json:"terminal_reason,omitempty"`
	Rounds              int             `json:"rounds"`
	MaxMigrationSuccess bool            `json:"max_migration_success"`
	MinMigrationSuccess bool            `json:"min_migration_success"`
	Max                 results.Verdict `json:"max_verdict"`
	Min                 results.Verdict `json:"min_verdict"`
	DiffHash            string          `json:"diff_hash,omitempty"`
	UnitError           string          `json:"unit_error,omitempty"`
	FinishedAt          time.Time       `json:"finished_at"`
}

// ResultsResponse is returned by GET /batches/{batch}/results.
type ResultsResponse struct {
	BatchID string          `json:"batch_id"`
	Results []ResultSummary `json:"results"`
}

func summarize(rec results.Record) ResultSummary {
	return ResultSummary{
		RepoID:              rec.RepoID,
		Variant:             rec.Variant,
		State:               rec.State,
		Reason:              rec.Reason,
		Rounds:              rec.Rounds,
		MaxMigrationSuccess: rec.MaxSuccess(),
		MinMigrationSuccess: rec.MinSuccess(),
		Max:                 rec.Max,
		Min:                 rec.Min,
		DiffHash:            rec.DiffHash,
		UnitError:           rec.UnitError,
		FinishedAt:          rec.FinishedAt,
	}
}
