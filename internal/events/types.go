package events

// Event types published by the orchestrator.
const (
	BatchStarted   = "batch.started"
	BatchCompleted = "batch.completed"
	UnitStarted    = "unit.started"
	UnitAcquired   = "unit.acquired"
	UnitRound      = "unit.round"
	UnitCompleted  = "unit.completed"
	UnitFailed     = "unit.failed"
)

// BatchPayload accompanies batch.* events.
type BatchPayload struct {
	BatchID     string `json:"batch_id"`
	Variant     string `json:"variant,omitempty"`
	Total       int    `json:"total"`
	Concurrency int    `json:"concurrency,omitempty"`
	Completed   int    `json:"completed,omitempty"`
	Failed      int    `json:"failed,omitempty"`
}

// UnitPayload accompanies unit.* events. Fields irrelevant to an event type
// are left empty.
type UnitPayload struct {
	BatchID      string `json:"batch_id"`
	RepoID       string `json:"repo_id"`
	BaseRevision string `json:"base_revision,omitempty"`
	Round        int    `json:"round,omitempty"`
	MaxRounds    int    `json:"max_rounds,omitempty"`
	ToolCalls    int    `json:"tool_calls,omitempty"`
	State        string `json:"state,omitempty"`
	MaxVerdict   string `json:"max_verdict,omitempty"`
	MinVerdict   string `json:"min_verdict,omitempty"`
	Error        string `json:"error,omitempty"`
}
