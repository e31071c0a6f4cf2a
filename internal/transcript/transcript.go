// Package transcript records the rounds of one agent run.
package transcript

import (
	"sync"
	"time"

	"github.com/mattjoyce/codemig/internal/model"
)

// ToolResult is the textual outcome of one tool call.
type ToolResult struct {
	CallID string         `json:"call_id,omitempty"`
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output"`
}

// Round is one model request/response exchange and the tool calls it caused.
type Round struct {
	Number    int           `json:"number"`
	Assistant model.Message `json:"assistant"`
	Results   []ToolResult  `json:"results,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Transcript is an append-only, ordered record of a run. It is safe for
// concurrent readers while its single owner appends.
type Transcript struct {
	mu          sync.RWMutex
	instruction string
	rounds      []Round
}

// New starts a transcript with the initial user instruction.
func New(instruction string) *Transcript {
	return &Transcript{instruction: instruction}
}

// Instruction returns the initial user message.
func (t *Transcript) Instruction() string {
	return t.instruction
}

// Append records r as the next round. Number is assigned here so rounds are
// always 1..n in append order.
func (t *Transcript) Append(r Round) Round {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Number = len(t.rounds) + 1
	r.Results = append([]ToolResult(nil), r.Results...)
	t.rounds = append(t.rounds, r)
	return r
}

// Len returns the number of recorded rounds.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rounds)
}

// Rounds returns a copy of the recorded rounds.
func (t *Transcript) Rounds() []Round {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Round, len(t.rounds))
	copy(out, t.rounds)
	return out
}

// Messages renders the transcript as the conversation sent to the model:
// the instruction, then for each round the assistant message followed by
// one tool message per result.
func (t *Transcript) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	msgs := make([]model.Message, 0, 1+len(t.rounds)*2)
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: t.instruction})
	for _, r := range t.rounds {
		msgs = append(msgs, r.Assistant)
		for _, res := range r.Results {
			msgs = append(msgs, model.Message{
				Role:       model.RoleTool,
				Content:    res.Output,
				ToolName:   res.Tool,
				ToolCallID: res.CallID,
			})
		}
	}
	return msgs
}

// Entry is the flattened, persisted form of one conversation message.
type Entry struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
	Round     int              `json:"round,omitempty"`
}

// Trajectory flattens the transcript into the message list written to
// result files.
func (t *Transcript) Trajectory() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := []Entry{{Role: string(model.RoleUser), Content: t.instruction}}
	for _, r := range t.rounds {
		out = append(out, Entry{
			Role:      string(r.Assistant.Role),
			Content:   r.Assistant.Content,
			ToolCalls: r.Assistant.ToolCalls,
			Round:     r.Number,
		})
		for _, res := range r.Results {
			out = append(out, Entry{
				Role:     string(model.RoleTool),
				Content:  res.Output,
				ToolName: res.Tool,
				Round:    r.Number,
			})
		}
	}
	return out
}
