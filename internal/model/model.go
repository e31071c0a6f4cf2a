// Package model defines the contract the agent loop uses to talk to a
// language model and an Ollama-backed implementation of it.
package model

import (
	"context"
	"encoding/json"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation proposed by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one conversation entry.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolName and ToolCallID tie a tool result to the call that produced it.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDef declares a callable tool and its JSON input schema.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one round's input to the model.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is the model's reply for one round.
type Response struct {
	Message Message
	Usage   Usage
}

// Oracle is an opaque decision-maker: given the conversation so far, it
// proposes the next assistant message. Implementations must honour ctx.
type Oracle interface {
	Respond(ctx context.Context, req Request) (Response, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req Request) (Response, error)

// Respond calls f.
func (f OracleFunc) Respond(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
