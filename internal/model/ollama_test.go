package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc, retries uint) *Ollama {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOllama(OllamaConfig{
		Model:       "test-model",
		Host:        srv.URL,
		Temperature: 0.5,
		Options:     map[string]any{"num_ctx": 8192},
		MaxRetries:  retries,
		Backoff:     time.Millisecond,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	return o
}

func TestOllamaRespondToolCall(t *testing.T) {
	var got map[string]any
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"test-model","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"execute_command","arguments":{"command":"mvn -v"}}}]},"done":true,"prompt_eval_count":12,"eval_count":3}`+"\n")
	}, 1)

	resp, err := o.Respond(context.Background(), Request{
		System: "be helpful",
		Messages: []Message{
			{Role: RoleUser, Content: "migrate"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "execute_command", Arguments: map[string]any{"command": "ls"}}}},
			{Role: RoleTool, ToolName: "execute_command", Content: "pom.xml"},
		},
		Tools: []ToolDef{{
			Name:        "execute_command",
			Description: "run a shell command",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"cmd"}},"required":["command"]}`),
		}},
	})
	require.NoError(t, err)

	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, RoleAssistant, resp.Message.Role)
	assert.Equal(t, "execute_command", resp.Message.ToolCalls[0].Name)
	assert.Equal(t, "mvn -v", resp.Message.ToolCalls[0].Arguments["command"])
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)

	// Request shape: system message first, tools forwarded, options merged.
	assert.Equal(t, "test-model", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "be helpful", msgs[0].(map[string]any)["content"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "execute_command", fn["name"])
	opts := got["options"].(map[string]any)
	assert.Equal(t, 0.5, opts["temperature"])
	assert.Equal(t, float64(8192), opts["num_ctx"])
	assert.Equal(t, false, got["stream"])
}

func TestOllamaRespondFinalAnswer(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"test-model","message":{"role":"assistant","content":"All done."},"done":true}`+"\n")
	}, 1)

	resp, err := o.Respond(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "All done.", resp.Message.Content)
	assert.Empty(t, resp.Message.ToolCalls)
}

func TestOllamaRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"loading model"}`)
			return
		}
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`+"\n")
	}, 3)

	resp, err := o.Respond(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}, 3)

	_, err := o.Respond(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaCanceledContext(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Respond(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOllamaRequiresModel(t *testing.T) {
	_, err := NewOllama(OllamaConfig{Host: "http://localhost:11434"})
	assert.Error(t, err)
}

func TestOracleFunc(t *testing.T) {
	f := OracleFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{Message: Message{Role: RoleAssistant, Content: req.System}}, nil
	})
	resp, err := f.Respond(context.Background(), Request{System: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Message.Content)
}
