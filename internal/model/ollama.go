package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	ollama "github.com/ollama/ollama/api"
)

// OllamaConfig configures the Ollama oracle.
type OllamaConfig struct {
	Model       string
	Host        string // empty: OLLAMA_HOST or the library default
	Temperature float64
	Options     map[string]any
	MaxRetries  uint
	Backoff     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Ollama is an Oracle backed by an Ollama server's chat endpoint.
type Ollama struct {
	client  *ollama.Client
	cfg     OllamaConfig
	logger  *slog.Logger
	backoff time.Duration
}

var _ Oracle = (*Ollama)(nil)

// NewOllama creates an Ollama oracle.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}

	var client *ollama.Client
	if cfg.Host != "" {
		base, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("ollama: parse host %q: %w", cfg.Host, err)
		}
		httpClient := cfg.HTTPClient
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		client = ollama.NewClient(base, httpClient)
	} else {
		var err error
		client, err = ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	wait := cfg.Backoff
	if wait <= 0 {
		wait = 2 * time.Second
	}

	return &Ollama{
		client:  client,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "model"), slog.String("model", cfg.Model)),
		backoff: wait,
	}, nil
}

// Respond sends the conversation to /api/chat and returns the assistant
// message. Server errors and transport failures are retried; 4xx responses
// are not.
func (o *Ollama) Respond(ctx context.Context, req Request) (Response, error) {
	chatReq, err := o.buildRequest(req)
	if err != nil {
		return Response{}, err
	}

	var resp Response
	var permanent error
	err = retry.Retry(func(attempt uint) error {
		if attempt > 0 {
			o.logger.Warn("retrying model request", "attempt", attempt)
		}
		r, err := o.chat(ctx, chatReq)
		if err != nil {
			if !retryable(ctx, err) {
				permanent = err
				return nil
			}
			return err
		}
		resp = r
		return nil
	},
		strategy.Limit(o.cfg.MaxRetries),
		func(uint) bool { return ctx.Err() == nil },
		strategy.Backoff(backoff.Exponential(o.backoff, 2)),
	)
	if permanent != nil {
		return Response{}, fmt.Errorf("ollama chat: %w", permanent)
	}
	if err != nil {
		return Response{}, fmt.Errorf("ollama chat: %w", err)
	}
	if ctx.Err() != nil && resp.Message.Role == "" {
		return Response{}, fmt.Errorf("ollama chat: %w", ctx.Err())
	}
	return resp, nil
}

func (o *Ollama) chat(ctx context.Context, req *ollama.ChatRequest) (Response, error) {
	var content, thinking strings.Builder
	var last ollama.ChatResponse
	var calls []ollama.ToolCall

	err := o.client.Chat(ctx, req, func(r ollama.ChatResponse) error {
		content.WriteString(r.Message.Content)
		thinking.WriteString(r.Message.Thinking)
		calls = append(calls, r.Message.ToolCalls...)
		last = r
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	last.Message.Content = content.String()
	last.Message.Thinking = thinking.String()
	last.Message.ToolCalls = calls
	return decodeResponse(last)
}

// The wire types of the ollama package change shape between releases, so
// conversion goes through their JSON form rather than struct fields.

type wireToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Thinking  string         `json:"thinking,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
}

type wireResponse struct {
	Message         wireMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

func (o *Ollama) buildRequest(req Request) (*ollama.ChatRequest, error) {
	wire := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		wire = append(wire, wireMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			var wc wireToolCall
			wc.Function.Name = tc.Name
			wc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		wire = append(wire, wm)
	}

	var messages []ollama.Message
	if err := convert(wire, &messages); err != nil {
		return nil, fmt.Errorf("ollama: encode messages: %w", err)
	}

	tools := make([]wireTool, 0, len(req.Tools))
	for _, td := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = td.Name
		wt.Function.Description = td.Description
		wt.Function.Parameters = td.Parameters
		tools = append(tools, wt)
	}
	var apiTools ollama.Tools
	if err := convert(tools, &apiTools); err != nil {
		return nil, fmt.Errorf("ollama: encode tools: %w", err)
	}

	options := map[string]any{"temperature": o.cfg.Temperature}
	for k, v := range o.cfg.Options {
		options[k] = v
	}

	stream := false
	return &ollama.ChatRequest{
		Model:    o.cfg.Model,
		Messages: messages,
		Tools:    apiTools,
		Options:  options,
		Stream:   &stream,
	}, nil
}

func decodeResponse(r ollama.ChatResponse) (Response, error) {
	var wire wireResponse
	if err := convert(r, &wire); err != nil {
		return Response{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	msg := Message{
		Role:     RoleAssistant,
		Content:  wire.Message.Content,
		Thinking: wire.Message.Thinking,
	}
	for i, wc := range wire.Message.ToolCalls {
		args := wc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      wc.Function.Name,
			Arguments: args,
		})
	}
	return Response{
		Message: msg,
		Usage:   Usage{PromptTokens: wire.PromptEvalCount, CompletionTokens: wire.EvalCount},
	}, nil
}

func convert(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr ollama.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
