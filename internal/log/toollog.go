package log

import (
	"context"
	"io"
	"log/slog"
)

// ToolLogger records every tool invocation of an agent run as JSON lines.
// The zero value discards everything.
type ToolLogger struct {
	l *slog.Logger
}

// NewToolLogger writes tool events to a rotating file at path. An empty path
// yields a logger that drops all records.
func NewToolLogger(path string) *ToolLogger {
	if path == "" {
		return &ToolLogger{}
	}
	return NewToolLoggerTo(rotatingFile(path))
}

// NewToolLoggerTo writes tool events to w.
func NewToolLoggerTo(w io.Writer) *ToolLogger {
	return &ToolLogger{l: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

// Before records a tool call about to run.
func (t *ToolLogger) Before(ctx context.Context, repoID string, turn int, tool string, args map[string]any) {
	if t == nil || t.l == nil {
		return
	}
	t.l.InfoContext(ctx, "tool",
		slog.String("event", "BEFORE"),
		slog.String("repo_id", repoID),
		slog.Int("turn", turn),
		slog.String("tool_name", tool),
		slog.Any("tool_use", args),
	)
}

// After records the textual result of a tool call.
func (t *ToolLogger) After(ctx context.Context, repoID string, turn int, tool string, args map[string]any, result string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.InfoContext(ctx, "tool",
		slog.String("event", "AFTER"),
		slog.String("repo_id", repoID),
		slog.Int("turn", turn),
		slog.String("tool_name", tool),
		slog.Any("tool_use", args),
		slog.String("result", result),
	)
}
