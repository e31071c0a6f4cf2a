// Package agent drives one repository migration: it alternates model rounds
// with tool execution until the model stops asking for tools, the governor
// cuts the conversation off, or the model call fails.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/codemig/internal/governor"
	"github.com/mattjoyce/codemig/internal/model"
	"github.com/mattjoyce/codemig/internal/telemetry"
	"github.com/mattjoyce/codemig/internal/tools"
	"github.com/mattjoyce/codemig/internal/transcript"
	"github.com/mattjoyce/codemig/internal/workspace"
)

// Dispatcher executes tool calls. tools.Surface implements it.
type Dispatcher interface {
	Defs() []model.ToolDef
	Dispatch(ctx context.Context, call tools.Call) string
}

// Preparer runs once before the first round.
type Preparer interface {
	Prepare(ctx context.Context, ws *workspace.Workspace) error
}

// PreparerFunc adapts a function to Preparer.
type PreparerFunc func(ctx context.Context, ws *workspace.Workspace) error

// Prepare calls f.
func (f PreparerFunc) Prepare(ctx context.Context, ws *workspace.Workspace) error {
	return f(ctx, ws)
}

// Params wires one run.
type Params struct {
	Workspace    *workspace.Workspace
	Variant      string
	Oracle       model.Oracle
	Tools        Dispatcher
	Governor     *governor.Governor
	SystemPrompt string
	Instruction  string
	Preparer     Preparer
	// OracleTimeout bounds each model call. Zero means no extra bound.
	OracleTimeout time.Duration
	// OnRound, when set, is called after each round is recorded.
	OnRound func(transcript.Round)
	Logger  *slog.Logger
}

// Outcome is the result of a finished run. The transcript is always present,
// whatever the terminal state.
type Outcome struct {
	State      State
	Reason     string
	Rounds     int
	Transcript *transcript.Transcript
	Usage      model.Usage
}

type stepKind int

const (
	stepContinue stepKind = iota
	stepConverged
	stepLimit
	stepFaulted
)

type step struct {
	kind   stepKind
	reason string
}

// Loop is a single-use agent run.
type Loop struct {
	p      Params
	state  State
	tr     *transcript.Transcript
	logger *slog.Logger
	usage  model.Usage

	tracer       trace.Tracer
	roundCounter metric.Int64Counter
	runCounter   metric.Int64Counter
	roundSeconds metric.Float64Histogram

	outcome *Outcome
}

// New validates p and returns a loop in INIT.
func New(p Params) (*Loop, error) {
	switch {
	case p.Workspace == nil:
		return nil, errors.New("agent: workspace is required")
	case p.Oracle == nil:
		return nil, errors.New("agent: oracle is required")
	case p.Tools == nil:
		return nil, errors.New("agent: tools are required")
	case p.Governor == nil:
		return nil, errors.New("agent: governor is required")
	case p.Instruction == "":
		return nil, errors.New("agent: instruction is required")
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		p:            p,
		state:        StateInit,
		tr:           transcript.New(p.Instruction),
		logger:       logger.With(slog.String("component", "agent"), slog.String("repo_id", p.Workspace.RepoID)),
		tracer:       telemetry.Tracer(),
		roundCounter: telemetry.Counter("codemig.agent.rounds", "Completed model rounds"),
		runCounter:   telemetry.Counter("codemig.agent.runs", "Finished agent runs by terminal state"),
		roundSeconds: telemetry.Histogram("codemig.agent.round.duration", "Wall time of one model round including tools"),
	}, nil
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// Transcript returns the live transcript.
func (l *Loop) Transcript() *transcript.Transcript {
	return l.tr
}

// Run drives the loop to a terminal state. Calling Run again returns the
// first outcome.
func (l *Loop) Run(ctx context.Context) Outcome {
	if l.outcome != nil {
		return *l.outcome
	}

	ctx, span := l.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("repo_id", l.p.Workspace.RepoID),
		attribute.String("variant", l.p.Variant),
		attribute.Int("max_turns", l.p.Governor.Max()),
	))
	defer span.End()

	l.logger.Info("agent run starting", "max_turns", l.p.Governor.Max(), "variant", l.p.Variant)

	if l.p.Preparer != nil {
		if err := l.p.Preparer.Prepare(ctx, l.p.Workspace); err != nil {
			return l.finish(ctx, span, StateFaulted, fmt.Sprintf("prepare: %v", err))
		}
	}
	l.transition(StateRunning)

	for {
		if err := ctx.Err(); err != nil {
			return l.finish(ctx, span, StateFaulted, fmt.Sprintf("interrupted: %v", err))
		}

		res := l.round(ctx)
		switch res.kind {
		case stepContinue:
			l.transition(StateRunning)
		case stepConverged:
			return l.finish(ctx, span, StateConverged, res.reason)
		case stepLimit:
			return l.finish(ctx, span, StateLimitReached, res.reason)
		case stepFaulted:
			return l.finish(ctx, span, StateFaulted, res.reason)
		}
	}
}

// round performs one model exchange and its tool calls.
func (l *Loop) round(ctx context.Context) step {
	number := l.tr.Len() + 1
	ctx, span := l.tracer.Start(ctx, "agent.round", trace.WithAttributes(attribute.Int("round", number)))
	defer span.End()

	started := time.Now()

	callCtx := ctx
	if l.p.OracleTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.p.OracleTimeout)
		defer cancel()
	}

	resp, err := l.p.Oracle.Respond(callCtx, model.Request{
		System:   l.p.SystemPrompt,
		Messages: l.tr.Messages(),
		Tools:    l.p.Tools.Defs(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model oracle failed")
		l.logger.Error("model oracle failed", "round", number, "error", err)
		return step{kind: stepFaulted, reason: fmt.Sprintf("model oracle: %v", err)}
	}
	l.usage.PromptTokens += resp.Usage.PromptTokens
	l.usage.CompletionTokens += resp.Usage.CompletionTokens

	msg := resp.Message
	msg.Role = model.RoleAssistant

	results := make([]transcript.ToolResult, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		out := l.p.Tools.Dispatch(ctx, tools.Call{
			Turn:      number,
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
		results = append(results, transcript.ToolResult{
			CallID: call.ID,
			Tool:   call.Name,
			Input:  call.Arguments,
			Output: out,
		})
	}

	rec := l.tr.Append(transcript.Round{
		Assistant: msg,
		Results:   results,
		StartedAt: started,
		Duration:  time.Since(started),
	})
	l.roundCounter.Add(ctx, 1)
	l.roundSeconds.Record(ctx, rec.Duration.Seconds())
	if l.p.OnRound != nil {
		l.p.OnRound(rec)
	}

	signal := l.p.Governor.Advance()
	l.logger.Debug("round complete", "round", rec.Number, "tool_calls", len(results), "turns", l.p.Governor.Turns())

	if len(msg.ToolCalls) == 0 {
		return step{kind: stepConverged, reason: "model requested no further tool calls"}
	}
	if signal == governor.Cutoff {
		return step{kind: stepLimit, reason: fmt.Sprintf("reached the maximum of %d rounds", l.p.Governor.Max())}
	}
	return step{kind: stepContinue}
}

func (l *Loop) transition(to State) {
	if !CanTransition(l.state, to) {
		// Only reachable through a bug in Run; keep the current state.
		l.logger.Error("illegal agent state transition", "from", l.state, "to", to)
		return
	}
	l.state = to
}

func (l *Loop) finish(ctx context.Context, span trace.Span, to State, reason string) Outcome {
	l.transition(to)

	out := Outcome{
		State:      l.state,
		Reason:     reason,
		Rounds:     l.tr.Len(),
		Transcript: l.tr,
		Usage:      l.usage,
	}
	l.outcome = &out

	span.SetAttributes(
		attribute.String("terminal_state", out.State.String()),
		attribute.Int("rounds", out.Rounds),
	)
	if out.State == StateFaulted {
		span.SetStatus(codes.Error, reason)
	}
	l.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", out.State.String())))

	l.logger.Info("agent run finished", "state", out.State.String(), "reason", reason, "rounds", out.Rounds)
	return out
}
