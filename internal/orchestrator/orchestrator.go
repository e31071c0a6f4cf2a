// Package orchestrator runs one agent migration per repository across a
// bounded worker pool. Units are isolated: a failing or panicking unit is
// recorded and its siblings carry on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/codemig/internal/agent"
	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/depversion"
	"github.com/mattjoyce/codemig/internal/editor"
	"github.com/mattjoyce/codemig/internal/evaluation"
	"github.com/mattjoyce/codemig/internal/events"
	"github.com/mattjoyce/codemig/internal/governor"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/model"
	"github.com/mattjoyce/codemig/internal/results"
	"github.com/mattjoyce/codemig/internal/sandbox"
	"github.com/mattjoyce/codemig/internal/telemetry"
	"github.com/mattjoyce/codemig/internal/tools"
	"github.com/mattjoyce/codemig/internal/transcript"
	"github.com/mattjoyce/codemig/internal/workspace"
)

// Deps are the shared collaborators of every unit. Oracle and Evaluator
// are shared across concurrent units and must be safe for that.
type Deps struct {
	Source    workspace.Source
	Oracle    model.Oracle
	Evaluator evaluation.Evaluator
	Sink      results.Sink
	Events    events.Publisher
	Versions  *depversion.Table
	ToolLog   *log.ToolLogger
	Logger    *slog.Logger
}

// Settings fix what every unit of a batch runs with.
type Settings struct {
	// BatchID is generated when empty.
	BatchID       string
	VariantName   string
	Variant       config.Variant
	MaxTurns      int
	Sandbox       sandbox.Options
	OracleTimeout time.Duration
	// PrepareTimeout bounds Variant.PrepareCommand.
	PrepareTimeout time.Duration
}

// SettingsFromConfig derives batch settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config, variantName string) (Settings, error) {
	if variantName == "" {
		variantName = cfg.Experiment.Variant
	}
	v, err := cfg.Variant(variantName)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		VariantName: variantName,
		Variant:     v,
		MaxTurns:    cfg.Agent.MaxTurns,
		Sandbox: sandbox.Options{
			AllowedPrefixes: cfg.Sandbox.AllowedPrefixes,
			Timeout:         cfg.Sandbox.Timeout,
			MaxOutputBytes:  cfg.Sandbox.MaxOutputBytes,
		},
		OracleTimeout:  cfg.Model.RequestTimeout,
		PrepareTimeout: cfg.Sandbox.Timeout,
	}, nil
}

// Report is the outcome of a batch. Every requested repository appears in
// exactly one of Results or Failed.
type Report struct {
	BatchID string
	Results map[string]results.Record
	Failed  map[string]error
}

// Orchestrator runs batches. One Orchestrator serves one batch id.
type Orchestrator struct {
	deps         Deps
	settings     Settings
	caps         []tools.Capability
	instruction  *template.Template
	logger       *slog.Logger
	tracer       trace.Tracer
	unitCounter  metric.Int64Counter
	unitDuration metric.Float64Histogram
}

// New validates deps and settings.
func New(deps Deps, settings Settings) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("orchestrator: workspace source is required")
	case deps.Oracle == nil:
		return nil, errors.New("orchestrator: model oracle is required")
	case deps.Evaluator == nil:
		return nil, errors.New("orchestrator: evaluator is required")
	case deps.Sink == nil:
		return nil, errors.New("orchestrator: result sink is required")
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if settings.BatchID == "" {
		settings.BatchID = uuid.NewString()
	}
	if settings.MaxTurns < 1 {
		return nil, fmt.Errorf("orchestrator: max turns must be >= 1, got %d", settings.MaxTurns)
	}

	caps, err := tools.ParseCapabilities(settings.Variant.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: variant %q: %w", settings.VariantName, err)
	}

	text := settings.Variant.Instruction
	if text == "" {
		text = config.DefaultInstruction
	}
	instruction, err := template.New("instruction").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parse instruction: %w", err)
	}

	return &Orchestrator{
		deps:         deps,
		settings:     settings,
		caps:         caps,
		instruction:  instruction,
		logger:       deps.Logger.With(slog.String("component", "orchestrator"), slog.String("batch_id", settings.BatchID)),
		tracer:       telemetry.Tracer(),
		unitCounter:  telemetry.Counter("codemig.orchestrator.units", "Finished units by outcome"),
		unitDuration: telemetry.Histogram("codemig.orchestrator.unit.duration", "Wall time of one unit in seconds"),
	}, nil
}

// BatchID returns the id every record of this orchestrator carries.
func (o *Orchestrator) BatchID() string {
	return o.settings.BatchID
}

// Run processes repoIDs with at most concurrency units in flight. Duplicate
// ids are run once. Unit failures land in Report.Failed; the returned error
// is reserved for invalid arguments.
func (o *Orchestrator) Run(ctx context.Context, repoIDs []string, concurrency int) (Report, error) {
	if concurrency < 1 {
		return Report{}, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	ids := dedupe(repoIDs)

	ctx, span := o.tracer.Start(ctx, "orchestrator.batch", trace.WithAttributes(
		attribute.String("batch_id", o.settings.BatchID),
		attribute.Int("units", len(ids)),
		attribute.Int("concurrency", concurrency),
	))
	defer span.End()

	o.logger.Info("batch starting", "units", len(ids), "concurrency", concurrency, "variant", o.settings.VariantName)
	o.deps.Events.Publish(events.BatchStarted, events.BatchPayload{
		BatchID:     o.settings.BatchID,
		Variant:     o.settings.VariantName,
		Total:       len(ids),
		Concurrency: concurrency,
	})

	var (
		done   sync.Map // repo id -> results.Record
		failed sync.Map // repo id -> error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			rec, err := o.runUnit(gctx, id)
			if err != nil {
				failed.LoadOrStore(id, err)
				return nil
			}
			if _, loaded := done.LoadOrStore(id, rec); loaded {
				o.logger.Warn("duplicate unit result ignored", "repo_id", id)
			}
			return nil
		})
	}
	// Units never return errors, so Wait only synchronises.
	_ = g.Wait()

	report := Report{
		BatchID: o.settings.BatchID,
		Results: make(map[string]results.Record),
		Failed:  make(map[string]error),
	}
	done.Range(func(k, v any) bool {
		report.Results[k.(string)] = v.(results.Record)
		return true
	})
	failed.Range(func(k, v any) bool {
		report.Failed[k.(string)] = v.(error)
		return true
	})

	o.deps.Events.Publish(events.BatchCompleted, events.BatchPayload{
		BatchID:   o.settings.BatchID,
		Variant:   o.settings.VariantName,
		Total:     len(ids),
		Completed: len(report.Results),
		Failed:    len(report.Failed),
	})
	o.logger.Info("batch finished", "completed", len(report.Results), "failed", len(report.Failed))
	span.SetAttributes(attribute.Int("completed", len(report.Results)), attribute.Int("failed", len(report.Failed)))
	return report, nil
}

// RunOne processes a single repository without a worker pool.
func (o *Orchestrator) RunOne(ctx context.Context, repoID string) (results.Record, error) {
	return o.runUnit(ctx, repoID)
}

// runUnit converts panics into errors so a single unit can never take down
// the batch.
func (o *Orchestrator) runUnit(ctx context.Context, repoID string) (rec results.Record, err error) {
	started := time.Now()
	logger := o.logger.With(slog.String("repo_id", repoID))

	ctx, span := o.tracer.Start(ctx, "orchestrator.unit", trace.WithAttributes(attribute.String("repo_id", repoID)))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unit panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("unit %s panicked: %v", repoID, r)
		}

		outcome := "completed"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("unit failed", "error", err)
			o.deps.Events.Publish(events.UnitFailed, events.UnitPayload{
				BatchID: o.settings.BatchID,
				RepoID:  repoID,
				Error:   err.Error(),
			})
		}
		o.unitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		o.unitDuration.Record(ctx, time.Since(started).Seconds())
		span.End()
	}()

	o.deps.Events.Publish(events.UnitStarted, events.UnitPayload{BatchID: o.settings.BatchID, RepoID: repoID})
	logger.Info("unit starting")

	ws, err := o.deps.Source.Acquire(ctx, repoID)
	if err != nil {
		return results.Record{}, err
	}
	o.deps.Events.Publish(events.UnitAcquired, events.UnitPayload{
		BatchID:      o.settings.BatchID,
		RepoID:       repoID,
		BaseRevision: ws.BaseRevision,
	})

	outcome, err := o.migrate(ctx, ws, logger)
	if err != nil {
		return results.Record{}, err
	}
	// An interrupted unit is neither evaluated nor recorded, so resuming the
	// batch runs it again.
	if ctx.Err() != nil {
		return results.Record{}, fmt.Errorf("unit %s interrupted after %d rounds: %w", repoID, outcome.Rounds, ctx.Err())
	}

	verdicts := evaluation.Verify(ctx, o.deps.Evaluator, ws, logger)

	rec = results.Record{
		BatchID:      o.settings.BatchID,
		RepoID:       repoID,
		Variant:      o.settings.VariantName,
		State:        outcome.State.String(),
		Reason:       outcome.Reason,
		Rounds:       outcome.Rounds,
		Max:          verdicts.Max,
		Min:          verdicts.Min,
		BaseRevision: ws.BaseRevision,
		DiffHash:     o.diffHash(ctx, ws, logger),
		Trajectory:   outcome.Transcript.Trajectory(),
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if verdicts.Mutated {
		rec.UnitError = "evaluation modified the workspace"
	}

	if err := o.deps.Sink.Put(ctx, rec); err != nil {
		return results.Record{}, fmt.Errorf("persist result for %s: %w", repoID, err)
	}

	o.deps.Events.Publish(events.UnitCompleted, events.UnitPayload{
		BatchID:    o.settings.BatchID,
		RepoID:     repoID,
		Round:      rec.Rounds,
		MaxRounds:  o.settings.MaxTurns,
		State:      rec.State,
		MaxVerdict: string(rec.Max.Outcome),
		MinVerdict: string(rec.Min.Outcome),
	})
	logger.Info("unit finished", "state", rec.State, "rounds", rec.Rounds, "max", rec.Max.Outcome, "min", rec.Min.Outcome)
	return rec, nil
}

// migrate builds the per-unit sandbox, tools and governor and runs the
// agent loop to completion.
func (o *Orchestrator) migrate(ctx context.Context, ws *workspace.Workspace, logger *slog.Logger) (agent.Outcome, error) {
	sbOpts := o.settings.Sandbox
	sbOpts.Logger = logger
	surface, err := tools.NewSurface(o.caps, tools.Deps{
		Sandbox:  sandbox.New(ws, sbOpts),
		Editor:   editor.New(ws),
		Versions: o.deps.Versions,
		ToolLog:  o.deps.ToolLog,
		RepoID:   ws.RepoID,
		Logger:   logger,
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("build tool surface: %w", err)
	}

	var instruction strings.Builder
	if err := o.instruction.Execute(&instruction, struct {
		Path   string
		RepoID string
	}{Path: ws.Root(), RepoID: ws.RepoID}); err != nil {
		return agent.Outcome{}, fmt.Errorf("render instruction: %w", err)
	}

	var preparer agent.Preparer
	if o.settings.Variant.Prepare {
		preparer = agent.CommandPreparer{
			Command: o.settings.Variant.PrepareCommand,
			Timeout: o.settings.PrepareTimeout,
		}
	}

	maxTurns := o.settings.MaxTurns
	loop, err := agent.New(agent.Params{
		Workspace:     ws,
		Variant:       o.settings.VariantName,
		Oracle:        o.deps.Oracle,
		Tools:         surface,
		Governor:      governor.New(maxTurns),
		SystemPrompt:  o.settings.Variant.SystemPrompt,
		Instruction:   instruction.String(),
		Preparer:      preparer,
		OracleTimeout: o.settings.OracleTimeout,
		Logger:        logger,
		OnRound: func(r transcript.Round) {
			o.deps.Events.Publish(events.UnitRound, events.UnitPayload{
				BatchID:   o.settings.BatchID,
				RepoID:    ws.RepoID,
				Round:     r.Number,
				MaxRounds: maxTurns,
				ToolCalls: len(r.Results),
			})
		},
	})
	if err != nil {
		return agent.Outcome{}, err
	}
	return loop.Run(ctx), nil
}

func (o *Orchestrator) diffHash(ctx context.Context, ws *workspace.Workspace, logger *slog.Logger) string {
	if ws.BaseRevision == "" {
		return ""
	}
	diff, err := workspace.Diff(ctx, ws)
	if err != nil {
		logger.Warn("diff against base revision failed", "error", err)
		return ""
	}
	return workspace.HashText(diff)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// SortedIDs returns the map keys in order; handy for stable output.
func SortedIDs[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
