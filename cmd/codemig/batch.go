package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/api"
	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/dataset"
	"github.com/mattjoyce/codemig/internal/events"
	"github.com/mattjoyce/codemig/internal/lock"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/orchestrator"
	"github.com/mattjoyce/codemig/internal/results"
	"github.com/mattjoyce/codemig/internal/storage"
	"github.com/mattjoyce/codemig/internal/tui"
	"github.com/mattjoyce/codemig/internal/workspace"
)

type batchOptions struct {
	workers    int
	variant    string
	experiment string
	manifest   string
	dbPath     string
	listen     string
	batchID    string
	watch      bool
}

func newBatchCommand(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch [repo-id...]",
		Short: "migrate every repository of the dataset manifest",
		Long: `Run one migration per repository with a bounded worker pool. Repository ids
come from experiment.dataset (or --dataset) followed by any ids given as
arguments. Each result is persisted as soon as its repository finishes.

Passing --batch-id of an earlier, interrupted batch skips the repositories
that batch already recorded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, root, opts, args)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.workers, "workers", "w", 0, "concurrent repositories (default experiment.workers)")
	f.StringVar(&opts.variant, "variant", "", "agent variant (default experiment.variant)")
	f.StringVar(&opts.experiment, "experiment", "", "experiment id (default experiment.id)")
	f.StringVar(&opts.manifest, "dataset", "", "dataset manifest (default experiment.dataset)")
	f.StringVar(&opts.dbPath, "db", "", "results database (default experiment.state_path)")
	f.StringVar(&opts.listen, "listen", "", "also serve the results API and event stream on this address")
	f.StringVar(&opts.batchID, "batch-id", "", "resume or name a batch instead of generating an id")
	f.BoolVar(&opts.watch, "tui", false, "show live progress in a terminal UI")
	return cmd
}

func (o *batchOptions) apply(cfg *config.Config) {
	if o.experiment != "" {
		cfg.Experiment.ID = o.experiment
	}
	if o.workers != 0 {
		cfg.Experiment.Workers = o.workers
	}
	if o.variant != "" {
		cfg.Experiment.Variant = o.variant
	}
	if o.manifest != "" {
		cfg.Experiment.Dataset = o.manifest
	}
	if o.dbPath != "" {
		cfg.Experiment.StatePath = o.dbPath
	}
}

func runBatch(cmd *cobra.Command, root *rootOptions, opts *batchOptions, args []string) error {
	if opts.watch && !stdoutIsTerminal() {
		return errors.New("--tui requires an interactive terminal")
	}
	cfg, err := root.loadConfig(opts.watch)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.ValidateBatch(); err != nil {
		return err
	}
	if cfg.Experiment.Workers < 1 {
		return fmt.Errorf("--workers must be >= 1 (got %d)", cfg.Experiment.Workers)
	}

	logger := log.WithComponent("batch").With(slog.String("experiment", cfg.Experiment.ID))

	entries, err := batchEntries(cfg.Experiment.Dataset, args)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("no repositories: set experiment.dataset, pass --dataset or list repo ids")
	}

	lockPath := lock.ExperimentLockPath(cfg.Experiment.OutputDir, cfg.Experiment.ID)
	if err := storage.RequireLocal(lockPath, "experiment lock"); err != nil {
		return err
	}
	lk, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		return fmt.Errorf("experiment %s: %w", cfg.Experiment.ID, err)
	}
	defer func() { _ = lk.Release() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	defer initTelemetry(ctx, cfg, logger)()

	db, err := storage.OpenSQLite(ctx, cfg.Experiment.StatePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store := results.NewSQLiteStore(db)

	files, err := results.NewFileStore(filepath.Join(cfg.Experiment.OutputDir, cfg.Experiment.ID))
	if err != nil {
		return err
	}

	manager, err := workspace.NewManager(filepath.Join(cfg.Experiment.Workdir, cfg.Experiment.ID))
	if err != nil {
		return err
	}
	source := &workspace.GitSource{
		Manager:      manager,
		BaseURL:      cfg.Workspace.BaseURL,
		CloneTimeout: cfg.Workspace.CloneTimeout,
		Attempts:     uint(cfg.Workspace.CloneRetries),
		Pins:         dataset.Pins(entries),
		Logger:       logger,
	}

	hub := events.NewHub(0)
	orch, err := newOrchestrator(cfg, cfg.Experiment.Variant, opts.batchID, source, results.Tee(logger, store, files), hub, logger)
	if err != nil {
		return err
	}

	if err := store.RegisterBatch(ctx, results.Batch{
		ID:         orch.BatchID(),
		Experiment: cfg.Experiment.ID,
		Variant:    cfg.Experiment.Variant,
		Model:      cfg.Model.ID,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	ids, err := pendingIDs(cmd, store, orch.BatchID(), dataset.IDs(entries), logger)
	if err != nil {
		return err
	}

	if opts.listen != "" {
		srv := api.New(api.Config{
			Listen:  opts.listen,
			Token:   cfg.API.Token,
			Version: currentVersionInfo().Version,
		}, store, hub, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
	}

	var report orchestrator.Report
	if opts.watch {
		feed, cancel := hub.Subscribe()
		done := make(chan error, 1)
		go func() {
			var runErr error
			report, runErr = orch.Run(ctx, ids, cfg.Experiment.Workers)
			done <- runErr
		}()
		completed, err := tui.WatchLocal(ctx, feed)
		if err != nil {
			logger.Warn("progress view stopped", "error", err)
		}
		cancel()
		if err := awaitBatch(completed, done, stop); err != nil {
			return err
		}
	} else {
		report, err = orch.Run(ctx, ids, cfg.Experiment.Workers)
		if err != nil {
			return err
		}
	}

	printReport(cmd, report)
	if ctx.Err() != nil {
		return fmt.Errorf("batch %s interrupted: %w", orch.BatchID(), ctx.Err())
	}
	return nil
}

// awaitBatch waits for a batch running behind the progress view. The view
// also closes when the user quits; only then is the batch interrupted.
func awaitBatch(completed bool, done <-chan error, stop func()) error {
	if !completed {
		select {
		case err := <-done:
			return err
		default:
			stop()
		}
	}
	return <-done
}

// batchEntries merges the manifest with repo ids given on the command line.
func batchEntries(manifest string, args []string) ([]dataset.Entry, error) {
	var entries []dataset.Entry
	if manifest != "" {
		loaded, err := dataset.Load(manifest)
		if err != nil {
			return nil, err
		}
		entries = append(entries, loaded...)
	}
	for _, id := range args {
		entries = append(entries, dataset.Entry{Repo: id})
	}
	return entries, nil
}

// pendingIDs drops repositories the batch already recorded.
func pendingIDs(cmd *cobra.Command, store results.Reader, batchID string, ids []string, logger *slog.Logger) ([]string, error) {
	done, err := store.List(cmd.Context(), batchID)
	if err != nil {
		return nil, err
	}
	if len(done) == 0 {
		return ids, nil
	}
	seen := make(map[string]bool, len(done))
	for _, rec := range done {
		seen[rec.RepoID] = true
	}
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			pending = append(pending, id)
		}
	}
	logger.Info("resuming batch", "batch_id", batchID, "recorded", len(done), "pending", len(pending))
	return pending, nil
}

func newOrchestrator(cfg *config.Config, variantName, batchID string, source workspace.Source, sink results.Sink, pub events.Publisher, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	settings, err := orchestrator.SettingsFromConfig(cfg, variantName)
	if err != nil {
		return nil, err
	}
	settings.BatchID = batchID
	settings.Sandbox.Logger = logger

	oracle, err := newOracle(cfg, logger)
	if err != nil {
		return nil, err
	}
	evaluator, err := newEvaluator(cfg, logger)
	if err != nil {
		return nil, err
	}
	versions, err := loadVersions(cfg, settings.Variant)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Deps{
		Source:    source,
		Oracle:    oracle,
		Evaluator: evaluator,
		Sink:      sink,
		Events:    pub,
		Versions:  versions,
		ToolLog:   log.NewToolLogger(cfg.Service.ToolLog),
		Logger:    logger,
	}, settings)
}

func printReport(cmd *cobra.Command, report orchestrator.Report) {
	recs := make([]results.Record, 0, len(report.Results))
	for _, id := range orchestrator.SortedIDs(report.Results) {
		recs = append(recs, report.Results[id])
	}
	failures := make([]tui.Failure, 0, len(report.Failed))
	for _, id := range orchestrator.SortedIDs(report.Failed) {
		failures = append(failures, tui.Failure{RepoID: id, Err: report.Failed[id]})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, tui.RenderSummary(report.BatchID, recs, failures, tui.IsTerminal(out)))
}
