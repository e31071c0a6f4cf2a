package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/codemig/internal/config"
	"github.com/mattjoyce/codemig/internal/depversion"
	"github.com/mattjoyce/codemig/internal/evaluation"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/model"
	"github.com/mattjoyce/codemig/internal/telemetry"
	"github.com/mattjoyce/codemig/internal/tui"
)

// loadConfig reads the configuration, applies flag overrides and installs
// the global logger. quiet keeps log records off stdout (the file sink, if
// any, still receives them) while a full-screen view owns the terminal.
func (o *rootOptions) loadConfig(quiet bool) (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Service.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Service.LogFormat = o.logFormat
	}

	opts := log.Options{
		Level:   cfg.Service.LogLevel,
		Format:  cfg.Service.LogFormat,
		File:    cfg.Service.LogFile,
		Journal: cfg.Service.LogJournal,
	}
	if quiet {
		opts.Output = io.Discard
	}
	log.SetupWithOptions(opts)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     currentVersionInfo().Version,
	})
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}

func newOracle(cfg *config.Config, logger *slog.Logger) (model.Oracle, error) {
	return model.NewOllama(model.OllamaConfig{
		Model:       cfg.Model.ID,
		Host:        cfg.Model.Host,
		Temperature: cfg.Model.Temperature,
		Options:     cfg.Model.Options,
		MaxRetries:  uint(cfg.Model.MaxRetries),
		Logger:      logger,
	})
}

func newEvaluator(cfg *config.Config, logger *slog.Logger) (evaluation.Evaluator, error) {
	if len(cfg.Evaluation.Command) == 0 {
		logger.Warn("evaluation.command is not set; every verdict will be recorded as an error")
	}
	return evaluation.NewCommandEvaluator(cfg.Evaluation.Command, cfg.Evaluation.Timeout)
}

// loadVersions loads the dependency-version table. It is required only when
// the variant grants dependency lookups.
func loadVersions(cfg *config.Config, variant config.Variant) (*depversion.Table, error) {
	if cfg.DependencyVersions == "" {
		if variant.Has(config.CapDependencyLookup) {
			return nil, fmt.Errorf("variant grants %s but dependency_versions is not set", config.CapDependencyLookup)
		}
		return nil, nil
	}
	return depversion.Load(cfg.DependencyVersions)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdoutIsTerminal() bool {
	return tui.IsTerminal(os.Stdout)
}
