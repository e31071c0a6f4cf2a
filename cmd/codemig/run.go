package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/events"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/results"
	"github.com/mattjoyce/codemig/internal/tui"
	"github.com/mattjoyce/codemig/internal/workspace"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		variant string
		path    string
		outDir  string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run [repo-id]",
		Short: "migrate a single repository",
		Long: `Clone one repository and run the agent against it, or with --path run it
against an existing directory. --path edits that directory in place.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var repoID string
			if len(args) == 1 {
				repoID = args[0]
			}
			if repoID == "" && path == "" {
				return errors.New("a repo id or --path is required")
			}

			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}
			logger := log.WithComponent("run")

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			defer initTelemetry(ctx, cfg, logger)()

			var source workspace.Source
			if path != "" {
				if repoID == "" {
					abs, err := filepath.Abs(path)
					if err != nil {
						return err
					}
					repoID = filepath.Base(abs)
				}
				source = &workspace.LocalSource{Dirs: map[string]string{repoID: path}}
			} else {
				manager, err := workspace.NewManager(filepath.Join(cfg.Experiment.Workdir, "run"))
				if err != nil {
					return err
				}
				source = &workspace.GitSource{
					Manager:      manager,
					BaseURL:      cfg.Workspace.BaseURL,
					CloneTimeout: cfg.Workspace.CloneTimeout,
					Attempts:     uint(cfg.Workspace.CloneRetries),
					Logger:       logger,
				}
			}

			sinks := []results.Sink{results.NewMemory()}
			if outDir != "" {
				files, err := results.NewFileStore(outDir)
				if err != nil {
					return err
				}
				sinks = append(sinks, files)
			}

			orch, err := newOrchestrator(cfg, variant, "", source, results.Tee(logger, sinks...), events.Discard, logger)
			if err != nil {
				return err
			}
			rec, err := orch.RunOne(ctx, repoID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, rec)
			}
			fmt.Fprintln(out, tui.RenderSummary(orch.BatchID(), []results.Record{rec}, nil, tui.IsTerminal(out)))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&variant, "variant", "", "agent variant (default experiment.variant)")
	f.StringVar(&path, "path", "", "run against this existing directory instead of cloning")
	f.StringVar(&outDir, "out", "", "also write the result file into this directory")
	f.BoolVar(&asJSON, "json", false, "print the full record as JSON")
	return cmd
}
