package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/lock"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/storage"
	"github.com/mattjoyce/codemig/internal/workspace"
)

func newWorkspaceCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "manage repository checkouts",
	}
	cmd.AddCommand(newWorkspacePruneCommand(root))
	return cmd
}

func newWorkspacePruneCommand(root *rootOptions) *cobra.Command {
	var (
		olderThan  time.Duration
		experiment string
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "delete checkouts of an experiment not modified recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}
			if experiment != "" {
				cfg.Experiment.ID = experiment
			}
			if err := cfg.ValidateBatch(); err != nil {
				return err
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			// A running batch owns its checkouts.
			lockPath := lock.ExperimentLockPath(cfg.Experiment.OutputDir, cfg.Experiment.ID)
			if err := storage.RequireLocal(lockPath, "experiment lock"); err != nil {
				return err
			}
			lk, err := lock.AcquirePIDLock(lockPath)
			if err != nil {
				return fmt.Errorf("experiment %s: %w", cfg.Experiment.ID, err)
			}
			defer func() { _ = lk.Release() }()

			manager, err := workspace.NewManager(filepath.Join(cfg.Experiment.Workdir, cfg.Experiment.ID))
			if err != nil {
				return err
			}
			report, err := manager.Cleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			log.WithComponent("workspace").Info("pruned checkouts", "dir", manager.BaseDir(), "deleted", report.DeletedDirs)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d checkouts under %s\n", report.DeletedDirs, manager.BaseDir())
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age of a checkout to delete")
	cmd.Flags().StringVar(&experiment, "experiment", "", "experiment id (default experiment.id)")
	return cmd
}
