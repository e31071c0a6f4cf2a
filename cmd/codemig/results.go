package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/results"
	"github.com/mattjoyce/codemig/internal/storage"
	"github.com/mattjoyce/codemig/internal/tui"
)

func newResultsCommand(root *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "results",
		Short: "inspect recorded migration results",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "results database (default experiment.state_path)")

	open := func(ctx context.Context) (*sql.DB, *results.SQLiteStore, error) {
		cfg, err := root.loadConfig(true)
		if err != nil {
			return nil, nil, err
		}
		if dbPath != "" {
			cfg.Experiment.StatePath = dbPath
		}
		db, err := storage.OpenSQLite(ctx, cfg.Experiment.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return db, results.NewSQLiteStore(db), nil
	}

	cmd.AddCommand(
		newResultsListCommand(open),
		newResultsShowCommand(open),
		newResultsExportCommand(open),
	)
	return cmd
}

type storeOpener func(ctx context.Context) (*sql.DB, *results.SQLiteStore, error)

func newResultsListCommand(open storeOpener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list batches with pass counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, store, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			batches, err := store.Batches(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), batches)
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no batches recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderBatches(batches))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newResultsShowCommand(open storeOpener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <batch-id> [repo-id]",
		Short: "show the results of a batch, or one record in full",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, store, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			out := cmd.OutOrStdout()
			if len(args) == 2 {
				rec, err := store.Get(cmd.Context(), args[0], args[1])
				if errors.Is(err, results.ErrNotFound) {
					return fmt.Errorf("no result for %s in batch %s", args[1], args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(out, rec)
			}

			recs, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("batch %s has no results", args[0])
			}
			if asJSON {
				return writeJSON(out, recs)
			}
			fmt.Fprintln(out, tui.RenderSummary(args[0], recs, nil, tui.IsTerminal(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print every record as JSON")
	return cmd
}

func newResultsExportCommand(open storeOpener) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "write one result file per repository of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				return errors.New("--out is required")
			}
			db, store, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			recs, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			files, err := results.NewFileStore(outDir)
			if err != nil {
				return err
			}
			var written, skipped int
			for _, rec := range recs {
				err := files.Put(cmd.Context(), rec)
				switch {
				case errors.Is(err, results.ErrExists):
					skipped++
				case err != nil:
					return err
				default:
					written++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s (%d already present)\n", written, files.Dir(), skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "destination directory")
	return cmd
}
