package main

import (
	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/api"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/results"
	"github.com/mattjoyce/codemig/internal/storage"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		listen string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve recorded results over HTTP",
		Long: `Serve the read-only results API. Live progress is only available from a
batch started with --listen, which embeds the same server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.Listen = listen
			}
			if dbPath != "" {
				cfg.Experiment.StatePath = dbPath
			}
			logger := log.WithComponent("main")

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			db, err := storage.OpenSQLite(ctx, cfg.Experiment.StatePath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			srv := api.New(api.Config{
				Listen:  cfg.API.Listen,
				Token:   cfg.API.Token,
				Version: currentVersionInfo().Version,
			}, results.NewSQLiteStore(db), nil, logger)
			logger.Info("serving results", "listen", cfg.API.Listen, "db", cfg.Experiment.StatePath)
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default api.listen)")
	cmd.Flags().StringVar(&dbPath, "db", "", "results database (default experiment.state_path)")
	return cmd
}
