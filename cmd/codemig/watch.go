package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/tui"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "follow the progress of a batch started with --listen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stdoutIsTerminal() {
				return errors.New("watch requires an interactive terminal")
			}
			cfg, err := root.loadConfig(true)
			if err != nil {
				return err
			}
			if apiURL == "" {
				apiURL = "http://" + cfg.API.Listen
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return tui.WatchRemote(ctx, strings.TrimRight(apiURL, "/"), cfg.API.Token)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "", "base URL of the API (default http://<api.listen>)")
	return cmd
}
