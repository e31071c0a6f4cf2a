package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/editor"
	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/sandbox"
	"github.com/mattjoyce/codemig/internal/tools"
	"github.com/mattjoyce/codemig/internal/workspace"
)

func newMCPCommand(root *rootOptions) *cobra.Command {
	var (
		dir     string
		variant string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "expose a variant's tools for one directory over MCP stdio",
		Long: `Serve the tool surface of a variant (execute_command, edit_file and, when
granted, lookup_dependency_version) to an MCP client on stdin/stdout. Every
tool is confined to --root exactly as during a migration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			cfg, err := root.loadConfig(true)
			if err != nil {
				return err
			}
			if variant == "" {
				variant = cfg.Experiment.Variant
			}
			v, err := cfg.Variant(variant)
			if err != nil {
				return err
			}
			caps, err := tools.ParseCapabilities(v.Capabilities)
			if err != nil {
				return err
			}
			versions, err := loadVersions(cfg, v)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if dir == "" {
				if dir, err = os.Getwd(); err != nil {
					return err
				}
			}
			ws, err := workspace.OpenLocal(ctx, dir, "")
			if err != nil {
				return err
			}

			logger := log.WithComponent("mcp").With("repo_id", ws.RepoID)
			surface, err := tools.NewSurface(caps, tools.Deps{
				Sandbox: sandbox.New(ws, sandbox.Options{
					AllowedPrefixes: cfg.Sandbox.AllowedPrefixes,
					Timeout:         cfg.Sandbox.Timeout,
					MaxOutputBytes:  cfg.Sandbox.MaxOutputBytes,
					Logger:          logger,
				}),
				Editor:   editor.New(ws),
				Versions: versions,
				ToolLog:  log.NewToolLogger(cfg.Service.ToolLog),
				RepoID:   ws.RepoID,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			logger.Info("serving tools over stdio", "root", ws.Root(), "tools", surface.Names())
			return tools.ServeMCP(ctx, surface, "codemig", currentVersionInfo().Version, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dir, "root", "", "workspace root (default current directory)")
	cmd.Flags().StringVar(&variant, "variant", "", "variant whose tools to expose (default experiment.variant)")
	return cmd
}
