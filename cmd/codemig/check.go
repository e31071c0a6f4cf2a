package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/codemig/internal/log"
	"github.com/mattjoyce/codemig/internal/sandbox"
	"github.com/mattjoyce/codemig/internal/workspace"
)

func newCheckCommand(root *rootOptions) *cobra.Command {
	var (
		dir  string
		exec bool
	)
	cmd := &cobra.Command{
		Use:   "check <command>",
		Short: "show whether the sandbox would run a command",
		Long: `Validate a shell command against a workspace root the way the agent's
execute_command tool does. Exits 1 when the command is denied. With --exec an
allowed command is also run and its output printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(true)
			if err != nil {
				return err
			}
			if dir == "" {
				if dir, err = os.Getwd(); err != nil {
					return err
				}
			}
			ws, err := workspace.New(dir, "", "")
			if err != nil {
				return err
			}
			sb := sandbox.New(ws, sandbox.Options{
				AllowedPrefixes: cfg.Sandbox.AllowedPrefixes,
				Timeout:         cfg.Sandbox.Timeout,
				MaxOutputBytes:  cfg.Sandbox.MaxOutputBytes,
				Logger:          log.WithComponent("sandbox"),
			})

			out := cmd.OutOrStdout()
			verdict := sb.Validate(args[0])
			if !verdict.Allowed {
				fmt.Fprintf(out, "denied: %s\n", verdict.Reason)
				return &exitError{code: 1}
			}
			fmt.Fprintf(out, "allowed (root %s)\n", ws.Root())
			if exec {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				fmt.Fprintln(out, sb.Execute(ctx, args[0]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "root", "", "workspace root (default current directory)")
	cmd.Flags().BoolVar(&exec, "exec", false, "run the command when allowed")
	return cmd
}
