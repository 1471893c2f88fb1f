package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantumlife/responsibility/internal/command"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// mcpCmd serves the tracker as MCP tools over stdio
func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tracker as MCP tools on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			logging.SetOutput(os.Stderr)

			return withApp(cmd, func(_ context.Context, a *app) error {
				srv := command.NewServer(a.tracker, a.adapter, core.SystemClock, a.loc)
				return srv.Serve()
			})
		},
	}
}
