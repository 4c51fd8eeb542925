package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/triage-mcp/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "triage %s\n", version)
			fmt.Fprintf(out, "Build time: %s\n", buildTime)
			fmt.Fprintf(out, "Build mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
