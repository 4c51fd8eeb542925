package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/triage-mcp/internal/mcp"
	"github.com/dshills/triage-mcp/internal/storage"
)

func newServeCmd(g *globals) *cobra.Command {
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long:  "Serves the triage tools over MCP stdio. Logs go to stderr; stdout carries protocol messages only.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("triage MCP server starting",
				"version", version,
				"build_mode", storage.BuildMode,
				"driver", storage.DriverName)

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					log.Warn("shutdown incomplete", "error", err)
				}
			}()

			a.serveMetrics(ctx)
			if !noSweep {
				go func() { _ = a.sweeper.Run(ctx) }()
			}

			srv, err := mcp.NewServer(a.pipeline, mcp.Options{
				Name:     cfg.Server.Name,
				Version:  serverVersion(cfg.Server.Version),
				Ingester: a.indexer,
				Logger:   log,
			})
			if err != nil {
				return err
			}

			err = srv.Serve(ctx)
			if err != nil && ctx.Err() != nil {
				// signal-driven shutdown
				err = nil
			}
			log.Info("server stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "Do not replay the retry queue in this process (run a worker instead)")
	return cmd
}

func serverVersion(configured string) string {
	if configured != "" {
		return configured
	}
	return version
}

