package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/triage-mcp/internal/maintenance"
)

func newWorkerCmd(g *globals) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled maintenance and retry-queue sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					log.Warn("shutdown incomplete", "error", err)
				}
			}()

			if once {
				return runOnce(ctx, a, cmd)
			}

			sched, err := maintenance.NewScheduler(cfg.Maintenance, a.jobs, a.sweeper, log)
			if err != nil {
				return err
			}
			a.serveMetrics(ctx)
			sched.Start()

			<-ctx.Done()
			log.Info("worker stopping")

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run every job a single time and exit")
	return cmd
}

func runOnce(ctx context.Context, a *app, cmd *cobra.Command) error {
	report, err := a.jobs.RunAll(ctx)
	if err != nil {
		return err
	}
	sweep, err := a.sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Success rates recomputed: %d\n", report.Recomputed)
	fmt.Fprintf(out, "Stale flagged: %d (cleared %d)\n", report.StaleSet, report.StaleCleared)
	fmt.Fprintf(out, "Duplicates flagged: %d\n", report.Duplicates)
	fmt.Fprintf(out, "Retry queue: %d due, %d succeeded, %d rescheduled, %d abandoned\n",
		sweep.Due, sweep.Succeeded, sweep.Rescheduled, sweep.Abandoned)
	return nil
}
