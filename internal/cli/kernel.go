package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/nbkernel/internal/kernel"
	"github.com/roach88/nbkernel/internal/metrics"
)

// NewKernelCommand creates the kernel command.
func NewKernelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kernel",
		Short: "Run a kernel session for a notebook",
		Long: `Start a kernel session: register it in the notebook's event log, report
liveness on the heartbeat interval, claim pending executions while this
session is the eligible one, and run them.

A newer session that becomes ready supersedes this one. Entries it already
owns still finish here. SIGINT or SIGTERM stops the session; in-flight
executions are recorded as failed with KernelShutdown and a disconnected
heartbeat is written.

Examples:
  nbkernel kernel --notebook-id analysis
  nbkernel kernel --notebook-id analysis --status-addr :8080 --metrics-addr :9090
  nbkernel kernel --config kernel.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKernel(rootOpts, cmd)
		},
	}
}

func runKernel(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	kopts := []kernel.Option{kernel.WithClock(opts.clock()), kernel.WithIDs(opts.ids())}
	if cfg.MetricsAddr != "" {
		kopts = append(kopts, kernel.WithMetrics(metrics.New()))
	}
	k, err := kernel.New(cfg, kopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start kernel", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Kernel session %s started for notebook %s.\n", k.SessionID(), cfg.NotebookID)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "kernel error", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Kernel stopped.")
	return nil
}
