package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openwrt-builder/builder/internal/runner"
	"github.com/openwrt-builder/builder/internal/runnerlock"
	"github.com/openwrt-builder/builder/internal/telemetry"
	"github.com/spf13/cobra"
)

func newRunnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runner",
		Short: "Run the single-worker build dispatch loop until interrupted",
		RunE:  runRunner,
	}
}

func runRunner(cmd *cobra.Command, args []string) error {
	d, err := newDeps()
	if err != nil {
		return err
	}

	lock, err := runnerlock.Acquire(d.cfg.RuntimeDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, d.cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("cli: telemetry setup: %w", err)
	}
	defer tel.Shutdown(context.Background())

	d.log.Info("starting runner", slog.String("builds_dir", d.cfg.BuildsDir), slog.Int("jobs", d.cfg.BuildJobs))

	pollInterval := time.Duration(d.cfg.PollInterval * float64(time.Second))
	r := runner.New(runner.Config{PollInterval: pollInterval}, d.builds, d.queue, d.executor, tel, d.log.Logger)

	err = r.RunForever(ctx)
	if err != nil && ctx.Err() != nil {
		d.log.Info("runner shutting down on signal")
		return nil
	}
	return err
}
