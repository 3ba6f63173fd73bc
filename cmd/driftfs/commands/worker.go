package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/api"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a storage worker",
	Long: `Run a DriftFS storage worker.

A worker stores chunk bytes on local disk, serves them over HTTP, and
reports its full inventory to the coordinator on every heartbeat. Chunk
replication between workers happens peer to peer.

Examples:
  # Run with the default config
  driftfs worker

  # Run with a custom config file
  driftfs worker --config /etc/driftfs/worker.yaml`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	telemetryShutdown, err := InitTelemetry(ctx, cfg, "driftfs-worker")
	if err != nil {
		return err
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err.Error())
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	w, err := worker.New(cfg.Worker)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx, cfg.ShutdownTimeout) })
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := api.NewServer("metrics", fmt.Sprintf(":%d", cfg.Metrics.Port), mux)
		g.Go(func() error { return metricsServer.Start(gctx, cfg.ShutdownTimeout) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
