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
	"github.com/driftfs/driftfs/pkg/coordinator"
	capi "github.com/driftfs/driftfs/pkg/coordinator/api"
	"github.com/driftfs/driftfs/pkg/coordinator/store"
	"github.com/driftfs/driftfs/pkg/metrics"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the metadata coordinator",
	Long: `Run the DriftFS metadata coordinator.

The coordinator owns file metadata and chunk placement: it plans uploads,
tracks worker inventory through heartbeats, re-replicates chunks when
workers die, and garbage-collects deleted files.

Examples:
  # Run with the default config
  driftfs coordinator

  # Run with a custom config file
  driftfs coordinator --config /etc/driftfs/config.yaml

  # Override the log level
  DRIFTFS_LOGGING_LEVEL=DEBUG driftfs coordinator`,
	RunE: runCoordinator,
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	telemetryShutdown, err := InitTelemetry(ctx, cfg, "driftfs-coordinator")
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

	st, err := store.Open(cfg.Coordinator.Store)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	svc := coordinator.New(cfg.Coordinator, st)
	addr := fmt.Sprintf("%s:%d", cfg.Coordinator.Host, cfg.Coordinator.Port)
	server := api.NewServer("coordinator", addr, capi.NewRouter(svc))

	logger.Info("coordinator starting",
		"addr", addr,
		"chunk_size", cfg.Coordinator.ChunkSize.String(),
		"replication_factor", cfg.Coordinator.ReplicationFactor,
		"store_backend", cfg.Coordinator.Store.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.ShutdownTimeout) })
	g.Go(func() error { return svc.RunBackground(gctx) })
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := api.NewServer("metrics", fmt.Sprintf(":%d", cfg.Metrics.Port), mux)
		g.Go(func() error { return metricsServer.Start(gctx, cfg.ShutdownTimeout) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("coordinator stopped")
	return nil
}
