package config

import (
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/bytesize"
	"github.com/driftfs/driftfs/pkg/coordinator/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Called after loading configuration from file and environment variables to
// fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyShutdownTimeoutDefaults(cfg)
	applyCoordinatorDefaults(&cfg.Coordinator)
	applyWorkerDefaults(&cfg.Worker)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false; zero value is already correct

	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// ApplyDefaults fills unset coordinator fields. Exposed so the coordinator
// service can be constructed from a bare section in tests.
func (cfg *CoordinatorConfig) ApplyDefaults() {
	applyCoordinatorDefaults(cfg)
}

// applyCoordinatorDefaults sets coordinator defaults.
func applyCoordinatorDefaults(cfg *CoordinatorConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * bytesize.MiB
	}
	if cfg.ReplicationFactor == 0 {
		cfg.ReplicationFactor = 3
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = 30 * time.Second
	}
	if cfg.RepairPeriod == 0 {
		cfg.RepairPeriod = 60 * time.Second
	}
	if cfg.MaxConcurrentRepairs == 0 {
		cfg.MaxConcurrentRepairs = 10
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = time.Hour
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = 60 * time.Second
	}
	if cfg.GCPeriod == 0 {
		cfg.GCPeriod = 24 * time.Hour
	}
	if cfg.GCGrace == 0 {
		cfg.GCGrace = 7 * 24 * time.Hour
	}
	cfg.Store.ApplyDefaults()
}

// applyWorkerDefaults sets storage worker defaults.
func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.CoordinatorURL == "" {
		cfg.CoordinatorURL = "http://localhost:8000"
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = time.Hour
	}
	if cfg.ScrubInterval == 0 {
		cfg.ScrubInterval = 6 * time.Hour
	}
	// NodeID and AdvertiseHost are derived at startup when empty; StoragePath
	// has no default and is required for the worker role.
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Coordinator: CoordinatorConfig{
			Store: store.Config{
				Backend: store.BackendMemory,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
