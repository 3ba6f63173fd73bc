package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/driftfs/driftfs/internal/bytesize"
	"github.com/driftfs/driftfs/pkg/coordinator/store"
)

// Config represents the DriftFS configuration.
//
// One file configures both roles: a process started with `driftfs
// coordinator` reads the coordinator section, `driftfs worker` reads the
// worker section. Logging, telemetry, and metrics are shared.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DRIFTFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Coordinator configures the metadata coordinator role
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`

	// Worker configures the storage worker role
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
// When Enabled is false, no metrics server is started.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// CoordinatorConfig configures the metadata coordinator.
type CoordinatorConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port
	// Default: 8000
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ChunkSize is the fixed chunk size for all uploads. The value returned
	// by upload-init is authoritative; clients slice with it.
	// Supports human-readable formats: "64MiB", "128Mi", plain bytes.
	// Default: 64MiB
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// ReplicationFactor is the target number of workers holding each chunk
	// Default: 3
	ReplicationFactor int `mapstructure:"replication_factor" validate:"omitempty,min=1" yaml:"replication_factor"`

	// DeadThreshold marks a worker inactive when its last heartbeat is older
	// Default: 30s
	DeadThreshold time.Duration `mapstructure:"dead_threshold" yaml:"dead_threshold"`

	// RepairPeriod is the interval between repair scans
	// Default: 60s
	RepairPeriod time.Duration `mapstructure:"repair_period" yaml:"repair_period"`

	// MaxConcurrentRepairs bounds simultaneous cross-worker copies
	// Default: 10
	MaxConcurrentRepairs int `mapstructure:"max_concurrent_repairs" validate:"omitempty,min=1" yaml:"max_concurrent_repairs"`

	// Rebalance additionally moves placements from hot workers to cold ones.
	// Default: false
	Rebalance bool `mapstructure:"rebalance" yaml:"rebalance"`

	// RackAware requires at least one replica on a different rack when rack
	// labels are reported.
	// Default: false
	RackAware bool `mapstructure:"rack_aware" yaml:"rack_aware"`

	// SessionTimeout abandons upload sessions that never commit
	// Default: 1h
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`

	// LeaseTTL is the default lifetime of a path write lease
	// Default: 60s
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`

	// GCPeriod is the interval between garbage collection sweeps
	// Default: 24h
	GCPeriod time.Duration `mapstructure:"gc_period" yaml:"gc_period"`

	// GCGrace is how long soft-deleted files are kept before physical removal
	// Default: 168h (7 days)
	GCGrace time.Duration `mapstructure:"gc_grace" yaml:"gc_grace"`

	// Store configures the metadata store backend (memory+WAL or badger)
	Store store.Config `mapstructure:"store" yaml:"store"`
}

// WorkerConfig configures a storage worker.
type WorkerConfig struct {
	// NodeID is the stable worker identity. Changing host/port without
	// changing the id is a misconfiguration.
	// Default: node-<host>-<port>
	NodeID string `mapstructure:"node_id" yaml:"node_id"`

	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port
	// Default: 9000
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// AdvertiseHost is the address reported in heartbeats, for clusters where
	// the listen address is not reachable by peers.
	// Default: os.Hostname()
	AdvertiseHost string `mapstructure:"advertise_host" yaml:"advertise_host"`

	// CoordinatorURL is the metadata coordinator base URL
	// Default: http://localhost:8000
	CoordinatorURL string `mapstructure:"coordinator_url" validate:"omitempty,url" yaml:"coordinator_url"`

	// StoragePath is the chunk directory root (required for the worker role)
	StoragePath string `mapstructure:"storage_path" yaml:"storage_path"`

	// Rack is an optional rack label used by rack-aware placement
	Rack string `mapstructure:"rack" yaml:"rack,omitempty"`

	// HeartbeatInterval is the period between inventory reports
	// Default: 10s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// ScanInterval is the period between full inventory disk scans
	// Default: 1h
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`

	// ScrubInterval is the period between bit-rot scrub passes.
	// Zero disables scrubbing.
	// Default: 6h
	ScrubInterval time.Duration `mapstructure:"scrub_interval" yaml:"scrub_interval"`
}

// AdvertiseAddr returns the host other components should use to reach this
// worker: the explicit advertise host when set, otherwise the listen host
// unless it is a wildcard bind.
func (w *WorkerConfig) AdvertiseAddr() string {
	if w.AdvertiseHost != "" {
		return w.AdvertiseHost
	}
	if w.Host == "" || w.Host == "0.0.0.0" || w.Host == "::" {
		return "localhost"
	}
	return w.Host
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DRIFTFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  driftfs init\n\n"+
				"Or specify a custom config file:\n"+
				"  driftfs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  driftfs init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DRIFTFS_ prefix and underscores
	// Example: DRIFTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DRIFTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/driftfs/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "64MiB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "driftfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
