// Package config loads and validates the LogSentry server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the LogSentry server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Auth       AuthConfig       `mapstructure:"auth"       toml:"auth"`
	Store      StoreConfig      `mapstructure:"store"      toml:"store"`
	Aggregate  AggregateConfig  `mapstructure:"aggregate"  toml:"aggregate"`
	Classifier ClassifierConfig `mapstructure:"classifier" toml:"classifier"`
	Processor  ProcessorConfig  `mapstructure:"processor"  toml:"processor"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	IngestPort   int    `mapstructure:"ingest_port"   toml:"ingest_port"`
	SummaryPort  int    `mapstructure:"summary_port"  toml:"summary_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
	// MaxIngestBodyBytes enforces the 1MiB request-body cap of the ingest protocol.
	MaxIngestBodyBytes int64 `mapstructure:"max_ingest_body_bytes" toml:"max_ingest_body_bytes"`
	// MaxRecordsPerBatch enforces the 1000-record-per-request cap.
	MaxRecordsPerBatch int `mapstructure:"max_records_per_batch" toml:"max_records_per_batch"`
}

// AuthConfig controls API-key hashing and the device-authorization protocol.
type AuthConfig struct {
	// PepperRef resolves to the installation-wide pepper mixed into every
	// API-key hash. Accepts env:NAME or file:///path; a literal value is rejected.
	PepperRef string `mapstructure:"pepper_ref" toml:"pepper_ref"`
	// BcryptCost is the bcrypt work factor used for hash-at-rest (spec floor is 12).
	BcryptCost int `mapstructure:"bcrypt_cost" toml:"bcrypt_cost"`
	// DeviceSessionTTLSeconds bounds how long a device/user code pair remains pending.
	DeviceSessionTTLSeconds int `mapstructure:"device_session_ttl_seconds" toml:"device_session_ttl_seconds"`
	// PollIntervalSeconds is handed to SDK clients and also the minimum gap enforced between polls.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" toml:"poll_interval_seconds"`
	// JanitorIntervalSeconds controls how often expired device sessions are swept.
	JanitorIntervalSeconds int `mapstructure:"janitor_interval_seconds" toml:"janitor_interval_seconds"`
}

// StoreConfig controls the persistent SQLite store.
type StoreConfig struct {
	Path          string `mapstructure:"path"           toml:"path"`
	RetentionDays int    `mapstructure:"retention_days" toml:"retention_days"`
}

// AggregateConfig controls the rolling-aggregate publication cadence.
type AggregateConfig struct {
	SnapshotIntervalSeconds int `mapstructure:"snapshot_interval_seconds" toml:"snapshot_interval_seconds"`
	// ErrorWindowSize is validated to lie in [1, 360] but is not read by the
	// aggregate, whose errors_per_10_logs series is always capped at 360 buckets.
	ErrorWindowSize int `mapstructure:"error_window_size" toml:"error_window_size"`
	// UnhealthyAvgErrorsPer10 and WarningAvgErrorsPer10 are the health-classification thresholds.
	UnhealthyAvgErrorsPer10 float64 `mapstructure:"unhealthy_avg_errors_per_10" toml:"unhealthy_avg_errors_per_10"`
	WarningAvgErrorsPer10   float64 `mapstructure:"warning_avg_errors_per_10"   toml:"warning_avg_errors_per_10"`
	// UnhealthyTopFingerprintCount is the top-fingerprint count threshold. The
	// count covers the errors_per_10_logs window (up to 360 buckets of 10
	// records each), which is measured in records, not in minutes.
	UnhealthyTopFingerprintCount int `mapstructure:"unhealthy_top_fingerprint_count" toml:"unhealthy_top_fingerprint_count"`
}

// ClassifierConfig controls the optional external classifier call.
type ClassifierConfig struct {
	Enabled        bool `mapstructure:"enabled"          toml:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"  toml:"timeout_seconds"`
	MaxConcurrency int  `mapstructure:"max_concurrency"  toml:"max_concurrency"`
}

// ProcessorConfig controls the per-app processor's channel and write-batch behavior.
type ProcessorConfig struct {
	ChannelCapacity        int   `mapstructure:"channel_capacity"          toml:"channel_capacity"`
	WriteBatchSize         int   `mapstructure:"write_batch_size"          toml:"write_batch_size"`
	WriteBatchIntervalMs   int   `mapstructure:"write_batch_interval_ms"   toml:"write_batch_interval_ms"`
	MaxStoreFailures       int   `mapstructure:"max_store_failures"        toml:"max_store_failures"`
	StoreRetryBaseDelayMs  int   `mapstructure:"store_retry_base_delay_ms" toml:"store_retry_base_delay_ms"`
	StoreRetryMaxDelayMs   int   `mapstructure:"store_retry_max_delay_ms"  toml:"store_retry_max_delay_ms"`
	SpoolMaxBytes          int64 `mapstructure:"spool_max_bytes"           toml:"spool_max_bytes"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "logsentryd"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Path    string `mapstructure:"path"    toml:"path"`
}

// RateLimitConfig controls the per-app_id token-bucket throttle applied to
// POST /ingest, independent of the per-app processor's channel backpressure.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
	DefaultRate  float64 `mapstructure:"default_rate"  toml:"default_rate"`  // requests per second
	DefaultBurst int     `mapstructure:"default_burst" toml:"default_burst"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (LOGSENTRY_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.logsentry/logsentry.toml
//  4. ./logsentry.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("LOGSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".logsentry"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("logsentry")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.logsentry/logsentry.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".logsentry")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ImportConfig reads a TOML config file, validates it, and makes it active.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.ingest_port", d.Server.IngestPort)
	v.SetDefault("server.summary_port", d.Server.SummaryPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_ingest_body_bytes", d.Server.MaxIngestBodyBytes)
	v.SetDefault("server.max_records_per_batch", d.Server.MaxRecordsPerBatch)

	v.SetDefault("auth.pepper_ref", d.Auth.PepperRef)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.device_session_ttl_seconds", d.Auth.DeviceSessionTTLSeconds)
	v.SetDefault("auth.poll_interval_seconds", d.Auth.PollIntervalSeconds)
	v.SetDefault("auth.janitor_interval_seconds", d.Auth.JanitorIntervalSeconds)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.retention_days", d.Store.RetentionDays)

	v.SetDefault("aggregate.snapshot_interval_seconds", d.Aggregate.SnapshotIntervalSeconds)
	v.SetDefault("aggregate.error_window_size", d.Aggregate.ErrorWindowSize)
	v.SetDefault("aggregate.unhealthy_avg_errors_per_10", d.Aggregate.UnhealthyAvgErrorsPer10)
	v.SetDefault("aggregate.warning_avg_errors_per_10", d.Aggregate.WarningAvgErrorsPer10)
	v.SetDefault("aggregate.unhealthy_top_fingerprint_count", d.Aggregate.UnhealthyTopFingerprintCount)

	v.SetDefault("classifier.enabled", d.Classifier.Enabled)
	v.SetDefault("classifier.timeout_seconds", d.Classifier.TimeoutSeconds)
	v.SetDefault("classifier.max_concurrency", d.Classifier.MaxConcurrency)

	v.SetDefault("processor.channel_capacity", d.Processor.ChannelCapacity)
	v.SetDefault("processor.write_batch_size", d.Processor.WriteBatchSize)
	v.SetDefault("processor.write_batch_interval_ms", d.Processor.WriteBatchIntervalMs)
	v.SetDefault("processor.max_store_failures", d.Processor.MaxStoreFailures)
	v.SetDefault("processor.store_retry_base_delay_ms", d.Processor.StoreRetryBaseDelayMs)
	v.SetDefault("processor.store_retry_max_delay_ms", d.Processor.StoreRetryMaxDelayMs)
	v.SetDefault("processor.spool_max_bytes", d.Processor.SpoolMaxBytes)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.default_rate", d.RateLimit.DefaultRate)
	v.SetDefault("rate_limit.default_burst", d.RateLimit.DefaultBurst)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
