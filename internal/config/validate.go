package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.IngestPort < 1 || cfg.Server.IngestPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.ingest_port must be between 1 and 65535, got %d", cfg.Server.IngestPort))
	}
	if cfg.Server.SummaryPort < 1 || cfg.Server.SummaryPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.summary_port must be between 1 and 65535, got %d", cfg.Server.SummaryPort))
	}
	if cfg.Server.IngestPort == cfg.Server.SummaryPort {
		errs = append(errs, fmt.Sprintf("server.ingest_port and server.summary_port must differ, both are %d", cfg.Server.IngestPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxIngestBodyBytes < 1 {
		errs = append(errs, fmt.Sprintf("server.max_ingest_body_bytes must be positive, got %d", cfg.Server.MaxIngestBodyBytes))
	}
	if cfg.Server.MaxRecordsPerBatch < 1 {
		errs = append(errs, fmt.Sprintf("server.max_records_per_batch must be positive, got %d", cfg.Server.MaxRecordsPerBatch))
	}

	if cfg.Auth.BcryptCost < 12 {
		errs = append(errs, fmt.Sprintf("auth.bcrypt_cost must be at least 12, got %d", cfg.Auth.BcryptCost))
	}
	if cfg.Auth.DeviceSessionTTLSeconds < 1 || cfg.Auth.DeviceSessionTTLSeconds > 900 {
		errs = append(errs, fmt.Sprintf("auth.device_session_ttl_seconds must be between 1 and 900, got %d", cfg.Auth.DeviceSessionTTLSeconds))
	}
	if cfg.Auth.PollIntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("auth.poll_interval_seconds must be positive, got %d", cfg.Auth.PollIntervalSeconds))
	}
	if cfg.Auth.JanitorIntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("auth.janitor_interval_seconds must be positive, got %d", cfg.Auth.JanitorIntervalSeconds))
	}

	if cfg.Store.Path == "" {
		errs = append(errs, "store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("store.retention_days must be at least 1, got %d", cfg.Store.RetentionDays))
	}

	if cfg.Aggregate.SnapshotIntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("aggregate.snapshot_interval_seconds must be positive, got %d", cfg.Aggregate.SnapshotIntervalSeconds))
	}
	if cfg.Aggregate.ErrorWindowSize < 1 || cfg.Aggregate.ErrorWindowSize > 360 {
		errs = append(errs, fmt.Sprintf("aggregate.error_window_size must be between 1 and 360, got %d", cfg.Aggregate.ErrorWindowSize))
	}

	if cfg.Classifier.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("classifier.timeout_seconds must be positive, got %d", cfg.Classifier.TimeoutSeconds))
	}
	if cfg.Classifier.MaxConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("classifier.max_concurrency must be positive, got %d", cfg.Classifier.MaxConcurrency))
	}

	if cfg.Processor.ChannelCapacity < 1 {
		errs = append(errs, fmt.Sprintf("processor.channel_capacity must be at least 1, got %d", cfg.Processor.ChannelCapacity))
	}
	if cfg.Processor.WriteBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("processor.write_batch_size must be positive, got %d", cfg.Processor.WriteBatchSize))
	}
	if cfg.Processor.WriteBatchIntervalMs < 1 {
		errs = append(errs, fmt.Sprintf("processor.write_batch_interval_ms must be positive, got %d", cfg.Processor.WriteBatchIntervalMs))
	}
	if cfg.Processor.MaxStoreFailures < 1 {
		errs = append(errs, fmt.Sprintf("processor.max_store_failures must be positive, got %d", cfg.Processor.MaxStoreFailures))
	}
	if cfg.Processor.SpoolMaxBytes < 1 {
		errs = append(errs, fmt.Sprintf("processor.spool_max_bytes must be positive, got %d", cfg.Processor.SpoolMaxBytes))
	}

	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
