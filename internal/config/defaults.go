package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultIngestPort is the default port for the ingestion server.
const DefaultIngestPort = 7677

// DefaultSummaryPort is the default port for the summary server; the
// device-auth endpoints are served on the ingestion port.
const DefaultSummaryPort = 7678

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.logsentry"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "logsentry.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
const DefaultWriteTimeout = 30

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxIngestBodyBytes is the §6 wire-format cap on one /ingest request body.
const DefaultMaxIngestBodyBytes = 1 << 20

// DefaultMaxRecordsPerBatch is the §6 cap on LogRecords per /ingest request.
const DefaultMaxRecordsPerBatch = 1000

// DefaultBcryptCost is the minimum password-hashing work factor the spec requires.
const DefaultBcryptCost = 12

// DefaultDeviceSessionTTLSeconds is the device-authorization code lifetime (15 min cap).
const DefaultDeviceSessionTTLSeconds = 600

// DefaultPollIntervalSeconds is handed back from /sdk/device/start.
const DefaultPollIntervalSeconds = 2

// DefaultJanitorIntervalSeconds is how often expired device sessions are swept.
const DefaultJanitorIntervalSeconds = 30

// DefaultRetentionDays is how long persisted logs are retained.
const DefaultRetentionDays = 30

// DefaultSnapshotIntervalSeconds is the rolling-aggregate publication cadence.
const DefaultSnapshotIntervalSeconds = 2

// DefaultErrorWindowSize is the default for AggregateConfig.ErrorWindowSize.
// The aggregate itself always keeps up to 360 errors_per_10_logs buckets.
const DefaultErrorWindowSize = 360

// DefaultUnhealthyAvgErrorsPer10 is the "unhealthy" health-classification threshold.
const DefaultUnhealthyAvgErrorsPer10 = 5.0

// DefaultWarningAvgErrorsPer10 is the "warning" health-classification threshold.
const DefaultWarningAvgErrorsPer10 = 2.0

// DefaultUnhealthyTopFingerprintCount is the top-fingerprint-count threshold,
// counted over the aggregate's record-count window (not a time window).
const DefaultUnhealthyTopFingerprintCount = 20

// DefaultClassifierTimeoutSeconds bounds a single classifier call.
const DefaultClassifierTimeoutSeconds = 2

// DefaultClassifierMaxConcurrency caps concurrent classifier calls process-wide.
const DefaultClassifierMaxConcurrency = 16

// DefaultProcessorChannelCapacity is the per-app inbound channel capacity.
const DefaultProcessorChannelCapacity = 1024

// DefaultWriteBatchSize flushes a processor's write-batch at this many records.
const DefaultWriteBatchSize = 200

// DefaultWriteBatchIntervalMs flushes a processor's write-batch at this interval.
const DefaultWriteBatchIntervalMs = 2000

// DefaultMaxStoreFailures is consecutive store-write failures before entering degraded mode.
const DefaultMaxStoreFailures = 10

// DefaultStoreRetryBaseDelayMs and DefaultStoreRetryMaxDelayMs parameterize the
// store-write backoff, mirroring the SDK flusher's backoff shape.
const DefaultStoreRetryBaseDelayMs = 500
const DefaultStoreRetryMaxDelayMs = 30000

// DefaultSpoolMaxBytes is the on-disk degraded-mode spool cap per app.
const DefaultSpoolMaxBytes = 256 << 20

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "logsentryd"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultMetricsPath is the default Prometheus scrape path.
const DefaultMetricsPath = "/metrics"

// DefaultIngestRateLimit is the default sustained per-app_id ingest rate.
const DefaultIngestRateLimit = 50.0

// DefaultIngestRateLimitBurst is the default per-app_id ingest burst size.
const DefaultIngestRateLimitBurst = 100

// ValidLogLevels lists the allowed server log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:        DefaultBindAddress,
			IngestPort:         DefaultIngestPort,
			SummaryPort:        DefaultSummaryPort,
			LogLevel:           DefaultLogLevel,
			DataDir:            DefaultDataDir,
			TLSEnabled:         false,
			CertFile:           "",
			KeyFile:            "",
			ReadTimeout:        DefaultReadTimeout,
			WriteTimeout:       DefaultWriteTimeout,
			IdleTimeout:        DefaultIdleTimeout,
			MaxIngestBodyBytes: DefaultMaxIngestBodyBytes,
			MaxRecordsPerBatch: DefaultMaxRecordsPerBatch,
		},
		Auth: AuthConfig{
			PepperRef:               "env:LOGSENTRY_PEPPER",
			BcryptCost:              DefaultBcryptCost,
			DeviceSessionTTLSeconds: DefaultDeviceSessionTTLSeconds,
			PollIntervalSeconds:     DefaultPollIntervalSeconds,
			JanitorIntervalSeconds:  DefaultJanitorIntervalSeconds,
		},
		Store: StoreConfig{
			Path:          "~/.logsentry/logsentry.db",
			RetentionDays: DefaultRetentionDays,
		},
		Aggregate: AggregateConfig{
			SnapshotIntervalSeconds:      DefaultSnapshotIntervalSeconds,
			ErrorWindowSize:              DefaultErrorWindowSize,
			UnhealthyAvgErrorsPer10:      DefaultUnhealthyAvgErrorsPer10,
			WarningAvgErrorsPer10:        DefaultWarningAvgErrorsPer10,
			UnhealthyTopFingerprintCount: DefaultUnhealthyTopFingerprintCount,
		},
		Classifier: ClassifierConfig{
			Enabled:        false,
			TimeoutSeconds: DefaultClassifierTimeoutSeconds,
			MaxConcurrency: DefaultClassifierMaxConcurrency,
		},
		Processor: ProcessorConfig{
			ChannelCapacity:       DefaultProcessorChannelCapacity,
			WriteBatchSize:        DefaultWriteBatchSize,
			WriteBatchIntervalMs:  DefaultWriteBatchIntervalMs,
			MaxStoreFailures:      DefaultMaxStoreFailures,
			StoreRetryBaseDelayMs: DefaultStoreRetryBaseDelayMs,
			StoreRetryMaxDelayMs:  DefaultStoreRetryMaxDelayMs,
			SpoolMaxBytes:         DefaultSpoolMaxBytes,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			DefaultRate:  DefaultIngestRateLimit,
			DefaultBurst: DefaultIngestRateLimitBurst,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}
