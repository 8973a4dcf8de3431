package sdk

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultDSN            = "http://localhost:7677"
	defaultBatchSize      = 50
	defaultFlushInterval  = 5.0
	defaultBufferMultiple = 10
	minBatchSize          = 1
	maxBatchSize          = 1000
	minFlushInterval      = 0.1
	maxFlushInterval      = 60.0
)

// Options configures Init (component F). A zero-valued APIKey, DSN,
// BatchSize, FlushIntervalSeconds or MaxBuffer falls back to its environment
// variable, then its default; Service and LogLevel have no environment
// variable and fall back straight to their defaults.
type Options struct {
	// APIKey, if set, takes precedence over LOGSENTRY_API_KEY and the
	// local credentials file.
	APIKey string
	// DSN is the server base URL. Falls back to LOGSENTRY_URL, then the
	// compile-time default.
	DSN string
	// BatchSize is records per flush; default 50, clamped to [1, 1000].
	BatchSize int
	// FlushIntervalSeconds is the soft upper bound on record age in the
	// buffer; default 5.0, clamped to [0.1, 60].
	FlushIntervalSeconds float64
	// MaxBuffer is the hard cap on buffered records; default 10x BatchSize.
	MaxBuffer int
	// Service tags every captured record; defaults to "" (server falls
	// back to the app name).
	Service string
	// LogLevel sets the minimum zerolog level the tap copies; default INFO.
	LogLevel string
}

// resolvedConfig is Options after precedence resolution, clamping, and
// defaulting.
type resolvedConfig struct {
	apiKey        string
	dsn           string
	batchSize     int
	flushInterval float64
	maxBuffer     int
	service       string
	logLevel      string
}

// resolve applies the §4.F precedence chain: explicit arg > env var >
// local credentials file > default. It fails with an error wrapping
// ErrMissingCredentials if no api_key can be found anywhere.
func resolve(opts Options) (*resolvedConfig, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("LOGSENTRY_API_KEY")
	}

	dsn := opts.DSN
	if dsn == "" {
		dsn = os.Getenv("LOGSENTRY_URL")
	}

	if apiKey == "" || dsn == "" {
		if creds, err := LoadCredentials(); err == nil && creds != nil {
			if apiKey == "" {
				apiKey = creds.APIKey
			}
			if dsn == "" {
				dsn = creds.DSN
			}
		}
	}

	if apiKey == "" {
		return nil, ErrMissingCredentials
	}
	if !strings.HasPrefix(apiKey, "sk_") {
		return nil, fmt.Errorf("%w: api_key must have the sk_ prefix", ErrMissingCredentials)
	}

	if dsn == "" {
		dsn = defaultDSN
	}
	dsn = strings.TrimSuffix(dsn, "/")

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = envInt("LOGSENTRY_BATCH_SIZE", defaultBatchSize)
	}
	batchSize = clampInt(batchSize, minBatchSize, maxBatchSize)

	flushInterval := opts.FlushIntervalSeconds
	if flushInterval == 0 {
		flushInterval = envFloat("LOGSENTRY_FLUSH_INTERVAL", defaultFlushInterval)
	}
	flushInterval = clampFloat(flushInterval, minFlushInterval, maxFlushInterval)

	maxBuffer := opts.MaxBuffer
	if maxBuffer == 0 {
		maxBuffer = envInt("LOGSENTRY_MAX_BUFFER", batchSize*defaultBufferMultiple)
	}
	if maxBuffer < batchSize {
		maxBuffer = batchSize
	}

	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	return &resolvedConfig{
		apiKey:        apiKey,
		dsn:           dsn,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxBuffer:     maxBuffer,
		service:       opts.Service,
		logLevel:      logLevel,
	}, nil
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
