package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/aggregate"
	"github.com/logsentry/logsentry/internal/apiserver"
	"github.com/logsentry/logsentry/internal/classify"
	"github.com/logsentry/logsentry/internal/config"
	"github.com/logsentry/logsentry/internal/deviceauth"
	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/ingest"
	"github.com/logsentry/logsentry/internal/keyregistry"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/processor"
	"github.com/logsentry/logsentry/internal/ratelimit"
	"github.com/logsentry/logsentry/internal/secret"
	"github.com/logsentry/logsentry/internal/store"
	"github.com/logsentry/logsentry/internal/summary"
	"github.com/logsentry/logsentry/internal/tracing"
	"github.com/logsentry/logsentry/internal/version"
)

const lruCacheCapacity = 4096

// negativeKeyCacheTTL bounds how long an unauthorized verdict (unknown or
// revoked key) stays cached, distinct from and much shorter than the
// positive-hit TTL so a freshly issued key isn't shadowed by a stale miss.
const negativeKeyCacheTTL = 5 * time.Second

// Run is the main daemon orchestrator. It initializes every subsystem,
// starts the ingest and summary servers, and blocks until a shutdown signal
// is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "logsentryd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "logsentryd").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("logsentryd starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("logsentryd is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open store.
	dbPath := expandHome(cfg.Store.Path)
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Resolve the bcrypt pepper and build the key registry.
	pepper, err := secret.Resolve(cfg.Auth.PepperRef)
	if err != nil {
		return fmt.Errorf("resolving auth.pepper_ref: %w", err)
	}
	hasher := fingerprint.NewHasher(pepper, cfg.Auth.BcryptCost)
	keys, err := keyregistry.New(st, hasher, lruCacheCapacity, 30*time.Second, negativeKeyCacheTTL)
	if err != nil {
		return fmt.Errorf("creating key registry: %w", err)
	}

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Start tracing (optional).
	var tracingShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		tracingShutdown, err = tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing; continuing without it")
			tracingShutdown = nil
		} else {
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	// 8. Build the metrics collector (always on; scrape exposure is gated by cfg.Metrics.Enabled).
	collector := metrics.New()

	// 9. Start periodic log pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Store.RetentionDays)
	}()

	// 10. Optional external classifier. The spec leaves the classifier
	// backend unspecified beyond its Classifier interface, so logsentryd
	// runs with it disabled by default; a concrete implementation can be
	// wired in here once one is configured.
	var classifierRunner *classify.Runner
	if cfg.Classifier.Enabled {
		sem := classify.NewSemaphore(cfg.Classifier.MaxConcurrency)
		classifierRunner = classify.NewRunner(nil, sem, time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second)
		log.Warn().Msg("classifier.enabled=true but no classifier backend is configured; batches will be treated as unclassified")
	}

	// 11. Build the per-app processor manager.
	processorCfg := processor.Config{
		ChannelCapacity:       cfg.Processor.ChannelCapacity,
		WriteBatchSize:        cfg.Processor.WriteBatchSize,
		WriteBatchInterval:    time.Duration(cfg.Processor.WriteBatchIntervalMs) * time.Millisecond,
		MaxStoreFailures:      cfg.Processor.MaxStoreFailures,
		StoreRetryBaseDelay:   time.Duration(cfg.Processor.StoreRetryBaseDelayMs) * time.Millisecond,
		StoreRetryMaxDelay:    time.Duration(cfg.Processor.StoreRetryMaxDelayMs) * time.Millisecond,
		SpoolMaxBytes:         cfg.Processor.SpoolMaxBytes,
		SnapshotInterval:      time.Duration(cfg.Aggregate.SnapshotIntervalSeconds) * time.Second,
		Metrics:               collector,
		Thresholds: aggregate.Thresholds{
			UnhealthyAvgErrorsPer10:      cfg.Aggregate.UnhealthyAvgErrorsPer10,
			WarningAvgErrorsPer10:        cfg.Aggregate.WarningAvgErrorsPer10,
			UnhealthyTopFingerprintCount: cfg.Aggregate.UnhealthyTopFingerprintCount,
		},
	}
	spoolDir := filepath.Join(dataDir, "spool")
	manager := processor.NewManager(context.Background(), st, classifierRunner, spoolDir, processorCfg)

	// 12. Wire the ingestion server.
	limiter := ratelimit.New(cfg.RateLimit.DefaultRate, cfg.RateLimit.DefaultBurst, cfg.RateLimit.Enabled)
	ingestHandler := ingest.NewHandler(keys, st, manager, cfg.Server.MaxIngestBodyBytes, cfg.Server.MaxRecordsPerBatch).
		WithMetrics(collector).
		WithRateLimit(limiter)

	proto := deviceauth.New(
		st, keys,
		time.Duration(cfg.Auth.DeviceSessionTTLSeconds)*time.Second,
		time.Duration(cfg.Auth.PollIntervalSeconds)*time.Second,
	).WithMetrics(collector)
	deviceHandlers := deviceauth.NewHandlers(proto)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		deviceauth.RunJanitor(janitorCtx, proto, time.Duration(cfg.Auth.JanitorIntervalSeconds)*time.Second)
	}()

	summaryHandler := summary.NewHandler(st, manager, nil)

	httpOpts := apiserver.Options{
		TracingEnabled: cfg.Tracing.Enabled,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	ingestAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.IngestPort)
	ingestServer := apiserver.NewIngestServer(ingestAddr, ingestHandler, deviceHandlers, httpOpts)

	var metricsHandler http.Handler
	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.Enabled {
		metricsHandler = collector.Handler()
	}
	summaryAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.SummaryPort)
	summaryServer := apiserver.NewSummaryServer(summaryAddr, summaryHandler, metricsHandler, metricsPath, httpOpts)

	errCh := make(chan error, 2)

	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", ingestAddr).Msg("ingest server starting (TLS)")
			if err := ingestServer.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- fmt.Errorf("ingest server: %w", err)
			}
		} else {
			log.Info().Str("addr", ingestAddr).Msg("ingest server starting")
			if err := ingestServer.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("ingest server: %w", err)
			}
		}
	}()

	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", summaryAddr).Msg("summary server starting (TLS)")
			if err := summaryServer.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- fmt.Errorf("summary server: %w", err)
			}
		} else {
			log.Info().Str("addr", summaryAddr).Msg("summary server starting")
			if err := summaryServer.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("summary server: %w", err)
			}
		}
	}()

	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}

	log.Info().
		Int("ingest_port", cfg.Server.IngestPort).
		Int("summary_port", cfg.Server.SummaryPort).
		Bool("tls", cfg.Server.TLSEnabled).
		Msg("logsentryd is ready")

	if foreground {
		fmt.Printf("\n  LogSentry is running!\n")
		fmt.Printf("  Ingest:  %s://localhost:%d/ingest\n", scheme, cfg.Server.IngestPort)
		fmt.Printf("  Summary: %s://localhost:%d/apps\n\n", scheme, cfg.Server.SummaryPort)
	}

	// 13. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 14. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ingest server shutdown error")
	}
	if err := summaryServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("summary server shutdown error")
	}

	// 15. Clean up -- wait for background goroutines before closing the store.
	pruneCancel()
	janitorCancel()
	<-prunerDone
	<-janitorDone
	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("logsentryd stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("logsentryd does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("logsentryd is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to logsentryd (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary fetched from
// the summary server's /apps endpoint.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("logsentryd is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("logsentryd is running (PID %d)\n", pid)

	summaryURL := fmt.Sprintf("http://%s:%d/apps", cfg.Server.BindAddress, cfg.Server.SummaryPort)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(summaryURL)
	if err != nil {
		fmt.Println("  (summary server unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var apps []map[string]interface{}
	if err := json.Unmarshal(body, &apps); err != nil {
		return nil
	}

	fmt.Printf("\n  Apps: %d\n", len(apps))
	for _, app := range apps {
		fmt.Printf("    %-20v health=%-10v errors_per_10=%v\n", app["name"], app["health"], app["errors_per_10"])
	}

	return nil
}

// runPruner periodically prunes old log data from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("log pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("log pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old logs")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
