// Package processor implements component H: one long-lived task per active
// app_id, owning its inbound channel, rolling aggregates, and write-batch
// toward the persistent store, with a spooled degraded mode for store
// outages.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/aggregate"
	"github.com/logsentry/logsentry/internal/backoff"
	"github.com/logsentry/logsentry/internal/classify"
	"github.com/logsentry/logsentry/internal/metrics"
	"github.com/logsentry/logsentry/internal/spool"
	"github.com/logsentry/logsentry/internal/store"
)

// Config parameterizes one Processor, sourced from config.ProcessorConfig
// and config.AggregateConfig.
type Config struct {
	ChannelCapacity     int
	WriteBatchSize      int
	WriteBatchInterval  time.Duration
	MaxStoreFailures    int
	StoreRetryBaseDelay time.Duration
	StoreRetryMaxDelay  time.Duration
	SpoolMaxBytes       int64
	SnapshotInterval    time.Duration
	Thresholds          aggregate.Thresholds
	// Metrics is optional; a nil value disables metric reporting.
	Metrics *metrics.Collector
}

// Processor owns all mutable state for one app_id. Every field it mutates
// outside of construction is touched only from the Run goroutine; the
// inbound channel and the aggregate snapshot pointers are the sole
// cross-goroutine surfaces.
type Processor struct {
	appID   string
	appName string
	cfg     Config

	inbound chan []*store.PersistedLog

	st         *store.Store
	classifier *classify.Runner
	spool      *spool.Spool

	aggMu      sync.Mutex
	aggregates map[string]*aggregate.Aggregate

	writeBatch          []*store.PersistedLog
	consecutiveFailures int
	nextRetryAt         time.Time
	degraded            bool
	backoffCfg          backoff.Config
}

// New builds a Processor for appID/appName. spoolPath is where its
// degraded-mode JSONL overflow lives; it is created lazily on first use.
func New(appID, appName string, st *store.Store, classifier *classify.Runner, spoolPath string, cfg Config) (*Processor, error) {
	sp, err := spool.Open(spoolPath, cfg.SpoolMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("processor: opening spool for %s: %w", appID, err)
	}
	return &Processor{
		appID:      appID,
		appName:    appName,
		cfg:        cfg,
		inbound:    make(chan []*store.PersistedLog, cfg.ChannelCapacity),
		st:         st,
		classifier: classifier,
		spool:      sp,
		aggregates: make(map[string]*aggregate.Aggregate),
		backoffCfg: backoff.Config{Base: cfg.StoreRetryBaseDelay, Max: cfg.StoreRetryMaxDelay},
	}, nil
}

// TryEnqueue performs a non-blocking send, falling back to a bounded wait
// (§5: "bounded wait of 250 ms, then returns 503") before reporting
// backpressure to the caller.
func (p *Processor) TryEnqueue(ctx context.Context, batch []*store.PersistedLog) bool {
	select {
	case p.inbound <- batch:
		p.reportQueueDepth()
		return true
	default:
	}

	timer := time.NewTimer(250 * time.Millisecond)
	defer timer.Stop()
	select {
	case p.inbound <- batch:
		p.reportQueueDepth()
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *Processor) reportQueueDepth() {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetQueueDepth(p.appID, len(p.inbound))
	}
}

// AggregateSnapshot returns the latest published snapshot for a service,
// or nil if the service has never been seen.
func (p *Processor) AggregateSnapshot(service string) *aggregate.Snapshot {
	p.aggMu.Lock()
	a, ok := p.aggregates[service]
	p.aggMu.Unlock()
	if !ok {
		return nil
	}
	return a.Snapshot()
}

// Services lists every service this processor has built an aggregate for.
func (p *Processor) Services() []string {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	out := make([]string, 0, len(p.aggregates))
	for svc := range p.aggregates {
		out = append(out, svc)
	}
	return out
}

// Run is the processor's main loop. It blocks until ctx is cancelled, at
// which point it finishes its current batch, flushes, publishes final
// snapshots, and returns (the §4.H / §5 shutdown contract).
func (p *Processor) Run(ctx context.Context) {
	flushTicker := time.NewTicker(p.cfg.WriteBatchInterval)
	defer flushTicker.Stop()
	snapshotTicker := time.NewTicker(p.cfg.SnapshotInterval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush()
			p.publishAllSnapshots()
			log.Info().Str("app_id", p.appID).Msg("processor: shut down")
			return

		case batch, ok := <-p.inbound:
			if !ok {
				p.flush()
				p.publishAllSnapshots()
				return
			}
			p.handleBatch(ctx, batch)
			if len(p.writeBatch) >= p.cfg.WriteBatchSize {
				p.flush()
			}

		case <-flushTicker.C:
			p.flush()

		case <-snapshotTicker.C:
			p.publishAllSnapshots()
		}
	}
}

func (p *Processor) handleBatch(ctx context.Context, batch []*store.PersistedLog) {
	records := make([]*classify.Record, len(batch))
	for i, l := range batch {
		records[i] = &classify.Record{Message: l.Message}
	}
	if p.classifier != nil {
		start := time.Now()
		p.classifier.ClassifyBatch(ctx, records)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ObserveClassifier(time.Since(start))
		}
		for i, r := range records {
			batch[i].Classification = r.Classification
			if r.Classification == "" && p.cfg.Metrics != nil {
				p.cfg.Metrics.AddClassifierSkipped()
			}
		}
	}

	p.updateAggregates(batch)
	p.writeBatch = append(p.writeBatch, batch...)
}

func (p *Processor) updateAggregates(batch []*store.PersistedLog) {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()

	byService := make(map[string][]aggregate.Record)
	for _, l := range batch {
		svc := l.Service
		if svc == "" {
			svc = p.appName
		}
		ts, err := time.Parse(time.RFC3339Nano, l.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
		byService[svc] = append(byService[svc], aggregate.Record{
			Level:       l.Level,
			Fingerprint: l.Fingerprint,
			Timestamp:   ts,
		})
	}

	for svc, recs := range byService {
		a, ok := p.aggregates[svc]
		if !ok {
			a = aggregate.New(svc, p.cfg.Thresholds)
			p.aggregates[svc] = a
		}
		a.Update(recs)
	}
}

func (p *Processor) publishAllSnapshots() {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	for _, a := range p.aggregates {
		a.Publish()
	}
}

// flush attempts to persist the pending write-batch, following §4.H's
// failure handling: exponential backoff on failure, and after
// MaxStoreFailures consecutive failures, shunting to the on-disk spool
// until recovery.
func (p *Processor) flush() {
	if len(p.writeBatch) == 0 {
		if p.degraded {
			p.tryRecoverFromSpool()
		}
		return
	}

	if p.degraded {
		p.spoolBatch(p.writeBatch)
		p.writeBatch = nil
		p.tryRecoverFromSpool()
		return
	}

	if time.Now().Before(p.nextRetryAt) {
		return
	}

	start := time.Now()
	if err := p.st.InsertLogsBatch(p.writeBatch); err != nil {
		p.consecutiveFailures++
		delay := p.backoffCfg.Delay(p.consecutiveFailures - 1)
		p.nextRetryAt = time.Now().Add(delay)
		log.Warn().Err(err).Str("app_id", p.appID).Int("consecutive_failures", p.consecutiveFailures).
			Dur("retry_in", delay).Msg("processor: store write failed")
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.AddStoreWriteFailure(p.appID)
		}

		if p.consecutiveFailures >= p.cfg.MaxStoreFailures {
			log.Error().Str("app_id", p.appID).Msg("processor: entering degraded mode, spooling to disk")
			p.degraded = true
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.SetDegraded(p.appID, true)
			}
			p.spoolBatch(p.writeBatch)
			p.writeBatch = nil
		}
		return
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveStoreBatchWrite(time.Since(start))
	}
	p.consecutiveFailures = 0
	p.writeBatch = nil
}

func (p *Processor) spoolBatch(batch []*store.PersistedLog) {
	for _, l := range batch {
		if err := p.spool.Append(l); err != nil {
			log.Error().Err(err).Str("app_id", p.appID).Msg("processor: spool append failed")
		}
	}
}

func (p *Processor) tryRecoverFromSpool() {
	err := p.spool.Drain(func(line []byte) error {
		var l store.PersistedLog
		if err := json.Unmarshal(line, &l); err != nil {
			return nil // skip unparseable line rather than blocking recovery forever
		}
		return p.st.InsertLogsBatch([]*store.PersistedLog{&l})
	})
	if err == nil {
		if p.degraded {
			log.Info().Str("app_id", p.appID).Msg("processor: recovered from degraded mode")
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.SetDegraded(p.appID, false)
			}
		}
		p.degraded = false
		p.consecutiveFailures = 0
		return
	}
	if !spool.IsDrainIncomplete(err) {
		log.Error().Err(err).Str("app_id", p.appID).Msg("processor: spool drain error")
	}
}

// NewRecordID generates an opaque identifier for a newly stamped log
// record, used by the ingestion endpoint (§4.G step 4) before enqueueing.
func NewRecordID() string {
	return uuid.NewString()
}
