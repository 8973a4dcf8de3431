// Package metrics exposes LogSentry server metrics to Prometheus via the
// real client_golang collectors, registered against a private registry so
// tests can construct independent instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric LogSentry reports and the registry they are
// bound to.
type Collector struct {
	registry *prometheus.Registry

	ingestRequestsTotal   *prometheus.CounterVec
	ingestRecordsTotal    *prometheus.CounterVec
	ingestBodyBytes       prometheus.Histogram
	ingestDuration        *prometheus.HistogramVec
	queueDepth            *prometheus.GaugeVec
	processorDegraded     *prometheus.GaugeVec
	storeWriteFailures    *prometheus.CounterVec
	storeBatchDuration    prometheus.Histogram
	classifierDuration    prometheus.Histogram
	classifierSkipped     prometheus.Counter
	deviceSessionsTotal   *prometheus.CounterVec
	deviceSessionsPending prometheus.Gauge
	apiKeyCacheHits       *prometheus.CounterVec
}

// New builds a Collector and registers its metrics, plus the standard Go
// runtime and process collectors, on a private prometheus.Registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ingestRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_ingest_requests_total",
			Help: "Total number of POST /ingest requests by outcome.",
		}, []string{"outcome"}),
		ingestRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_ingest_records_total",
			Help: "Total number of individual log records accepted, by app_id.",
		}, []string{"app_id"}),
		ingestBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logsentry_ingest_body_bytes",
			Help:    "Size of accepted ingest request bodies in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logsentry_ingest_duration_seconds",
			Help:    "POST /ingest handler duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "logsentry_processor_queue_depth",
			Help: "Number of batches currently buffered in a per-app processor's inbound channel.",
		}, []string{"app_id"}),
		processorDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "logsentry_processor_degraded",
			Help: "1 if the per-app processor is spooling to disk in degraded mode, 0 otherwise.",
		}, []string{"app_id"}),
		storeWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_store_write_failures_total",
			Help: "Total number of failed SQLite batch-insert attempts, by app_id.",
		}, []string{"app_id"}),
		storeBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logsentry_store_batch_write_duration_seconds",
			Help:    "Duration of a successful batch insert into the log store.",
			Buckets: prometheus.DefBuckets,
		}),
		classifierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logsentry_classifier_duration_seconds",
			Help:    "Duration of a single external classifier call.",
			Buckets: prometheus.DefBuckets,
		}),
		classifierSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsentry_classifier_skipped_total",
			Help: "Total number of records skipped by the classifier (timeout, error, or disabled).",
		}),
		deviceSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_device_sessions_total",
			Help: "Total number of device-authorization sessions by terminal status.",
		}, []string{"status"}),
		deviceSessionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logsentry_device_sessions_pending",
			Help: "Current number of pending (not yet completed, denied, or expired) device sessions.",
		}),
		apiKeyCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsentry_apikey_cache_total",
			Help: "API-key authentication lookups by cache outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.ingestRequestsTotal,
		c.ingestRecordsTotal,
		c.ingestBodyBytes,
		c.ingestDuration,
		c.queueDepth,
		c.processorDegraded,
		c.storeWriteFailures,
		c.storeBatchDuration,
		c.classifierDuration,
		c.classifierSkipped,
		c.deviceSessionsTotal,
		c.deviceSessionsPending,
		c.apiKeyCacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Handler returns an http.Handler serving the collector's registry in
// Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveIngest records the outcome and duration of a single POST /ingest call.
func (c *Collector) ObserveIngest(outcome string, bodyBytes int, d time.Duration) {
	c.ingestRequestsTotal.WithLabelValues(outcome).Inc()
	c.ingestDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if bodyBytes > 0 {
		c.ingestBodyBytes.Observe(float64(bodyBytes))
	}
}

// AddIngestedRecords increments the accepted-record counter for appID.
func (c *Collector) AddIngestedRecords(appID string, n int) {
	c.ingestRecordsTotal.WithLabelValues(appID).Add(float64(n))
}

// SetQueueDepth reports the current inbound channel depth for appID.
func (c *Collector) SetQueueDepth(appID string, depth int) {
	c.queueDepth.WithLabelValues(appID).Set(float64(depth))
}

// SetDegraded reports whether appID's processor is currently spooling.
func (c *Collector) SetDegraded(appID string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	c.processorDegraded.WithLabelValues(appID).Set(v)
}

// AddStoreWriteFailure records a failed batch insert attempt for appID.
func (c *Collector) AddStoreWriteFailure(appID string) {
	c.storeWriteFailures.WithLabelValues(appID).Inc()
}

// ObserveStoreBatchWrite records the duration of a successful batch insert.
func (c *Collector) ObserveStoreBatchWrite(d time.Duration) {
	c.storeBatchDuration.Observe(d.Seconds())
}

// ObserveClassifier records the duration of one classifier call.
func (c *Collector) ObserveClassifier(d time.Duration) {
	c.classifierDuration.Observe(d.Seconds())
}

// AddClassifierSkipped increments the skipped-classification counter.
func (c *Collector) AddClassifierSkipped() {
	c.classifierSkipped.Inc()
}

// AddDeviceSessionTerminal records a device session reaching a terminal
// status (completed, denied, expired).
func (c *Collector) AddDeviceSessionTerminal(status string) {
	c.deviceSessionsTotal.WithLabelValues(status).Inc()
}

// SetDeviceSessionsPending reports the current count of pending sessions.
func (c *Collector) SetDeviceSessionsPending(n int) {
	c.deviceSessionsPending.Set(float64(n))
}

// AddAPIKeyCacheResult records an authentication lookup's cache outcome
// ("hit" or "miss").
func (c *Collector) AddAPIKeyCacheResult(outcome string) {
	c.apiKeyCacheHits.WithLabelValues(outcome).Inc()
}
