// Package aggregate implements component J: per-(app_id, service) rolling
// aggregates, updated only by their owning processor task and published as
// immutable snapshots for concurrent readers.
package aggregate

import (
	"sync/atomic"
	"time"
)

// Levels in fixed per_level_count / severity_distribution order.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
	levelCount
)

var levelNames = [levelCount]string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// LevelIndex maps a wire-format level string to its per_level_count slot.
// Unknown levels map to LevelInfo, matching the teacher's permissive
// default-to-informational behavior for unrecognized enum values.
func LevelIndex(level string) int {
	for i, n := range levelNames {
		if n == level {
			return i
		}
	}
	return LevelInfo
}

// errorWindowSize is the FIFO upper bound on the errors_per_10_logs series
// (§4.J: "the exposed series must be length ≤ 360 and FIFO-aged").
const errorWindowSize = 360

// windowRecords is how many of the most-recent records form one
// errors_per_10_logs sliding window.
const windowRecords = 10

// Snapshot is an immutable point-in-time view of one service's aggregate,
// safe to read concurrently without locking.
type Snapshot struct {
	Service                   string
	TotalCount                int64
	PerLevelCount             [levelCount]int64
	ErrorsPer10Logs           []int
	AvgErrorsPer10Logs        float64
	FirstErrorTS              time.Time
	LatestErrorTS             time.Time
	MostCommonErrorFingerprint string
	MostCommonErrorCount      int64
	SeverityDistribution      map[string]int64
	Health                    string
}

// Thresholds parameterizes health classification (§4.J), sourced from
// config so operators can tune sensitivity without a rebuild.
type Thresholds struct {
	UnhealthyAvgErrorsPer10      float64
	WarningAvgErrorsPer10        float64
	UnhealthyTopFingerprintCount int64
}

func classify(avg float64, topFingerprintCount int64, t Thresholds) string {
	if avg >= t.UnhealthyAvgErrorsPer10 || topFingerprintCount >= t.UnhealthyTopFingerprintCount {
		return "unhealthy"
	}
	if avg >= t.WarningAvgErrorsPer10 {
		return "warning"
	}
	return "healthy"
}

// Aggregate is the mutable, single-writer state for one (app_id, service)
// pair. Only the owning processor goroutine calls the update methods;
// readers go through Snapshot() / the published atomic.Pointer.
type Aggregate struct {
	service string

	totalCount    int64
	perLevelCount [levelCount]int64

	errorWindow     []int // FIFO, oldest first, len <= errorWindowSize
	windowErrCount  int
	windowRecCount  int

	firstErrorTS  time.Time
	latestErrorTS time.Time

	// fingerprintCounts is the rolling total across every bucket currently
	// in errorWindow, kept in sync with it: fingerprintBuckets holds the
	// per-bucket breakdown FIFO-aligned with errorWindow so an evicted
	// bucket's contribution can be subtracted back out. windowFingerprints
	// is the in-progress bucket being built by the current windowRecords
	// worth of records. Without this bucketing, MostCommonErrorFingerprint
	// would reflect an all-time count instead of the trailing window.
	fingerprintCounts  map[string]int64
	fingerprintBuckets []map[string]int64
	windowFingerprints map[string]int64

	published atomic.Pointer[Snapshot]
	thresholds Thresholds
}

// New creates an Aggregate for a service with the given health thresholds.
func New(service string, t Thresholds) *Aggregate {
	a := &Aggregate{
		service:            service,
		fingerprintCounts:  make(map[string]int64),
		windowFingerprints: make(map[string]int64),
		thresholds:         t,
	}
	a.published.Store(&Snapshot{Service: service, SeverityDistribution: map[string]int64{}})
	return a
}

// Record is the minimal shape the aggregate needs from a persisted log
// record; it intentionally avoids importing the store package so this
// stays a leaf dependency.
type Record struct {
	Level       string
	Fingerprint string
	Timestamp   time.Time
}

// Update folds one batch of records into the aggregate state. It must only
// be called from the owning processor goroutine.
func (a *Aggregate) Update(records []Record) {
	for _, r := range records {
		idx := LevelIndex(r.Level)
		a.totalCount++
		a.perLevelCount[idx]++

		isError := idx == LevelError || idx == LevelCritical
		a.windowRecCount++
		if isError {
			a.windowErrCount++
			a.windowFingerprints[r.Fingerprint]++
			if a.firstErrorTS.IsZero() || r.Timestamp.Before(a.firstErrorTS) {
				a.firstErrorTS = r.Timestamp
			}
			if r.Timestamp.After(a.latestErrorTS) {
				a.latestErrorTS = r.Timestamp
			}
		}

		if a.windowRecCount >= windowRecords {
			a.pushWindow()
			a.windowRecCount = 0
			a.windowErrCount = 0
		}
	}
}

// pushWindow closes out the in-progress bucket: it enters errorWindow/
// fingerprintBuckets and, once the window is full, the oldest bucket's
// fingerprint contribution is subtracted back out of fingerprintCounts so
// MostCommonErrorFingerprint only ever reflects the trailing window.
func (a *Aggregate) pushWindow() {
	a.errorWindow = append(a.errorWindow, a.windowErrCount)
	a.fingerprintBuckets = append(a.fingerprintBuckets, a.windowFingerprints)
	for fp, c := range a.windowFingerprints {
		a.fingerprintCounts[fp] += c
	}
	a.windowFingerprints = make(map[string]int64)

	if len(a.errorWindow) > errorWindowSize {
		evicted := a.fingerprintBuckets[0]
		for fp, c := range evicted {
			a.fingerprintCounts[fp] -= c
			if a.fingerprintCounts[fp] <= 0 {
				delete(a.fingerprintCounts, fp)
			}
		}
		a.errorWindow = a.errorWindow[1:]
		a.fingerprintBuckets = a.fingerprintBuckets[1:]
	}
}

// Publish computes and stores a new immutable Snapshot, to be called by the
// owner on its snapshot_interval ticker or on demand.
func (a *Aggregate) Publish() {
	var sum int
	for _, v := range a.errorWindow {
		sum += v
	}
	avg := 0.0
	if len(a.errorWindow) > 0 {
		avg = float64(sum) / float64(len(a.errorWindow))
	}

	// Merge in the in-progress bucket so a fingerprint doesn't go invisible
	// until its windowRecords-sized bucket closes out via pushWindow.
	var topFP string
	var topCount int64
	merged := make(map[string]int64, len(a.fingerprintCounts))
	for fp, c := range a.fingerprintCounts {
		merged[fp] = c
	}
	for fp, c := range a.windowFingerprints {
		merged[fp] += c
	}
	for fp, c := range merged {
		if c > topCount {
			topFP, topCount = fp, c
		}
	}

	severity := make(map[string]int64, levelCount)
	for i, n := range levelNames {
		severity[n] = a.perLevelCount[i]
	}

	window := make([]int, len(a.errorWindow))
	copy(window, a.errorWindow)

	snap := &Snapshot{
		Service:                    a.service,
		TotalCount:                 a.totalCount,
		PerLevelCount:              a.perLevelCount,
		ErrorsPer10Logs:            window,
		AvgErrorsPer10Logs:         avg,
		FirstErrorTS:               a.firstErrorTS,
		LatestErrorTS:              a.latestErrorTS,
		MostCommonErrorFingerprint: topFP,
		MostCommonErrorCount:       topCount,
		SeverityDistribution:       severity,
		Health:                     classify(avg, topCount, a.thresholds),
	}
	a.published.Store(snap)
}

// Snapshot returns the most recently published immutable snapshot. Safe to
// call from any goroutine.
func (a *Aggregate) Snapshot() *Snapshot {
	return a.published.Load()
}
