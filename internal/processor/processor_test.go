package processor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/aggregate"
	"github.com/logsentry/logsentry/internal/store"
)

func testConfig() Config {
	return Config{
		ChannelCapacity:     16,
		WriteBatchSize:      200,
		WriteBatchInterval:  20 * time.Millisecond,
		MaxStoreFailures:    3,
		StoreRetryBaseDelay: time.Millisecond,
		StoreRetryMaxDelay:  5 * time.Millisecond,
		SpoolMaxBytes:       1 << 20,
		SnapshotInterval:    20 * time.Millisecond,
		Thresholds:          aggregate.Thresholds{UnhealthyAvgErrorsPer10: 5, WarningAvgErrorsPer10: 2, UnhealthyTopFingerprintCount: 20},
	}
}

func newTestProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	p, err := New("app-1", "my-app", st, nil, filepath.Join(t.TempDir(), "spool.jsonl"), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, st
}

func sampleBatch(n int, level string) []*store.PersistedLog {
	now := store.Now().Format(time.RFC3339Nano)
	var out []*store.PersistedLog
	for i := 0; i < n; i++ {
		out = append(out, &store.PersistedLog{
			ID: NewRecordID(), AppID: "app-1", Timestamp: now, Level: level,
			Message: "hello", Service: "", Attributes: "{}", Fingerprint: "fp", IngestedAt: now,
		})
	}
	return out
}

func TestProcessor_RunPersistsBatchesAndUpdatesAggregate(t *testing.T) {
	p, st := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())

	go p.Run(ctx)

	if !p.TryEnqueue(ctx, sampleBatch(5, "ERROR")) {
		t.Fatal("expected enqueue to succeed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := st.CountLogsForApp("app-1")
		if err != nil {
			t.Fatalf("CountLogsForApp: %v", err)
		}
		if n == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, err := st.CountLogsForApp("app-1")
	if err != nil {
		t.Fatalf("CountLogsForApp: %v", err)
	}
	if n != 5 {
		t.Fatalf("CountLogsForApp: got %d, want 5", n)
	}

	deadline = time.Now().Add(2 * time.Second)
	var snap *aggregate.Snapshot
	for time.Now().Before(deadline) {
		snap = p.AggregateSnapshot("my-app")
		if snap != nil && snap.TotalCount == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap == nil || snap.TotalCount != 5 {
		t.Fatalf("expected aggregate snapshot with TotalCount=5, got %+v", snap)
	}

	cancel()
}

func TestProcessor_TryEnqueue_BackpressureWhenFull(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := testConfig()
	cfg.ChannelCapacity = 1
	p, err := New("app-2", "svc", st, nil, filepath.Join(t.TempDir(), "spool.jsonl"), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if !p.TryEnqueue(ctx, sampleBatch(1, "INFO")) {
		t.Fatal("first enqueue should succeed (buffer has capacity 1)")
	}
	start := time.Now()
	if p.TryEnqueue(ctx, sampleBatch(1, "INFO")) {
		t.Fatal("second enqueue should fail: channel full and nothing draining it")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("expected bounded wait of ~250ms before reporting backpressure, took %v", elapsed)
	}
}

func TestProcessor_DefaultsServiceToAppName(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.handleBatch(ctx, sampleBatch(1, "INFO"))
	p.publishAllSnapshots()

	svcs := p.Services()
	if len(svcs) != 1 || svcs[0] != "my-app" {
		t.Errorf("expected service to default to app name, got %v", svcs)
	}
}
