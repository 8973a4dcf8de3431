package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/logsentry/logsentry/internal/aggregate"
	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/keyregistry"
	"github.com/logsentry/logsentry/internal/processor"
	"github.com/logsentry/logsentry/internal/ratelimit"
	"github.com/logsentry/logsentry/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store, *keyregistry.Registry) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher := fingerprint.NewHasher("pepper", 12)
	keys, err := keyregistry.New(st, hasher, 128, time.Minute, 5*time.Second)
	if err != nil {
		t.Fatalf("keyregistry.New: %v", err)
	}

	app := &store.App{ID: "app-1", Name: "my-app", OwnerID: "owner-1", CreatedAt: store.Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}

	cfg := processor.Config{
		ChannelCapacity:     16,
		WriteBatchSize:      200,
		WriteBatchInterval:  10 * time.Millisecond,
		MaxStoreFailures:    3,
		StoreRetryBaseDelay: time.Millisecond,
		StoreRetryMaxDelay:  5 * time.Millisecond,
		SpoolMaxBytes:       1 << 20,
		SnapshotInterval:    10 * time.Millisecond,
		Thresholds:          aggregate.Thresholds{UnhealthyAvgErrorsPer10: 5, WarningAvgErrorsPer10: 2, UnhealthyTopFingerprintCount: 20},
	}
	manager := processor.NewManager(context.Background(), st, nil, t.TempDir(), cfg)

	h := NewHandler(keys, st, manager, 1<<20, 1000)
	return h, st, keys
}

func doIngest(h *Handler, body []byte) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Mount(r)
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_Success(t *testing.T) {
	h, st, keys := newTestHandler(t)
	plaintext, _, err := keys.IssueAndStore("app-1")
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"api_key": plaintext,
		"logs": []map[string]interface{}{
			{"timestamp": "2026-07-30T12:00:00Z", "level": "INFO", "message": "hello"},
			{"timestamp": float64(1700000000), "level": "ERROR", "message": "boom", "service": "api"},
		},
	})

	rec := doIngest(h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accepted"].(float64) != 2 {
		t.Errorf("accepted: got %v, want 2", resp["accepted"])
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _ := st.CountLogsForApp("app-1")
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected 2 logs to be persisted within timeout")
}

func TestHandleIngest_MissingAPIKey(t *testing.T) {
	h, _, _ := newTestHandler(t)
	body, _ := json.Marshal(map[string]interface{}{"logs": []interface{}{}})
	rec := doIngest(h, body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleIngest_BadAPIKey(t *testing.T) {
	h, _, _ := newTestHandler(t)
	body, _ := json.Marshal(map[string]interface{}{
		"api_key": "sk_bogus",
		"logs":    []map[string]interface{}{{"timestamp": "2026-07-30T12:00:00Z", "level": "INFO", "message": "x"}},
	})
	rec := doIngest(h, body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}

func TestHandleIngest_TooManyRecords(t *testing.T) {
	h, _, keys := newTestHandler(t)
	plaintext, _, _ := keys.IssueAndStore("app-1")

	var logs []map[string]interface{}
	for i := 0; i < 1001; i++ {
		logs = append(logs, map[string]interface{}{"timestamp": "2026-07-30T12:00:00Z", "level": "INFO", "message": "x"})
	}
	body, _ := json.Marshal(map[string]interface{}{"api_key": plaintext, "logs": logs})
	rec := doIngest(h, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rec.Code)
	}
}

func TestHandleIngest_InvalidLevel(t *testing.T) {
	h, _, keys := newTestHandler(t)
	plaintext, _, _ := keys.IssueAndStore("app-1")
	body, _ := json.Marshal(map[string]interface{}{
		"api_key": plaintext,
		"logs":    []map[string]interface{}{{"timestamp": "2026-07-30T12:00:00Z", "level": "BOGUS", "message": "x"}},
	})
	rec := doIngest(h, body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleIngest_MalformedJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doIngest(h, []byte(`{not json`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestHandleIngest_BodyTooLarge(t *testing.T) {
	h, _, keys := newTestHandler(t)
	h.maxBodyBytes = 64
	plaintext, _, _ := keys.IssueAndStore("app-1")
	body, _ := json.Marshal(map[string]interface{}{
		"api_key": plaintext,
		"logs": []map[string]interface{}{
			{"timestamp": "2026-07-30T12:00:00Z", "level": "INFO", "message": "this message makes the body bigger than sixty-four bytes for sure"},
		},
	})
	rec := doIngest(h, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rec.Code)
	}
}

func TestHandleIngest_Backpressure(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher := fingerprint.NewHasher("pepper", 12)
	keys, err := keyregistry.New(st, hasher, 128, time.Minute, 5*time.Second)
	if err != nil {
		t.Fatalf("keyregistry.New: %v", err)
	}
	app := &store.App{ID: "app-1", Name: "my-app", OwnerID: "owner-1", CreatedAt: store.Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}

	cfg := processor.Config{
		ChannelCapacity:     4,
		WriteBatchSize:      200,
		WriteBatchInterval:  10 * time.Millisecond,
		MaxStoreFailures:    3,
		StoreRetryBaseDelay: time.Millisecond,
		StoreRetryMaxDelay:  5 * time.Millisecond,
		SpoolMaxBytes:       1 << 20,
		SnapshotInterval:    10 * time.Millisecond,
		Thresholds:          aggregate.Thresholds{UnhealthyAvgErrorsPer10: 5, WarningAvgErrorsPer10: 2, UnhealthyTopFingerprintCount: 20},
	}

	// A pre-cancelled manager context means Run() exits immediately without
	// ever draining the channel, so the inbound buffer stays saturated.
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()
	manager := processor.NewManager(cancelledCtx, st, nil, t.TempDir(), cfg)

	h := NewHandler(keys, st, manager, 1<<20, 1000)
	plaintext, _, _ := keys.IssueAndStore("app-1")

	proc, err := manager.GetOrCreate("app-1", "my-app")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let Run() observe the cancelled ctx and exit
	for i := 0; i < cfg.ChannelCapacity; i++ {
		if !proc.TryEnqueue(context.Background(), sampleRecordBatch()) {
			t.Fatalf("priming enqueue %d unexpectedly failed", i)
		}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"api_key": plaintext,
		"logs":    []map[string]interface{}{{"timestamp": "2026-07-30T12:00:00Z", "level": "INFO", "message": "x"}},
	})
	rec := doIngest(h, body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503 (body=%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on backpressure")
	}
}

func TestHandleIngest_RateLimited(t *testing.T) {
	h, _, keys := newTestHandler(t)
	h.WithRateLimit(ratelimit.New(1, 1, true))
	plaintext, _, err := keys.IssueAndStore("app-1")
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"api_key": plaintext,
		"logs":    []map[string]interface{}{{"timestamp": "2026-07-30T12:00:00Z", "level": "INFO", "message": "x"}},
	})

	first := doIngest(h, body)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200 (body=%s)", first.Code, first.Body.String())
	}

	second := doIngest(h, body)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429 (body=%s)", second.Code, second.Body.String())
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on rate limit")
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	errBody, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in body, got %v", resp)
	}
	if errBody["code"] != "RATE_LIMITED" {
		t.Errorf("error.code: got %v, want RATE_LIMITED", errBody["code"])
	}
}

func sampleRecordBatch() []*store.PersistedLog {
	now := store.Now().Format(time.RFC3339Nano)
	return []*store.PersistedLog{{ID: "x", AppID: "app-1", Timestamp: now, Level: "INFO", Message: "m", Attributes: "{}", Fingerprint: "f", IngestedAt: now}}
}
