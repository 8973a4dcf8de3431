package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollector_HandlerServesRegisteredMetrics(t *testing.T) {
	c := New()
	c.ObserveIngest("ok", 128, 10*time.Millisecond)
	c.AddIngestedRecords("app-1", 3)
	c.SetQueueDepth("app-1", 2)
	c.SetDegraded("app-1", true)
	c.AddStoreWriteFailure("app-1")
	c.ObserveStoreBatchWrite(5 * time.Millisecond)
	c.ObserveClassifier(time.Millisecond)
	c.AddClassifierSkipped()
	c.AddDeviceSessionTerminal("completed")
	c.SetDeviceSessionsPending(1)
	c.AddAPIKeyCacheResult("hit")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"logsentry_ingest_requests_total",
		"logsentry_ingest_records_total",
		"logsentry_processor_queue_depth",
		"logsentry_processor_degraded",
		"logsentry_store_write_failures_total",
		"logsentry_device_sessions_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestCollector_DegradedGaugeTogglesBack(t *testing.T) {
	c := New()
	c.SetDegraded("app-1", true)
	c.SetDegraded("app-1", false)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `logsentry_processor_degraded{app_id="app-1"} 0`) {
		t.Errorf("expected degraded gauge to read back to 0, body=%s", rec.Body.String())
	}
}
