package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if st.Path() != path {
		t.Errorf("Path: got %q, want %q", st.Path(), path)
	}
	if st.Writer() == nil {
		t.Error("Writer is nil")
	}
	if st.Reader() == nil {
		t.Error("Reader is nil")
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open with nested dir: %v", err)
	}
	st.Close()
}

func TestPing(t *testing.T) {
	st := openTestStore(t)
	if err := st.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestWALMode(t *testing.T) {
	st := openTestStore(t)

	var mode string
	err := st.Writer().QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want %q", mode, "wal")
	}
}

func TestMigrations(t *testing.T) {
	st := openTestStore(t)

	var version int
	if err := st.Writer().QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatalf("query migration version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("migration version: got %d, want %d", version, len(migrations))
	}
}

func TestCreateApp_GetApp(t *testing.T) {
	st := openTestStore(t)

	app := &App{ID: "app-1", Name: "billing", OwnerID: "owner-1", CreatedAt: Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}

	got, err := st.GetApp("app-1")
	if err != nil {
		t.Fatalf("GetApp: %v", err)
	}
	if got.Name != "billing" {
		t.Errorf("Name: got %q, want billing", got.Name)
	}
}

func TestGetApp_NotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetApp("nope"); err == nil {
		t.Fatal("expected error for nonexistent app")
	}
}

func TestFindAppByOwnerAndName(t *testing.T) {
	st := openTestStore(t)
	app := &App{ID: "app-2", Name: "checkout", OwnerID: "owner-2", CreatedAt: Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}

	got, err := st.FindAppByOwnerAndName("owner-2", "checkout")
	if err != nil {
		t.Fatalf("FindAppByOwnerAndName: %v", err)
	}
	if got.ID != "app-2" {
		t.Errorf("ID: got %q, want app-2", got.ID)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	st := openTestStore(t)
	app := &App{ID: "app-3", Name: "svc", OwnerID: "owner-3", CreatedAt: Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}

	rec := &APIKeyRecord{LookupHash: "lookup-abc", VerifyHash: "verify-abc", AppID: "app-3", CreatedAt: Now().Format(time.RFC3339)}
	if err := st.CreateAPIKey(rec); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := st.FindAPIKeyByLookupHash("lookup-abc")
	if err != nil {
		t.Fatalf("FindAPIKeyByLookupHash: %v", err)
	}
	if got.AppID != "app-3" {
		t.Errorf("appID: got %q, want app-3", got.AppID)
	}

	if err := st.RevokeAPIKey("lookup-abc", Now().Format(time.RFC3339)); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	if _, err := st.FindAPIKeyByLookupHash("lookup-abc"); err == nil {
		t.Fatal("expected revoked key to no longer resolve")
	}
}

func TestDeviceSessionLifecycle(t *testing.T) {
	st := openTestStore(t)
	now := Now()

	ds := &DeviceSession{
		DeviceCode: "dc-1",
		UserCode:   "BCDFGHJK",
		Status:     DeviceStatusPending,
		CreatedAt:  now.Format(time.RFC3339),
		ExpiresAt:  now.Add(10 * time.Minute).Format(time.RFC3339),
	}
	if err := st.CreateDeviceSession(ds); err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}

	got, err := st.GetDeviceSessionByCode("dc-1")
	if err != nil {
		t.Fatalf("GetDeviceSessionByCode: %v", err)
	}
	if got.Status != DeviceStatusPending {
		t.Errorf("Status: got %q, want pending", got.Status)
	}

	if err := st.CompleteDeviceSession("dc-1", "app-9", "sk_plain", "hash-9"); err != nil {
		t.Fatalf("CompleteDeviceSession: %v", err)
	}

	got, err = st.GetDeviceSessionByCode("dc-1")
	if err != nil {
		t.Fatalf("GetDeviceSessionByCode after complete: %v", err)
	}
	if got.Status != DeviceStatusCompleted {
		t.Errorf("Status: got %q, want completed", got.Status)
	}
	if got.APIKeyPlaintext != "sk_plain" {
		t.Errorf("APIKeyPlaintext: got %q, want sk_plain", got.APIKeyPlaintext)
	}

	if err := st.ConsumeDeviceSessionPlaintext("dc-1", Now().Format(time.RFC3339)); err != nil {
		t.Fatalf("ConsumeDeviceSessionPlaintext: %v", err)
	}

	got, err = st.GetDeviceSessionByCode("dc-1")
	if err != nil {
		t.Fatalf("GetDeviceSessionByCode after consume: %v", err)
	}
	if got.APIKeyPlaintext != "" {
		t.Error("expected plaintext to be cleared after consumption")
	}
}

func TestExpirePendingSessions(t *testing.T) {
	st := openTestStore(t)
	now := Now()

	expired := &DeviceSession{
		DeviceCode: "dc-expired",
		UserCode:   "ZZYYXXWW",
		Status:     DeviceStatusPending,
		CreatedAt:  now.Add(-20 * time.Minute).Format(time.RFC3339),
		ExpiresAt:  now.Add(-10 * time.Minute).Format(time.RFC3339),
	}
	if err := st.CreateDeviceSession(expired); err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}
	pending := &DeviceSession{
		DeviceCode: "dc-pending",
		UserCode:   "AABBCCDD",
		Status:     DeviceStatusPending,
		CreatedAt:  now.Format(time.RFC3339),
		ExpiresAt:  now.Add(10 * time.Minute).Format(time.RFC3339),
	}
	if err := st.CreateDeviceSession(pending); err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}

	n, err := st.ExpirePendingSessions(now.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("ExpirePendingSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expired count: got %d, want 1", n)
	}

	got, _ := st.GetDeviceSessionByCode("dc-expired")
	if got.Status != DeviceStatusExpired {
		t.Errorf("Status: got %q, want expired", got.Status)
	}
	got2, _ := st.GetDeviceSessionByCode("dc-pending")
	if got2.Status != DeviceStatusPending {
		t.Errorf("Status: got %q, want pending still", got2.Status)
	}
}

func TestInsertLogsBatch_RecentErrorsForApp(t *testing.T) {
	st := openTestStore(t)
	now := Now()

	logs := []*PersistedLog{
		{ID: "l1", AppID: "app-x", Timestamp: now.Format(time.RFC3339Nano), Level: "ERROR", Message: "boom", Service: "api", Attributes: "{}", Fingerprint: "fp1", IngestedAt: now.Format(time.RFC3339Nano)},
		{ID: "l2", AppID: "app-x", Timestamp: now.Format(time.RFC3339Nano), Level: "INFO", Message: "ok", Service: "api", Attributes: "{}", Fingerprint: "fp2", IngestedAt: now.Format(time.RFC3339Nano)},
	}
	if err := st.InsertLogsBatch(logs); err != nil {
		t.Fatalf("InsertLogsBatch: %v", err)
	}

	n, err := st.CountLogsForApp("app-x")
	if err != nil {
		t.Fatalf("CountLogsForApp: %v", err)
	}
	if n != 2 {
		t.Errorf("count: got %d, want 2", n)
	}

	errs, err := st.RecentErrorsForApp("app-x", 50)
	if err != nil {
		t.Fatalf("RecentErrorsForApp: %v", err)
	}
	if len(errs) != 1 || errs[0].Level != "ERROR" {
		t.Errorf("expected exactly 1 ERROR row, got %+v", errs)
	}
}

func TestPrune(t *testing.T) {
	st := openTestStore(t)

	oldTime := Now().AddDate(0, 0, -60).Format(time.RFC3339Nano)
	newTime := Now().Format(time.RFC3339Nano)

	logs := []*PersistedLog{
		{ID: "old1", AppID: "app-p", Timestamp: oldTime, Level: "INFO", Message: "m", Service: "s", Attributes: "{}", Fingerprint: "f1", IngestedAt: oldTime},
		{ID: "new1", AppID: "app-p", Timestamp: newTime, Level: "INFO", Message: "m", Service: "s", Attributes: "{}", Fingerprint: "f2", IngestedAt: newTime},
	}
	if err := st.InsertLogsBatch(logs); err != nil {
		t.Fatalf("InsertLogsBatch: %v", err)
	}

	pruned, err := st.Prune(30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned < 1 {
		t.Errorf("Prune: got %d rows deleted, want at least 1", pruned)
	}

	n, err := st.CountLogsForApp("app-p")
	if err != nil {
		t.Fatalf("CountLogsForApp: %v", err)
	}
	if n != 1 {
		t.Errorf("after prune: got %d logs, want 1", n)
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	st := openTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ts := Now().Format(time.RFC3339Nano)
			log := &PersistedLog{
				ID: "conc-" + string(rune('a'+n)), AppID: "app-c", Timestamp: ts,
				Level: "INFO", Message: "m", Service: "s", Attributes: "{}", Fingerprint: "f", IngestedAt: ts,
			}
			if err := st.InsertLogsBatch([]*PersistedLog{log}); err != nil {
				t.Errorf("concurrent InsertLogsBatch %d: %v", n, err)
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.RecentErrorsForApp("app-c", 10)
		}()
	}
	wg.Wait()
}
