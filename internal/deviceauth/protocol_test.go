package deviceauth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/keyregistry"
	"github.com/logsentry/logsentry/internal/store"
)

func newTestProtocol(t *testing.T) (*Protocol, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher := fingerprint.NewHasher("test-pepper", 12)
	keys, err := keyregistry.New(st, hasher, 128, time.Minute, 5*time.Second)
	if err != nil {
		t.Fatalf("keyregistry.New: %v", err)
	}

	proto := New(st, keys, 10*time.Minute, 0)
	return proto, st
}

func TestProtocol_FullHandshake(t *testing.T) {
	proto, _ := newTestProtocol(t)

	start, err := proto.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if start.DeviceCode == "" || start.UserCode == "" {
		t.Fatal("expected non-empty codes")
	}

	poll, err := proto.Poll(start.DeviceCode)
	if err != nil {
		t.Fatalf("Poll (pending): %v", err)
	}
	if poll.Status != store.DeviceStatusPending {
		t.Errorf("status: got %q, want pending", poll.Status)
	}

	if _, err := proto.Complete(start.UserCode, "owner-1", "my-service"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	poll, err = proto.Poll(start.DeviceCode)
	if err != nil {
		t.Fatalf("Poll (completed): %v", err)
	}
	if poll.Status != store.DeviceStatusCompleted {
		t.Errorf("status: got %q, want completed", poll.Status)
	}
	if poll.APIKey == "" {
		t.Error("expected non-empty api key on first completed poll")
	}

	if _, err := proto.Poll(start.DeviceCode); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second poll: expected ErrAlreadyConsumed, got %v", err)
	}
}

func TestProtocol_Complete_ReusesExistingApp(t *testing.T) {
	proto, st := newTestProtocol(t)

	s1, _ := proto.Start()
	if _, err := proto.Complete(s1.UserCode, "owner-2", "shared-app"); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	p1, err := proto.Poll(s1.DeviceCode)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}

	s2, _ := proto.Start()
	if _, err := proto.Complete(s2.UserCode, "owner-2", "shared-app"); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	p2, err := proto.Poll(s2.DeviceCode)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}

	if p1.AppID != p2.AppID {
		t.Errorf("expected same app_id reused, got %q and %q", p1.AppID, p2.AppID)
	}

	apps, err := st.ListAppsByOwner("owner-2")
	if err != nil {
		t.Fatalf("ListAppsByOwner: %v", err)
	}
	if len(apps) != 1 {
		t.Errorf("expected exactly 1 app for owner-2, got %d", len(apps))
	}
}

func TestProtocol_Deny(t *testing.T) {
	proto, _ := newTestProtocol(t)

	start, _ := proto.Start()
	if err := proto.Deny(start.UserCode); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	poll, err := proto.Poll(start.DeviceCode)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if poll.Status != store.DeviceStatusDenied {
		t.Errorf("status: got %q, want denied", poll.Status)
	}
}

func TestProtocol_Poll_UnknownDeviceCode(t *testing.T) {
	proto, _ := newTestProtocol(t)
	if _, err := proto.Poll("nonexistent"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProtocol_SweepExpired(t *testing.T) {
	proto, st := newTestProtocol(t)

	now := store.Now()
	ds := &store.DeviceSession{
		DeviceCode: "dc-old",
		UserCode:   "WWXXYYZZ",
		Status:     store.DeviceStatusPending,
		CreatedAt:  now.Add(-20 * time.Minute).Format(time.RFC3339),
		ExpiresAt:  now.Add(-10 * time.Minute).Format(time.RFC3339),
	}
	if err := st.CreateDeviceSession(ds); err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}

	n, err := proto.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least 1 session expired, got %d", n)
	}
}

func TestPollLimiter_RejectsFastRepeat(t *testing.T) {
	limiter := newPollLimiter(time.Hour)
	if !limiter.allow("dc-1") {
		t.Fatal("first poll should be allowed")
	}
	if limiter.allow("dc-1") {
		t.Fatal("immediate second poll should be rejected")
	}
	if !limiter.allow("dc-2") {
		t.Fatal("a different device_code should have its own bucket")
	}
}
