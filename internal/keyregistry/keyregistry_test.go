package keyregistry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher := fingerprint.NewHasher("test-pepper", 12)
	reg, err := New(st, hasher, 128, time.Minute, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg, st
}

func TestRegistry_IssueAndAuthenticate(t *testing.T) {
	reg, st := newTestRegistry(t)

	app := &store.App{ID: "app-1", Name: "svc", OwnerID: "owner-1", CreatedAt: store.Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}

	plaintext, _, err := reg.IssueAndStore("app-1")
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}

	appID, err := reg.Authenticate(plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if appID != "app-1" {
		t.Errorf("appID: got %q, want app-1", appID)
	}
}

func TestRegistry_Authenticate_WrongKey(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Authenticate("sk_totallybogus"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRegistry_CachesNegativeResult(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Authenticate("sk_neverissued"); err != ErrUnauthorized {
		t.Fatalf("first call: expected ErrUnauthorized, got %v", err)
	}
	// Second call should hit the negative cache entry, not the store.
	if _, err := reg.Authenticate("sk_neverissued"); err != ErrUnauthorized {
		t.Fatalf("second call: expected ErrUnauthorized, got %v", err)
	}
}

func TestRegistry_Invalidate(t *testing.T) {
	reg, st := newTestRegistry(t)
	app := &store.App{ID: "app-2", Name: "svc2", OwnerID: "owner-2", CreatedAt: store.Now().Format(time.RFC3339)}
	if err := st.CreateApp(app); err != nil {
		t.Fatalf("CreateApp: %v", err)
	}
	plaintext, lookupHash, err := reg.IssueAndStore("app-2")
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}
	if _, err := reg.Authenticate(plaintext); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := st.RevokeAPIKey(lookupHash, store.Now().Format(time.RFC3339)); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	reg.Invalidate(plaintext)

	if _, err := reg.Authenticate(plaintext); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized after revoke+invalidate, got %v", err)
	}
}
