// Package keyregistry implements component C: authenticating an incoming
// API key against the store, with an in-memory read-through cache so a
// sustained stream of ingest requests doesn't pay a bcrypt comparison on
// every call.
package keyregistry

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/store"
)

// ErrUnauthorized is returned when a key does not resolve to any app, has
// been revoked, or fails bcrypt verification.
var ErrUnauthorized = errors.New("keyregistry: unauthorized")

type entry struct {
	appID    string
	negative bool
	cachedAt time.Time
}

// Registry authenticates API keys against the store.
type Registry struct {
	store  *store.Store
	hasher *fingerprint.Hasher
	cache  *lru.Cache[string, entry]
	ttl    time.Duration
	negTTL time.Duration
}

// New builds a Registry with an in-memory cache capped at capacity entries.
// A positive verdict holds for ttl before re-checking the store; a negative
// verdict (unknown key, revoked key, bad signature) holds for the much
// shorter negTTL so a key that's just been issued or rotated isn't locked
// out of the cache for as long as a confirmed-valid one is cached.
func New(st *store.Store, hasher *fingerprint.Hasher, capacity int, ttl, negTTL time.Duration) (*Registry, error) {
	c, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("keyregistry: creating lru cache: %w", err)
	}
	return &Registry{store: st, hasher: hasher, cache: c, ttl: ttl, negTTL: negTTL}, nil
}

// Authenticate resolves a plaintext API key to its owning app_id.
func (r *Registry) Authenticate(plaintextKey string) (string, error) {
	lookup := r.hasher.LookupHash(plaintextKey)

	if e, ok := r.cache.Get(lookup); ok {
		if e.negative {
			if time.Since(e.cachedAt) < r.negTTL {
				return "", ErrUnauthorized
			}
		} else if time.Since(e.cachedAt) < r.ttl {
			return e.appID, nil
		}
	}

	rec, err := r.store.FindAPIKeyByLookupHash(lookup)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.cache.Add(lookup, entry{negative: true, cachedAt: time.Now()})
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("keyregistry: lookup: %w", err)
	}

	if !r.hasher.Verify(plaintextKey, rec.VerifyHash) {
		r.cache.Add(lookup, entry{negative: true, cachedAt: time.Now()})
		return "", ErrUnauthorized
	}

	r.cache.Add(lookup, entry{appID: rec.AppID, cachedAt: time.Now()})
	return rec.AppID, nil
}

// Invalidate removes any cached verdict for a plaintext key, used right
// after a revocation so a cached positive result can't outlive the row.
func (r *Registry) Invalidate(plaintextKey string) {
	r.cache.Remove(r.hasher.LookupHash(plaintextKey))
}

// IssueAndStore generates a fresh API key, persists its hashes for appID,
// and returns the plaintext — the only moment the plaintext exists outside
// a device session's read-once slot.
func (r *Registry) IssueAndStore(appID string) (plaintext string, lookupHash string, err error) {
	plaintext, err = fingerprint.GenerateAPIKey()
	if err != nil {
		return "", "", fmt.Errorf("keyregistry: generating key: %w", err)
	}
	verifyHash, err := r.hasher.VerifyHash(plaintext)
	if err != nil {
		return "", "", fmt.Errorf("keyregistry: hashing key: %w", err)
	}
	lookupHash = r.hasher.LookupHash(plaintext)
	rec := &store.APIKeyRecord{
		LookupHash: lookupHash,
		VerifyHash: verifyHash,
		AppID:      appID,
		CreatedAt:  store.Now().Format(time.RFC3339),
	}
	if err := r.store.CreateAPIKey(rec); err != nil {
		return "", "", err
	}
	return plaintext, lookupHash, nil
}
