package store

import (
	"database/sql"
	"fmt"
)

// APIKeyRecord is the persisted form of an ApiKey: a deterministic lookup
// hash for O(1) row retrieval and a bcrypt verify hash for confirmation.
// The plaintext key itself is never passed to this layer.
type APIKeyRecord struct {
	LookupHash string
	VerifyHash string
	AppID      string
	CreatedAt  string
	RevokedAt  sql.NullString
}

// CreateAPIKey persists a new api key record for an app.
func (s *Store) CreateAPIKey(rec *APIKeyRecord) error {
	_, err := s.writer.Exec(
		`INSERT INTO app_api_keys (lookup_hash, verify_hash, app_id, created_at, revoked_at) VALUES (?, ?, ?, ?, NULL)`,
		rec.LookupHash, rec.VerifyHash, rec.AppID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create api key: %w", err)
	}
	return nil
}

// FindAPIKeyByLookupHash returns the non-revoked key record for a
// deterministic lookup hash, or ErrNotFound.
func (s *Store) FindAPIKeyByLookupHash(lookupHash string) (*APIKeyRecord, error) {
	row := s.reader.QueryRow(
		`SELECT lookup_hash, verify_hash, app_id, created_at, revoked_at
		   FROM app_api_keys WHERE lookup_hash = ? AND revoked_at IS NULL`,
		lookupHash,
	)
	rec := &APIKeyRecord{}
	if err := row.Scan(&rec.LookupHash, &rec.VerifyHash, &rec.AppID, &rec.CreatedAt, &rec.RevokedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: api key lookup hash: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("store: find api key: %w", err)
	}
	return rec, nil
}

// RevokeAPIKey marks a key record as revoked as of revokedAt.
func (s *Store) RevokeAPIKey(lookupHash, revokedAt string) error {
	result, err := s.writer.Exec(
		`UPDATE app_api_keys SET revoked_at = ? WHERE lookup_hash = ? AND revoked_at IS NULL`,
		revokedAt, lookupHash,
	)
	if err != nil {
		return fmt.Errorf("store: revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: revoke api key %s: %w", lookupHash, ErrNotFound)
	}
	return nil
}
