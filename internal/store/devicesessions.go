package store

import (
	"database/sql"
	"fmt"
)

// Device session status values (component I / §3 DeviceSession).
const (
	DeviceStatusPending   = "pending"
	DeviceStatusApproved  = "approved"
	DeviceStatusCompleted = "completed"
	DeviceStatusExpired   = "expired"
	DeviceStatusDenied    = "denied"
)

// DeviceSession is the persisted form of a device-authorization handshake.
type DeviceSession struct {
	DeviceCode      string
	UserCode        string
	Status          string
	AppID           string
	APIKeyPlaintext string
	APIKeyHash      string
	CreatedAt       string
	ExpiresAt       string
	LastPollAt      sql.NullString
}

// CreateDeviceSession inserts a new pending device session.
func (s *Store) CreateDeviceSession(ds *DeviceSession) error {
	_, err := s.writer.Exec(
		`INSERT INTO device_sessions
		   (device_code, user_code, status, app_id, api_key_plaintext, api_key_hash, created_at, expires_at, last_poll_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		ds.DeviceCode, ds.UserCode, ds.Status, ds.AppID, ds.APIKeyPlaintext, ds.APIKeyHash, ds.CreatedAt, ds.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: create device session: %w", err)
	}
	return nil
}

// GetDeviceSessionByCode fetches a device session by its device_code.
func (s *Store) GetDeviceSessionByCode(deviceCode string) (*DeviceSession, error) {
	return s.scanDeviceSession(s.reader.QueryRow(
		`SELECT device_code, user_code, status, app_id, api_key_plaintext, api_key_hash, created_at, expires_at, last_poll_at
		   FROM device_sessions WHERE device_code = ?`,
		deviceCode,
	))
}

// GetDeviceSessionByUserCode fetches a device session by its user_code,
// used by the browser-facing /complete step.
func (s *Store) GetDeviceSessionByUserCode(userCode string) (*DeviceSession, error) {
	return s.scanDeviceSession(s.reader.QueryRow(
		`SELECT device_code, user_code, status, app_id, api_key_plaintext, api_key_hash, created_at, expires_at, last_poll_at
		   FROM device_sessions WHERE user_code = ?`,
		userCode,
	))
}

func (s *Store) scanDeviceSession(row *sql.Row) (*DeviceSession, error) {
	ds := &DeviceSession{}
	err := row.Scan(&ds.DeviceCode, &ds.UserCode, &ds.Status, &ds.AppID,
		&ds.APIKeyPlaintext, &ds.APIKeyHash, &ds.CreatedAt, &ds.ExpiresAt, &ds.LastPollAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: device session: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("store: get device session: %w", err)
	}
	return ds, nil
}

// UpdateDeviceSessionStatus performs a monotone status transition. The
// device-auth protocol is the single writer that decides legal transitions;
// this layer just persists whatever it is told.
func (s *Store) UpdateDeviceSessionStatus(deviceCode, status string) error {
	_, err := s.writer.Exec(
		`UPDATE device_sessions SET status = ? WHERE device_code = ?`,
		status, deviceCode,
	)
	if err != nil {
		return fmt.Errorf("store: update device session status: %w", err)
	}
	return nil
}

// CompleteDeviceSession records the minted app and key for an approved
// session and flips it to completed, atomically from the caller's view
// (single writer connection serialises this against concurrent polls).
func (s *Store) CompleteDeviceSession(deviceCode, appID, apiKeyPlaintext, apiKeyHash string) error {
	_, err := s.writer.Exec(
		`UPDATE device_sessions
		    SET status = ?, app_id = ?, api_key_plaintext = ?, api_key_hash = ?
		  WHERE device_code = ?`,
		DeviceStatusCompleted, appID, apiKeyPlaintext, apiKeyHash, deviceCode,
	)
	if err != nil {
		return fmt.Errorf("store: complete device session: %w", err)
	}
	return nil
}

// ConsumeDeviceSessionPlaintext clears api_key_plaintext after a successful
// poll read, enforcing the read-once contract, and records last_poll_at.
func (s *Store) ConsumeDeviceSessionPlaintext(deviceCode, polledAt string) error {
	_, err := s.writer.Exec(
		`UPDATE device_sessions SET api_key_plaintext = '', last_poll_at = ? WHERE device_code = ?`,
		polledAt, deviceCode,
	)
	if err != nil {
		return fmt.Errorf("store: consume device session plaintext: %w", err)
	}
	return nil
}

// TouchDeviceSessionPoll records the poll timestamp without otherwise
// changing the row, used for the pending/denied/expired poll responses
// that don't consume the plaintext.
func (s *Store) TouchDeviceSessionPoll(deviceCode, polledAt string) error {
	_, err := s.writer.Exec(
		`UPDATE device_sessions SET last_poll_at = ? WHERE device_code = ?`,
		polledAt, deviceCode,
	)
	if err != nil {
		return fmt.Errorf("store: touch device session poll: %w", err)
	}
	return nil
}

// ExpirePendingSessions flips every still-pending session whose expires_at
// has passed to expired. It is the store-side half of the component I
// janitor and returns the number of rows updated.
func (s *Store) ExpirePendingSessions(nowRFC3339 string) (int64, error) {
	result, err := s.writer.Exec(
		`UPDATE device_sessions SET status = ? WHERE status = ? AND expires_at < ?`,
		DeviceStatusExpired, DeviceStatusPending, nowRFC3339,
	)
	if err != nil {
		return 0, fmt.Errorf("store: expire pending sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: expire pending sessions rows affected: %w", err)
	}
	return n, nil
}
