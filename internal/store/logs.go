package store

import (
	"fmt"
)

// PersistedLog is the durable form of a LogRecord, stamped by the
// ingestion endpoint before it reaches the per-app processor.
type PersistedLog struct {
	ID             string
	AppID          string
	Timestamp      string
	Level          string
	Message        string
	Service        string
	Attributes     string // JSON-encoded map, ≤4KiB per the wire format cap
	Fingerprint    string
	IngestedAt     string
	Classification string
}

// InsertLogsBatch writes a batch of PersistedLog rows in a single
// transaction, the write path component H's processor uses to flush its
// write-batch (≥200 records or ≥2s, whichever comes first).
func (s *Store) InsertLogsBatch(logs []*PersistedLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("store: insert logs batch begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(
		`INSERT INTO logs (id, app_id, timestamp, level, message, service, attributes, fingerprint, ingested_at, classification)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: insert logs batch prepare: %w", err)
	}
	defer stmt.Close()

	for _, l := range logs {
		if _, err := stmt.Exec(l.ID, l.AppID, l.Timestamp, l.Level, l.Message, l.Service, l.Attributes, l.Fingerprint, l.IngestedAt, l.Classification); err != nil {
			return fmt.Errorf("store: insert log %s: %w", l.ID, err)
		}
	}

	return tx.Commit()
}

// RecentErrorsForApp returns up to limit of the most recent ERROR/CRITICAL
// logs for an app, newest first — the backing query for component K's
// summary reader.
func (s *Store) RecentErrorsForApp(appID string, limit int) ([]*PersistedLog, error) {
	rows, err := s.reader.Query(
		`SELECT id, app_id, timestamp, level, message, service, attributes, fingerprint, ingested_at, classification
		   FROM logs
		  WHERE app_id = ? AND level IN ('ERROR', 'CRITICAL')
		  ORDER BY ingested_at DESC
		  LIMIT ?`,
		appID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent errors: %w", err)
	}
	defer rows.Close()

	var out []*PersistedLog
	for rows.Next() {
		l := &PersistedLog{}
		if err := rows.Scan(&l.ID, &l.AppID, &l.Timestamp, &l.Level, &l.Message, &l.Service, &l.Attributes, &l.Fingerprint, &l.IngestedAt, &l.Classification); err != nil {
			return nil, fmt.Errorf("store: scan log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountLogsForApp returns the total number of persisted logs for an app,
// mostly useful for tests and diagnostics.
func (s *Store) CountLogsForApp(appID string) (int64, error) {
	var n int64
	err := s.reader.QueryRow(`SELECT COUNT(*) FROM logs WHERE app_id = ?`, appID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count logs: %w", err)
	}
	return n, nil
}
