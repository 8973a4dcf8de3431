package store

import (
	"database/sql"
	"fmt"
	"time"
)

// App is a registered application that owns a namespace of logs.
type App struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt string
}

// CreateApp inserts a new App row.
func (s *Store) CreateApp(app *App) error {
	_, err := s.writer.Exec(
		`INSERT INTO apps (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		app.ID, app.Name, app.OwnerID, app.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create app: %w", err)
	}
	return nil
}

// GetApp fetches an App by id.
func (s *Store) GetApp(id string) (*App, error) {
	row := s.reader.QueryRow(`SELECT id, name, owner_id, created_at FROM apps WHERE id = ?`, id)
	app := &App{}
	if err := row.Scan(&app.ID, &app.Name, &app.OwnerID, &app.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: app %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get app: %w", err)
	}
	return app, nil
}

// FindAppByOwnerAndName returns the first app matching owner+name, used by
// the device-auth completion step to decide whether to reuse an existing
// app rather than creating a duplicate.
func (s *Store) FindAppByOwnerAndName(ownerID, name string) (*App, error) {
	row := s.reader.QueryRow(
		`SELECT id, name, owner_id, created_at FROM apps WHERE owner_id = ? AND name = ? LIMIT 1`,
		ownerID, name,
	)
	app := &App{}
	if err := row.Scan(&app.ID, &app.Name, &app.OwnerID, &app.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: app for owner %s name %s: %w", ownerID, name, ErrNotFound)
		}
		return nil, fmt.Errorf("store: find app: %w", err)
	}
	return app, nil
}

// ListAppsByOwner lists every app owned by ownerID.
func (s *Store) ListAppsByOwner(ownerID string) ([]*App, error) {
	rows, err := s.reader.Query(
		`SELECT id, name, owner_id, created_at FROM apps WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list apps: %w", err)
	}
	defer rows.Close()

	var out []*App
	for rows.Next() {
		app := &App{}
		if err := rows.Scan(&app.ID, &app.Name, &app.OwnerID, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan app: %w", err)
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// ListApps lists every known app across all owners, oldest first. Used by
// the operator status surface, which has no single owner to scope to.
func (s *Store) ListApps() ([]*App, error) {
	rows, err := s.reader.Query(
		`SELECT id, name, owner_id, created_at FROM apps ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list apps: %w", err)
	}
	defer rows.Close()

	var out []*App
	for rows.Next() {
		app := &App{}
		if err := rows.Scan(&app.ID, &app.Name, &app.OwnerID, &app.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan app: %w", err)
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// Now is a package-level indirection over time.Now so tests can be
// deterministic about timestamps without a clock-injection ceremony.
var Now = func() time.Time { return time.Now().UTC() }
