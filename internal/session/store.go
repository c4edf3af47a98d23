// Package session provides durable session routing metadata.
//
// A SessionRoute maps a session key (e.g. "main") to the last surface and
// target used by an inbound direct-message turn. Proactive sends (heartbeat,
// CLI-injected messages) deliver through the stored route so they go back to
// the most recent 1:1 channel.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// DefaultKey is the session key used when a surface has no per-user keying.
const DefaultKey = "main"

// Route is the stored delivery target for a session key.
type Route struct {
	SessionKey string
	Surface    types.Surface
	To         string
	UpdatedAt  time.Time
}

// Store persists routes in SQLite.
type Store struct {
	db *sql.DB
}

const currentSchemaVersion = 1

// Open opens (and migrates) the route database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("session: route store opened", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, start from scratch
		version = 0
	}
	if version >= currentSchemaVersion {
		L_debug("session: schema up to date", "version", version)
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_routes (
		session_key TEXT PRIMARY KEY,
		surface TEXT NOT NULL,
		target TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		currentSchemaVersion, time.Now().Unix())
	return err
}

// UpdateRoute upserts the route for a session key.
//
// Callers must invoke this only on inbound direct-message turns; group turns
// never move the proactive-delivery target.
func (s *Store) UpdateRoute(ctx context.Context, key string, surface types.Surface, to string) error {
	if key == "" {
		key = DefaultKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_routes (session_key, surface, target, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			surface = excluded.surface,
			target = excluded.target,
			updated_at = excluded.updated_at`,
		key, string(surface), to, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to update route %s: %w", key, err)
	}
	L_debug("session: route updated", "key", key, "surface", surface, "to", to)
	return nil
}

// GetRoute returns the route for a key, or nil when none is stored.
func (s *Store) GetRoute(ctx context.Context, key string) (*Route, error) {
	if key == "" {
		key = DefaultKey
	}
	var r Route
	var surface string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT session_key, surface, target, updated_at FROM session_routes WHERE session_key = ?",
		key).Scan(&r.SessionKey, &surface, &r.To, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route %s: %w", key, err)
	}
	r.Surface = types.Surface(surface)
	r.UpdatedAt = time.UnixMilli(updated)
	return &r, nil
}

// ListRoutes returns all stored routes, most recently updated first.
func (s *Store) ListRoutes(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_key, surface, target, updated_at FROM session_routes ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var r Route
		var surface string
		var updated int64
		if err := rows.Scan(&r.SessionKey, &surface, &r.To, &updated); err != nil {
			return nil, err
		}
		r.Surface = types.Surface(surface)
		r.UpdatedAt = time.UnixMilli(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// KeyFor derives the session key for an inbound context. Direct messages key
// per-user so concurrent 1:1 conversations stay distinct; group turns share
// a per-room key.
func KeyFor(m *types.MessageContext) string {
	if m.SessionKey != "" {
		return m.SessionKey
	}
	if m.IsDirect() {
		return "user:" + m.From
	}
	return "group:" + m.To
}
