// Package state persists per-clone sync bookkeeping in an embedded
// SQLite database (.skein/state.db).
//
// The store holds three things: the dirty set (internal ids touched
// since the last successful sync, fed by the mutation notification hook
// and the watch daemon), the last-synced base snapshot (version and
// content hash per record, which the diff step classifies against), and
// the sync point (ref pointers of the last successful cycle).
//
// The database runs in embedded mode with WAL so the daemon and a sync
// cycle can read concurrently.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Base is the last-synced version and content hash of one record.
type Base struct {
	Version int
	Hash    string
}

// Store wraps the state database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the state database at the given path.
// The caller must Close() when done.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	return nil
}

// initSchema creates tables if absent. Idempotent.
func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS dirty (
	id        TEXT PRIMARY KEY,
	marked_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS synced (
	id      TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	hash    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS syncpoint (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	local_ref  TEXT NOT NULL,
	remote_ref TEXT NOT NULL,
	synced_at  TIMESTAMP NOT NULL
);
`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return nil
}

// MarkDirty records that a record was mutated locally since the last
// sync point. This is the notification hook invoked by the record CRUD
// layer and the watch daemon.
func (s *Store) MarkDirty(id string) error {
	_, err := s.conn.Exec(
		`INSERT INTO dirty (id, marked_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET marked_at = excluded.marked_at`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark %s dirty: %w", id, err)
	}
	return nil
}

// DirtySet returns the ids touched since the last successful sync.
func (s *Store) DirtySet() (map[string]bool, error) {
	rows, err := s.conn.Query(`SELECT id FROM dirty`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty set: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dirty id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// DirtyCount returns the size of the dirty set.
func (s *Store) DirtyCount() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM dirty`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dirty set: %w", err)
	}
	return n, nil
}

// BaseSnapshot returns the last-synced version and hash per record id.
func (s *Store) BaseSnapshot() (map[string]Base, error) {
	rows, err := s.conn.Query(`SELECT id, version, hash FROM synced`)
	if err != nil {
		return nil, fmt.Errorf("failed to query base snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Base)
	for rows.Next() {
		var id string
		var base Base
		if err := rows.Scan(&id, &base.Version, &base.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan base row: %w", err)
		}
		out[id] = base
	}
	return out, rows.Err()
}

// SyncPoint returns the ref pointers of the last successful cycle.
// Empty refs mean no cycle has completed yet.
func (s *Store) SyncPoint() (localRef, remoteRef string, syncedAt time.Time, err error) {
	row := s.conn.QueryRow(`SELECT local_ref, remote_ref, synced_at FROM syncpoint WHERE id = 1`)
	if scanErr := row.Scan(&localRef, &remoteRef, &syncedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", "", time.Time{}, nil
		}
		return "", "", time.Time{}, fmt.Errorf("failed to read sync point: %w", scanErr)
	}
	return localRef, remoteRef, syncedAt, nil
}

// Advance records a successful sync cycle in one transaction: the base
// snapshot is replaced with the merged state, the dirty set is cleared,
// and the sync point moves to the new refs.
func (s *Store) Advance(merged map[string]Base, localRef, remoteRef string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin advance transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM synced`); err != nil {
		return fmt.Errorf("failed to clear base snapshot: %w", err)
	}
	for id, base := range merged {
		if _, err := tx.Exec(
			`INSERT INTO synced (id, version, hash) VALUES (?, ?, ?)`,
			id, base.Version, base.Hash); err != nil {
			return fmt.Errorf("failed to record base for %s: %w", id, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM dirty`); err != nil {
		return fmt.Errorf("failed to clear dirty set: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO syncpoint (id, local_ref, remote_ref, synced_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   local_ref = excluded.local_ref,
		   remote_ref = excluded.remote_ref,
		   synced_at = excluded.synced_at`,
		localRef, remoteRef, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to advance sync point: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit advance transaction: %w", err)
	}
	return nil
}
