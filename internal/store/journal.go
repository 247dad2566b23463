// Package store provides the SQLite-backed event journal.
// Uses WAL mode for crash-safe writes. The journal is append-only
// security and lifecycle telemetry (connects, violations, matches) —
// it never holds peer state, so a restart always begins with an empty
// peer table.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// Event kinds recorded by the signaling layer.
const (
	EventConnect       = "connect"
	EventDisconnect    = "disconnect"
	EventRejected      = "rejected_connection"
	EventViolation     = "violation"
	EventAuthSuccess   = "auth_success"
	EventAuthFailure   = "auth_failure"
	EventHelperChange  = "helper_announce"
	EventMatch         = "match"
	EventMatchFailed   = "match_failed"
)

// Event is one journal row.
type Event struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	PeerID string    `json:"peer_id,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Journal wraps a SQLite connection with WAL mode and migrations.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at dir/journal.db.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "journal.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// Close cleanly shuts down the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks database connectivity.
func (j *Journal) Ping() error {
	return j.db.Ping()
}

// migrate runs idempotent schema migrations.
func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			at      INTEGER NOT NULL,
			kind    TEXT NOT NULL,
			peer_id TEXT NOT NULL DEFAULT '',
			detail  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_at ON events(at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
	}
	for _, m := range migrations {
		if _, err := j.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Append records one event.
func (j *Journal) Append(kind, peerID, detail string) error {
	_, err := j.db.Exec(
		`INSERT INTO events (at, kind, peer_id, detail) VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), kind, peerID, detail,
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}

// Counts returns the number of recorded events per kind.
func (j *Journal) Counts() (map[string]int64, error) {
	rows, err := j.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Recent returns the latest n events, newest first.
func (j *Journal) Recent(n int) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, at, kind, peer_id, detail FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.PeerID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than the retention cutoff. Run
// periodically from the daemon.
func (j *Journal) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := j.db.Exec(`DELETE FROM events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
