// Package store keeps the fall event history in SQLite so the dashboard
// survives restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/fallwatch/pkg/monitor"
)

// SchemaVersion is the latest migration, tracked in PRAGMA user_version.
const SchemaVersion = 3

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store: closed")

// DB is the event history database.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies migrations.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("store: path required")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Version returns the applied schema version.
func (db *DB) Version() (int, error) {
	var v int
	err := db.conn.QueryRow("PRAGMA user_version").Scan(&v)
	return v, err
}

func (db *DB) migrate() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("store: database schema v%d is newer than supported v%d", version, SchemaVersion)
	}

	for version < SchemaVersion {
		version++
		var stmt string
		switch version {
		case 1:
			stmt = schemaV1
		case 2:
			stmt = schemaV2
		case 3:
			stmt = schemaV3
		default:
			return fmt.Errorf("store: unknown schema version %d", version)
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("store: apply schema v%d: %w", version, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	severity    TEXT NOT NULL,
	angle       REAL,
	occurred_at INTEGER NOT NULL,
	sequence    INTEGER NOT NULL,
	confidence  REAL NOT NULL,
	reasons     TEXT NOT NULL DEFAULT '',
	screenshot  TEXT NOT NULL DEFAULT '',
	dispatched  INTEGER NOT NULL DEFAULT 0
);
`

const schemaV2 = `
CREATE INDEX IF NOT EXISTS events_occurred_at ON events(occurred_at DESC);
`

const schemaV3 = `
ALTER TABLE events ADD COLUMN source TEXT NOT NULL DEFAULT '';
`

// SaveEvent inserts rec. Saving the same event ID twice replaces it.
func (db *DB) SaveEvent(ctx context.Context, rec monitor.EventRecord) error {
	if db.conn == nil {
		return ErrClosed
	}

	var angle sql.NullFloat64
	if rec.Angle != nil {
		angle = sql.NullFloat64{Float64: *rec.Angle, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO events
			(id, source, severity, angle, occurred_at, sequence, confidence, reasons, screenshot, dispatched)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Source,
		rec.Severity,
		angle,
		rec.Timestamp.UnixNano(),
		int64(rec.Sequence),
		rec.Confidence,
		strings.Join(rec.Reasons, ","),
		rec.Screenshot,
		rec.Dispatched,
	)
	if err != nil {
		return fmt.Errorf("store: save event %s: %w", rec.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first. limit <= 0
// returns all of them.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]monitor.EventRecord, error) {
	if db.conn == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, severity, angle, occurred_at, sequence, confidence, reasons, screenshot, dispatched
		FROM events
		ORDER BY occurred_at DESC, sequence DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []monitor.EventRecord
	for rows.Next() {
		var (
			rec      monitor.EventRecord
			angle    sql.NullFloat64
			occurred int64
			seq      int64
			reasons  string
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Severity, &angle, &occurred, &seq,
			&rec.Confidence, &reasons, &rec.Screenshot, &rec.Dispatched); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if angle.Valid {
			a := angle.Float64
			rec.Angle = &a
		}
		rec.Timestamp = time.Unix(0, occurred).UTC()
		rec.Sequence = uint64(seq)
		if reasons != "" {
			rec.Reasons = strings.Split(reasons, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored events.
func (db *DB) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	return n, err
}

// Close closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}

var _ monitor.EventStore = (*DB)(nil)
