// Package eventlog keeps an append-only record of access activity in a
// local SQLite file: codes issued, presentments granted or denied, relocks
// fired or failed. It is an operational audit trail, not a durability
// layer; the in-memory credential state never reads from it.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/metrics"
)

type EventType string

const (
	EventCodeIssued    EventType = "code_issued"
	EventAccessGranted EventType = "access_granted"
	EventAccessDenied  EventType = "access_denied"
	EventRelockFired   EventType = "relock_fired"
	EventRelockFailed  EventType = "relock_failed"
	EventUnlockFailed  EventType = "unlock_failed"
	EventDoorUnsecured EventType = "door_unsecured"
)

// Entry is one event-log row. Codes are stored masked and tokens hashed;
// the log must never leak a live credential.
type Entry struct {
	ID            int64     `json:"id"`
	Type          EventType `json:"type"`
	ReservationID string    `json:"reservationId,omitempty"`
	CodeMasked    string    `json:"codeMasked,omitempty"`
	TokenHash     string    `json:"tokenHash,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}

// Log is a SQLite-backed event log in WAL mode. A nil *Log is a valid
// disabled log: appends and reads become no-ops.
type Log struct {
	db  *sql.DB
	clk clock.Clock
}

// Open opens (or creates) the event log database and runs the schema.
func Open(path string, clk clock.Clock) (*Log, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	l := &Log{db: db, clk: clk}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event log: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		type           TEXT NOT NULL,
		reservation_id TEXT,
		code_masked    TEXT,
		token_hash     TEXT,
		detail         TEXT,
		at             TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	CREATE INDEX IF NOT EXISTS idx_events_reservation ON events(reservation_id, id);
	`
	_, err := l.db.Exec(schema)
	return err
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Append writes one entry. The entry's At is stamped here. Failures bump
// the event-log error metric; callers treat the log as best effort.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if l == nil {
		return nil
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (type, reservation_id, code_masked, token_hash, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Type), e.ReservationID, e.CodeMasked, e.TokenHash, e.Detail,
		l.clk.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		metrics.IncEventLogError()
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, COALESCE(reservation_id,''), COALESCE(code_masked,''),
		        COALESCE(token_hash,''), COALESCE(detail,''), at
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ForReservation returns the reservation's entries, oldest first.
func (l *Log) ForReservation(ctx context.Context, reservationID string) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, type, COALESCE(reservation_id,''), COALESCE(code_masked,''),
		        COALESCE(token_hash,''), COALESCE(detail,''), at
		 FROM events WHERE reservation_id = ? ORDER BY id ASC`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the total number of entries.
func (l *Log) Count(ctx context.Context) int64 {
	if l == nil {
		return 0
	}
	var count int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Prune deletes entries older than the cutoff and returns how many went.
func (l *Log) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if l == nil {
		return 0, nil
	}
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM events WHERE at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var typeStr, atStr string
		if err := rows.Scan(&e.ID, &typeStr, &e.ReservationID, &e.CodeMasked,
			&e.TokenHash, &e.Detail, &atStr); err != nil {
			return nil, err
		}
		e.Type = EventType(typeStr)
		at, parseErr := time.Parse(time.RFC3339Nano, atStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse at time for event %d: %w", e.ID, parseErr)
		}
		e.At = at
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
