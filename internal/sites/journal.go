package sites

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Action names a lifecycle transition recorded in the journal.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

// Event is one journal entry.
type Event struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Action     Action    `json:"action"`
	State      State     `json:"state"`
	File       string    `json:"file"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder receives an event after every successful mutation.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Journal is an append-only SQLite log of lifecycle events.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates a SQLite database at the provided path and
// ensures the schema is available.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// EnsureSchema creates the required tables if they do not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS unit_events (
    id TEXT PRIMARY KEY,
    identifier TEXT NOT NULL,
    action TEXT NOT NULL,
    state TEXT NOT NULL,
    file TEXT NOT NULL,
    recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_unit_events_identifier ON unit_events(identifier, recorded_at);
`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an event, filling in the id and timestamp when unset.
func (j *Journal) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO unit_events (id, identifier, action, state, file, recorded_at)
VALUES (?, ?, ?, ?, ?, ?)
`, event.ID, event.Identifier, string(event.Action), event.State.String(), event.File, event.RecordedAt)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// History returns every event for identifier, oldest first.
func (j *Journal) History(ctx context.Context, identifier string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, identifier, action, state, file, recorded_at
FROM unit_events
WHERE identifier = ?
ORDER BY recorded_at, rowid
`, identifier)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return scanEvents(rows)
}

// Recent returns the latest events across all units, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, identifier, action, state, file, recorded_at
FROM unit_events
ORDER BY recorded_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event  Event
			action string
			state  string
		)
		if err := rows.Scan(&event.ID, &event.Identifier, &action, &state, &event.File, &event.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Action = Action(action)
		if state == Enabled.String() {
			event.State = Enabled
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
