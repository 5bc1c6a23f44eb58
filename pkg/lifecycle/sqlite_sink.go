package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists lifecycle events in SQLite for audit.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a SQLite-backed sink and ensures the schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureEventSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

// OpenSQLiteSink opens (or creates) the database at path and returns a
// sink over it. The caller owns closing the returned DB.
func OpenSQLiteSink(path string) (*SQLiteSink, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, err
	}
	sink, err := NewSQLiteSink(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return sink, db, nil
}

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocation_events (
			invocation_id, skill_id, operation, phase, detail, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.InvocationID,
		event.SkillID,
		event.Operation,
		string(event.Phase),
		event.Detail,
		event.Attempts,
		normalizeEventTime(event.Timestamp),
	)
	return err
}

// EventFilter narrows List results.
type EventFilter struct {
	InvocationID string
	SkillID      string
	Phase        Phase
	Limit        int
}

// List returns recorded events matching the filter, oldest first.
func (s *SQLiteSink) List(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := `
		SELECT invocation_id, skill_id, operation, phase, detail, attempts, created_at
		FROM invocation_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.InvocationID != "" {
		addFilter("invocation_id = ?", filter.InvocationID)
	}
	if filter.SkillID != "" {
		addFilter("skill_id = ?", filter.SkillID)
	}
	if filter.Phase != "" {
		addFilter("phase = ?", string(filter.Phase))
	}
	query += where + " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			phase   string
			created sql.NullTime
		)
		if err := rows.Scan(
			&event.InvocationID,
			&event.SkillID,
			&event.Operation,
			&phase,
			&event.Detail,
			&event.Attempts,
			&created,
		); err != nil {
			return nil, err
		}
		event.Phase = Phase(phase)
		if created.Valid {
			event.Timestamp = created.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureEventSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invocation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invocation_id TEXT NOT NULL,
			skill_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			phase TEXT NOT NULL,
			detail TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_invocation_events_invocation ON invocation_events(invocation_id);
		CREATE INDEX IF NOT EXISTS idx_invocation_events_skill ON invocation_events(skill_id);
		CREATE INDEX IF NOT EXISTS idx_invocation_events_phase ON invocation_events(phase);
	`)
	return err
}

func normalizeEventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
