// Package storage persists the pipeline audit trail: agent events and
// snapshots of finished tasks. SQLite is the only backend; the
// pipeline is a single local process and the database lives next to
// the rest of the state directory.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/justmebob123/autonomy-sub000/internal/events"
	"github.com/justmebob123/autonomy-sub000/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	task_id TEXT,
	phase TEXT,
	severity TEXT NOT NULL DEFAULT 'info',
	message TEXT NOT NULL,
	data TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_task ON agent_events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON agent_events(type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON agent_events(timestamp);

CREATE TABLE IF NOT EXISTS task_archive (
	id TEXT PRIMARY KEY,
	issue_type TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	resolution TEXT,
	archived_at DATETIME NOT NULL,
	snapshot TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_type ON task_archive(issue_type);
`

// Store is the sqlite-backed audit store. It implements events.Sink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Pass
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit writes one event. Implements events.Sink.
func (s *Store) Emit(e *events.Event) error {
	var data []byte
	if e.Data != nil {
		var err error
		data, err = json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO agent_events (id, type, timestamp, task_id, phase, severity, message, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Timestamp, e.TaskID, e.Phase, string(e.Severity), e.Message, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// EventFilter narrows ListEvents. Zero values mean no constraint.
type EventFilter struct {
	TaskID string
	Type   events.EventType
	Limit  int
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]*events.Event, error) {
	query := `SELECT id, type, timestamp, task_id, phase, severity, message, data
		FROM agent_events WHERE 1=1`
	var args []interface{}
	if filter.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*events.Event
	for rows.Next() {
		var e events.Event
		var eventType, severity string
		var data sql.NullString
		if err := rows.Scan(&e.ID, &eventType, &e.Timestamp, &e.TaskID, &e.Phase, &severity, &e.Message, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = events.EventType(eventType)
		e.Severity = events.Severity(severity)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				// Corrupt payloads do not hide the event itself.
				e.Data = map[string]interface{}{"unparsed": data.String}
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ArchiveTask stores a terminal snapshot of a task. Re-archiving the
// same ID overwrites, so re-runs after a crash are harmless.
func (s *Store) ArchiveTask(ctx context.Context, task *types.RefactoringTask) error {
	snapshot, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_archive (id, issue_type, status, attempts, resolution, archived_at, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Type), string(task.Status), task.Attempts, task.Resolution,
		time.Now().UTC(), string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("failed to archive task %s: %w", task.ID, err)
	}
	return nil
}

// GetArchivedTask returns a previously archived task, or nil when the
// ID was never archived.
func (s *Store) GetArchivedTask(ctx context.Context, id string) (*types.RefactoringTask, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM task_archive WHERE id = ?`, id).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived task %s: %w", id, err)
	}
	return types.TaskFromJSON([]byte(snapshot))
}

// CountArchivedByStatus summarizes the archive for status reporting.
func (s *Store) CountArchivedByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task_archive GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count archive: %w", err)
	}
	defer rows.Close()

	out := make(map[types.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[types.TaskStatus(status)] = n
	}
	return out, rows.Err()
}
