// Package journal persists workflow events to SQLite for timeline queries.
// The journal is an observer on the event bus; a failing journal never blocks
// or fails a workflow.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aiwf/aiwf/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	type          TEXT NOT NULL,
	phase         TEXT,
	iteration     INTEGER,
	artifact_path TEXT,
	data          TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);
`

// timeLayout stores timestamps with nanosecond precision so events emitted in
// quick succession keep their order.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Record is one persisted event row.
type Record struct {
	ID           int64
	SessionID    string
	Type         events.Type
	Phase        string
	Iteration    int
	ArtifactPath string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// QueryOptions filters a journal query. Zero values mean no filter.
type QueryOptions struct {
	SessionID string
	Types     []events.Type
	Since     *time.Time
	Limit     int
	Offset    int
}

// Journal is a SQLite-backed event store.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and migrates) the journal database at path, creating the parent
// directory when needed.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// modernc.org/sqlite serializes access per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// Append persists one event.
func (j *Journal) Append(e events.Event) error {
	var data *string
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		s := string(raw)
		data = &s
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`
		INSERT INTO events (session_id, type, phase, iteration, artifact_path, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, string(e.Type), nullable(e.Phase), e.Iteration,
		nullable(e.ArtifactPath), data, e.Time.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Observer returns a bus observer that appends each event, logging failures
// instead of propagating them.
func (j *Journal) Observer() events.Observer {
	return func(e events.Event) {
		if err := j.Append(e); err != nil {
			j.logger.Error("journal append failed",
				"type", e.Type, "sessionId", e.SessionID, "error", err)
		}
	}
}

// Query returns events matching the filters, oldest first.
func (j *Journal) Query(opts QueryOptions) ([]Record, error) {
	var q strings.Builder
	var args []any

	q.WriteString(`
		SELECT id, session_id, type, phase, iteration, artifact_path, data, created_at
		FROM events
		WHERE 1=1
	`)
	if opts.SessionID != "" {
		q.WriteString(" AND session_id = ?")
		args = append(args, opts.SessionID)
	}
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		q.WriteString(" AND type IN (" + strings.Join(placeholders, ", ") + ")")
	}
	if opts.Since != nil {
		q.WriteString(" AND created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}
	q.WriteString(" ORDER BY created_at ASC, id ASC")
	if opts.Limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var typ string
		var phase, artifactPath, data sql.NullString
		var iteration sql.NullInt64
		var createdAt string

		if err := rows.Scan(&r.ID, &r.SessionID, &typ, &phase, &iteration,
			&artifactPath, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Type = events.Type(typ)
		r.Phase = phase.String
		r.ArtifactPath = artifactPath.String
		r.Iteration = int(iteration.Int64)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			r.CreatedAt = t.UTC()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// CountBySession returns the number of events recorded for a session.
func (j *Journal) CountBySession(sessionID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
