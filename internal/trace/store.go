// Package trace records per-session pipeline runs and stage spans to
// PostgreSQL for offline inspection. Tracing is optional; every entry point
// is nil-safe so the pipeline carries no trace conditionals.
package trace

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// maxCalls bounds retained history; older calls are pruned on insert.
const maxCalls = 200

// Store persists trace data to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the trace database at connStr and applies migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCall inserts a new call and prunes old ones.
func (s *Store) CreateCall(id, userID string) error {
	_, err := s.db.Exec(
		`INSERT INTO calls (id, user_id, started_at) VALUES ($1, $2, $3)`,
		id, userID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM calls WHERE id NOT IN (SELECT id FROM calls ORDER BY started_at DESC LIMIT $1)`,
		maxCalls,
	)
	return err
}

// EndCall sets the ended_at timestamp.
func (s *Store) EndCall(id string) error {
	_, err := s.db.Exec(
		`UPDATE calls SET ended_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return err
}

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(id, callID string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, call_id, started_at, status) VALUES ($1, $2, $3, 'running')`,
		id, callID, time.Now().UTC(),
	)
	return err
}

// FinishRun sets the run's final fields.
func (s *Store) FinishRun(id string, durationMs float64, transcript, reply string, interrupted bool, status string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET duration_ms = $1, transcript = $2, reply = $3, interrupted = $4, status = $5 WHERE id = $6`,
		durationMs, transcript, reply, interrupted, status, id,
	)
	return err
}

// CreateSpan inserts a span.
func (s *Store) CreateSpan(sp Span) error {
	_, err := s.db.Exec(
		`INSERT INTO spans (id, run_id, name, started_at, duration_ms, input, output, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sp.ID, sp.RunID, sp.Name, sp.StartedAt.UTC(),
		sp.DurationMs, sp.Input, sp.Output, sp.Status, sp.Error,
	)
	return err
}

// ListCalls returns calls ordered newest first, with run counts.
func (s *Store) ListCalls(limit, offset int) ([]Call, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM calls`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.user_id, c.started_at, c.ended_at, COUNT(r.id) as run_count
		FROM calls c
		LEFT JOIN runs r ON r.call_id = c.id
		GROUP BY c.id
		ORDER BY c.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		var endedAt sql.NullTime
		if err = rows.Scan(&c.ID, &c.UserID, &c.StartedAt, &endedAt, &c.RunCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			c.EndedAt = &endedAt.Time
		}
		calls = append(calls, c)
	}
	return calls, total, rows.Err()
}

// GetRun returns a single run with its spans. The call ID scopes the lookup
// so a run can only be fetched under its own call.
func (s *Store) GetRun(callID, runID string) (*Run, []Span, error) {
	var r Run
	err := s.db.QueryRow(
		`SELECT id, call_id, started_at, duration_ms, transcript, reply, interrupted, status
		 FROM runs WHERE id = $1 AND call_id = $2`, runID, callID,
	).Scan(&r.ID, &r.CallID, &r.StartedAt, &r.DurationMs, &r.Transcript, &r.Reply, &r.Interrupted, &r.Status)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, run_id, name, started_at, duration_ms, input, output, status, error_msg
		FROM spans WHERE run_id = $1 ORDER BY started_at ASC
	`, runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err = rows.Scan(&sp.ID, &sp.RunID, &sp.Name, &sp.StartedAt, &sp.DurationMs, &sp.Input, &sp.Output, &sp.Status, &sp.Error); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	return &r, spans, rows.Err()
}

// GetCall returns a single call with its runs.
func (s *Store) GetCall(id string) (*Call, []Run, error) {
	var c Call
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, user_id, started_at, ended_at FROM calls WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.StartedAt, &endedAt)
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}

	rows, err := s.db.Query(`
		SELECT r.id, r.call_id, r.started_at, r.duration_ms, r.transcript, r.reply, r.interrupted, r.status,
		       COUNT(sp.id) as span_count
		FROM runs r
		LEFT JOIN spans sp ON sp.run_id = r.id
		WHERE r.call_id = $1
		GROUP BY r.id
		ORDER BY r.started_at ASC
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err = rows.Scan(&r.ID, &r.CallID, &r.StartedAt, &r.DurationMs, &r.Transcript, &r.Reply, &r.Interrupted, &r.Status, &r.SpanCount); err != nil {
			return nil, nil, err
		}
		runs = append(runs, r)
	}
	return &c, runs, rows.Err()
}
