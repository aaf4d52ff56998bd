package trace

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxRuns = 1000

// Store persists pipeline traces to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr and applies
// pending migrations.
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
	return NewStore(db), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
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

// CreateRun inserts a running run and prunes the oldest beyond maxRuns.
func (s *Store) CreateRun(id, kind string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, kind, started_at, status) VALUES ($1, $2, $3, $4)`,
		id, kind, startedAt.UTC(), RunRunning,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT $1)`,
		maxRuns,
	)
	return err
}

// UpdateRun sets the run's final fields.
func (s *Store) UpdateRun(id string, durationMs float64, degradation, status string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET duration_ms = $1, degradation = $2, status = $3 WHERE id = $4`,
		durationMs, degradation, status, id,
	)
	return err
}

// CreateSpan inserts a span.
func (s *Store) CreateSpan(sp Span) error {
	_, err := s.db.Exec(
		`INSERT INTO spans (id, run_id, stage, provider, started_at, duration_ms, status, error_kind, error_msg, fallback_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sp.ID, sp.RunID, sp.Stage, sp.Provider, sp.StartedAt.UTC(),
		sp.DurationMs, sp.Status, sp.ErrorKind, sp.Error, sp.FallbackReason,
	)
	return err
}

// ListRuns returns runs ordered newest first, with span counts, and the
// total number of runs.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.started_at, r.duration_ms, r.degradation, r.status, COUNT(sp.id) AS span_count
		FROM runs r
		LEFT JOIN spans sp ON sp.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err = rows.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.DurationMs, &r.Degradation, &r.Status, &r.SpanCount); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// GetRun returns a single run with its spans in execution order.
// sql.ErrNoRows is returned for an unknown id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, []Span, error) {
	var r Run
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, started_at, duration_ms, degradation, status FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Kind, &r.StartedAt, &r.DurationMs, &r.Degradation, &r.Status)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, provider, started_at, duration_ms, status, error_kind, error_msg, fallback_reason
		 FROM spans WHERE run_id = $1 ORDER BY started_at ASC`,
		id,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err = rows.Scan(&sp.ID, &sp.RunID, &sp.Stage, &sp.Provider, &sp.StartedAt, &sp.DurationMs, &sp.Status, &sp.ErrorKind, &sp.Error, &sp.FallbackReason); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	r.SpanCount = len(spans)
	return &r, spans, rows.Err()
}
