package trace

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hollis-dev/tempest/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoRuns is returned when the store holds no runs yet.
var ErrNoRuns = errors.New("trace store has no runs")

// RunMeta identifies one recorded run.
type RunMeta struct {
	ID        string
	Program   string
	StartedAt time.Time
}

// Store persists dispatch traces in SQLite, WAL mode for concurrent read
// access while a run is being written.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open creates or opens the trace database at path. Pragmas and the schema
// are applied on every open; both are idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect trace store: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent Record calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// BeginRun registers a new run and returns a writer that records its
// dispatch stream. Run IDs are UUIDv7, so lexicographic ID order is also
// creation order.
func (s *Store) BeginRun(ctx context.Context, program string) (*RunWriter, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, program, started_at)
		VALUES (?, ?, ?)
	`, id.String(), program, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	return &RunWriter{store: s, runID: id.String()}, nil
}

// RunWriter records the dispatch stream of a single run. It satisfies the
// scheduler's Tracer interface, so a failed insert can only be logged, not
// surfaced; the scheduler never stalls on storage.
type RunWriter struct {
	store *Store
	runID string

	mu  sync.Mutex
	seq int64
}

var _ engine.Tracer = (*RunWriter)(nil)

// RunID returns the run's identifier.
func (w *RunWriter) RunID() string { return w.runID }

// Record persists one dispatch. Inserts are idempotent on (run_id, seq):
// replaying a run over its own rows is a no-op.
func (w *RunWriter) Record(d engine.Dispatch) {
	w.mu.Lock()
	seq := w.seq
	w.seq++
	w.mu.Unlock()

	_, err := w.store.db.Exec(`
		INSERT INTO dispatches
		(run_id, seq, time_ns, microstep, reactor, reaction, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`, w.runID, seq, d.Tag.Time, d.Tag.Microstep, d.Reactor, d.Reaction, string(d.Outcome))
	if err != nil {
		w.store.log.Error("failed to record dispatch",
			"run", w.runID,
			"seq", seq,
			"reaction", d.Reaction,
			"error", err,
		)
	}
}

// ReadRun returns the full dispatch stream of a run in dispatch order.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]engine.Dispatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time_ns, microstep, reactor, reaction, outcome
		FROM dispatches
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []engine.Dispatch
	for rows.Next() {
		var d engine.Dispatch
		var outcome string
		if err := rows.Scan(&d.Tag.Time, &d.Tag.Microstep, &d.Reactor, &d.Reaction, &outcome); err != nil {
			return nil, fmt.Errorf("read run %s: %w", runID, err)
		}
		d.Outcome = engine.Outcome(outcome)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	return out, nil
}

// RunMeta returns the metadata of one run.
func (s *Store) RunMeta(ctx context.Context, runID string) (RunMeta, error) {
	var m RunMeta
	var started string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program, started_at FROM runs WHERE id = ?
	`, runID).Scan(&m.ID, &m.Program, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return RunMeta{}, fmt.Errorf("run %s: %w", runID, ErrNoRuns)
	}
	if err != nil {
		return RunMeta{}, fmt.Errorf("run meta %s: %w", runID, err)
	}
	m.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return RunMeta{}, fmt.Errorf("run meta %s: parse started_at: %w", runID, err)
	}
	return m, nil
}

// LatestRun returns the most recently started run. UUIDv7 IDs sort by
// creation time, so MAX(id) is the latest.
func (s *Store) LatestRun(ctx context.Context) (RunMeta, error) {
	// MAX(id) on an empty table yields a NULL row, not ErrNoRows.
	var id sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM runs`).Scan(&id)
	if err != nil {
		return RunMeta{}, fmt.Errorf("latest run: %w", err)
	}
	if !id.Valid {
		return RunMeta{}, ErrNoRuns
	}
	return s.RunMeta(ctx, id.String)
}

// ListRuns returns all run metadata, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program, started_at FROM runs ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunMeta
	for rows.Next() {
		var m RunMeta
		var started string
		if err := rows.Scan(&m.ID, &m.Program, &started); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		m.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("list runs: parse started_at: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// RunDigest computes the canonical digest of a stored run, for comparing a
// live trace against its recording.
func (s *Store) RunDigest(ctx context.Context, runID string) (string, error) {
	meta, err := s.RunMeta(ctx, runID)
	if err != nil {
		return "", err
	}
	dispatches, err := s.ReadRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return SnapshotDigest(meta.Program, dispatches)
}
