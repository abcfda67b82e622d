// Package pgstore persists task runtime records and job snapshots in
// PostgreSQL. Every conditional update is a single UPDATE statement whose
// WHERE clause carries the version or lock predicate, so the database
// evaluates the condition atomically against the row's current value. That
// makes the run lock and the versioned payload valid across process and
// machine boundaries for every worker sharing the database.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/vk/taskgridgo/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_state (
	id                 BIGSERIAL PRIMARY KEY,
	task_name          TEXT NOT NULL UNIQUE,
	is_pending         BOOLEAN NOT NULL DEFAULT FALSE,
	run_lock           TIMESTAMPTZ,
	last_attempted_run TIMESTAMPTZ,
	last_completed_run TIMESTAMPTZ,
	data               BYTEA,
	data_checksum      TEXT NOT NULL DEFAULT '',
	version            BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS running_jobs (
	id                UUID PRIMARY KEY,
	initial_task_name TEXT NOT NULL,
	parameters        JSONB,
	events            JSONB NOT NULL DEFAULT '[]',
	processed_tasks   JSONB NOT NULL DEFAULT '[]',
	is_complete       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at        TIMESTAMPTZ NOT NULL
);
`

// Store implements state.Store and state.JobStore over a PostgreSQL
// database.
type Store struct {
	db *sql.DB
}

// Open connects to the database behind the given DSN and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres store: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the engine's tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

const recordColumns = `id, task_name, is_pending, run_lock,
	last_attempted_run, last_completed_run, data, data_checksum, version`

func scanRecord(row *sql.Row) (*state.Record, error) {
	var rec state.Record
	var runLock, attempted, completed sql.NullTime
	var data []byte
	err := row.Scan(&rec.ID, &rec.TaskName, &rec.IsPending, &runLock,
		&attempted, &completed, &data, &rec.DataChecksum, &rec.Version)
	if err != nil {
		return nil, err
	}
	if runLock.Valid {
		rec.RunLock = &runLock.Time
	}
	if attempted.Valid {
		rec.LastAttemptedRun = &attempted.Time
	}
	if completed.Valid {
		rec.LastCompletedRun = &completed.Time
	}
	rec.Data = data
	return &rec, nil
}

// GetOrCreate implements state.Store.
func (s *Store) GetOrCreate(ctx context.Context, taskName string) (*state.Record, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_state (task_name)
		VALUES ($1)
		ON CONFLICT (task_name) DO NOTHING
	`, taskName)
	if err != nil {
		return nil, fmt.Errorf("creating record for task %q: %w", taskName, err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM task_state
		WHERE task_name = $1
	`, taskName)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("loading record for task %q: %w", taskName, err)
	}
	return rec, nil
}

// Refresh implements state.Store.
func (s *Store) Refresh(ctx context.Context, id int64) (*state.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM task_state
		WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("loading record %d: %w", id, err)
	}
	return rec, nil
}

// fieldColumns whitelists the columns reachable through Fields updates.
var fieldColumns = map[string]string{
	state.FieldIsPending:        "is_pending",
	state.FieldRunLock:          "run_lock",
	state.FieldLastAttemptedRun: "last_attempted_run",
	state.FieldLastCompletedRun: "last_completed_run",
	state.FieldData:             "data",
	state.FieldDataChecksum:     "data_checksum",
}

func setClause(fields state.Fields, argOffset int) (string, []any, error) {
	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for name, value := range fields {
		column, ok := fieldColumns[name]
		if !ok {
			return "", nil, fmt.Errorf("unknown record field: %s", name)
		}
		args = append(args, value)
		assignments = append(assignments,
			fmt.Sprintf("%s = $%d", column, argOffset+len(args)))
	}
	return strings.Join(assignments, ", "), args, nil
}

// UpdateFields implements state.Store.
func (s *Store) UpdateFields(ctx context.Context, id int64, fields state.Fields) error {
	clause, args, err := setClause(fields, 1)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE task_state SET %s WHERE id = $1", clause)
	if _, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...); err != nil {
		return fmt.Errorf("updating record %d: %w", id, err)
	}
	return nil
}

// UpdateVersioned implements state.Store. The version predicate sits in the
// WHERE clause, so a concurrent writer makes this a zero-row update rather
// than a lost update.
func (s *Store) UpdateVersioned(ctx context.Context, id, expectedVersion int64, fields state.Fields) (bool, error) {
	clause, args, err := setClause(fields, 2)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE task_state
		SET %s, version = version + 1
		WHERE id = $1 AND version = $2
	`, clause)
	result, err := s.db.ExecContext(ctx, query, append([]any{id, expectedVersion}, args...)...)
	if err != nil {
		return false, fmt.Errorf("updating record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AcquireRunLock implements state.Store.
func (s *Store) AcquireRunLock(ctx context.Context, id int64, now, expiry time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE task_state
		SET run_lock = $1
		WHERE id = $2 AND (run_lock IS NULL OR run_lock < $3)
	`, expiry, id, now)
	if err != nil {
		return false, fmt.Errorf("locking record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ExtendRunLock implements state.Store. Runs as a single autocommit
// statement so the pushed-back expiry is immediately visible to other
// workers.
func (s *Store) ExtendRunLock(ctx context.Context, id int64, delay time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE task_state
		SET run_lock = run_lock + make_interval(secs => $1)
		WHERE id = $2 AND run_lock IS NOT NULL
	`, delay.Seconds(), id)
	if err != nil {
		return false, fmt.Errorf("extending lock of record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SaveJob implements state.JobStore.
func (s *Store) SaveJob(ctx context.Context, rec *state.JobRecord) error {
	parameters, err := json.Marshal(rec.Parameters)
	if err != nil {
		return fmt.Errorf("encoding job parameters: %w", err)
	}
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("encoding job events: %w", err)
	}
	processed, err := json.Marshal(rec.ProcessedTasks)
	if err != nil {
		return fmt.Errorf("encoding processed tasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO running_jobs (
			id, initial_task_name, parameters, events, processed_tasks,
			is_complete, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			parameters = EXCLUDED.parameters,
			events = EXCLUDED.events,
			processed_tasks = EXCLUDED.processed_tasks,
			is_complete = EXCLUDED.is_complete,
			updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.InitialTaskName, parameters, events, processed,
		rec.IsComplete, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", rec.ID, err)
	}
	return nil
}

func scanJob(rows interface{ Scan(...any) error }) (*state.JobRecord, error) {
	var rec state.JobRecord
	var parameters, events, processed []byte
	err := rows.Scan(&rec.ID, &rec.InitialTaskName, &parameters, &events,
		&processed, &rec.IsComplete, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &rec.Parameters); err != nil {
			return nil, fmt.Errorf("decoding job parameters: %w", err)
		}
	}
	if err := json.Unmarshal(events, &rec.Events); err != nil {
		return nil, fmt.Errorf("decoding job events: %w", err)
	}
	if err := json.Unmarshal(processed, &rec.ProcessedTasks); err != nil {
		return nil, fmt.Errorf("decoding processed tasks: %w", err)
	}
	return &rec, nil
}

// GetJob implements state.JobStore.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*state.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, initial_task_name, parameters, events, processed_tasks,
			is_complete, updated_at
		FROM running_jobs
		WHERE id = $1
	`, id)
	rec, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return rec, nil
}

// IncompleteJobs implements state.JobStore.
func (s *Store) IncompleteJobs(ctx context.Context) ([]*state.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, initial_task_name, parameters, events, processed_tasks,
			is_complete, updated_at
		FROM running_jobs
		WHERE NOT is_complete
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete jobs: %w", err)
	}
	defer rows.Close()

	var incomplete []*state.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		incomplete = append(incomplete, rec)
	}
	return incomplete, rows.Err()
}
