package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLock reports that another process currently holds a task's run lock.
// It is an expected condition under concurrent schedulers: the caller should
// back off and retry later, not treat the task as failed.
var ErrLock = errors.New("run lock held by another process")

// ErrConcurrentUpdate reports that a versioned update lost the race against
// a concurrent writer. The caller must refresh and decide whether to retry
// the mutation or abandon it.
var ErrConcurrentUpdate = errors.New("record was updated concurrently")

// Record is the persisted runtime row of one task, keyed by its unique name.
// It is created lazily on first access and never deleted in normal operation.
type Record struct {
	ID               int64
	TaskName         string
	IsPending        bool
	RunLock          *time.Time
	LastAttemptedRun *time.Time
	LastCompletedRun *time.Time
	Data             []byte
	DataChecksum     string
	Version          int64
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	clone.RunLock = cloneTime(r.RunLock)
	clone.LastAttemptedRun = cloneTime(r.LastAttemptedRun)
	clone.LastCompletedRun = cloneTime(r.LastCompletedRun)
	clone.Data = append([]byte(nil), r.Data...)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

// Field names accepted by Store update calls.
const (
	FieldIsPending        = "is_pending"
	FieldRunLock          = "run_lock"
	FieldLastAttemptedRun = "last_attempted_run"
	FieldLastCompletedRun = "last_completed_run"
	FieldData             = "data"
	FieldDataChecksum     = "data_checksum"
)

// Fields maps record field names to the values an update should write.
// A nil value clears a nullable field.
type Fields map[string]any

// Apply copies the field values onto the given record. Unknown field names
// are rejected so that store implementations and in-memory copies cannot
// silently diverge.
func (f Fields) Apply(rec *Record) error {
	for name, value := range f {
		switch name {
		case FieldIsPending:
			pending, ok := value.(bool)
			if !ok {
				return fmt.Errorf("field %s: expected bool, got %T", name, value)
			}
			rec.IsPending = pending
		case FieldRunLock:
			ts, err := timeValue(name, value)
			if err != nil {
				return err
			}
			rec.RunLock = ts
		case FieldLastAttemptedRun:
			ts, err := timeValue(name, value)
			if err != nil {
				return err
			}
			rec.LastAttemptedRun = ts
		case FieldLastCompletedRun:
			ts, err := timeValue(name, value)
			if err != nil {
				return err
			}
			rec.LastCompletedRun = ts
		case FieldData:
			blob, ok := value.([]byte)
			if !ok {
				return fmt.Errorf("field %s: expected []byte, got %T", name, value)
			}
			rec.Data = append([]byte(nil), blob...)
		case FieldDataChecksum:
			checksum, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %s: expected string, got %T", name, value)
			}
			rec.DataChecksum = checksum
		default:
			return fmt.Errorf("unknown record field: %s", name)
		}
	}
	return nil
}

func timeValue(name string, value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case *time.Time:
		return cloneTime(v), nil
	default:
		return nil, fmt.Errorf("field %s: expected time, got %T", name, value)
	}
}

// Store is the persistence contract for task runtime records. Conditional
// updates must be atomic against the row's current value; a relational
// UPDATE ... WHERE id=? AND version=? is the reference behavior.
type Store interface {
	// GetOrCreate returns the record for the given task name, creating an
	// empty one if it does not exist yet.
	GetOrCreate(ctx context.Context, taskName string) (*Record, error)

	// Refresh re-reads the record with the given id.
	Refresh(ctx context.Context, id int64) (*Record, error)

	// UpdateFields overwrites the given fields unconditionally, without
	// bumping the version. Used for the narrow bookkeeping writes (lock
	// release, run timestamps, pending flag).
	UpdateFields(ctx context.Context, id int64, fields Fields) error

	// UpdateVersioned writes the given fields and bumps the version, but
	// only if the stored version still equals expectedVersion. Returns
	// whether the update was applied.
	UpdateVersioned(ctx context.Context, id, expectedVersion int64, fields Fields) (bool, error)

	// AcquireRunLock sets run_lock to expiry, but only if run_lock is
	// currently unset or already expired relative to now. Returns whether
	// the lock was claimed.
	AcquireRunLock(ctx context.Context, id int64, now, expiry time.Time) (bool, error)

	// ExtendRunLock pushes the current run_lock expiry back by delay.
	// Returns false when no lock is currently held.
	ExtendRunLock(ctx context.Context, id int64, delay time.Duration) (bool, error)
}

// EventRecord is the persisted form of one raised event.
type EventRecord struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// JobRecord is the durable snapshot of a job's progress. It is written
// after every processed task so that an interrupted job can resume without
// re-running finished tasks or losing event information.
type JobRecord struct {
	ID              uuid.UUID
	InitialTaskName string
	Parameters      map[string]any
	Events          []EventRecord
	ProcessedTasks  []string
	IsComplete      bool
	UpdatedAt       time.Time
}

// JobStore persists job snapshots.
type JobStore interface {
	// SaveJob inserts or overwrites the snapshot with the record's id.
	SaveJob(ctx context.Context, rec *JobRecord) error

	// GetJob returns the snapshot with the given id.
	GetJob(ctx context.Context, id uuid.UUID) (*JobRecord, error)

	// IncompleteJobs returns all snapshots not yet marked complete, oldest
	// first.
	IncompleteJobs(ctx context.Context) ([]*JobRecord, error)
}
