package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/taskgridgo/internal/ctxlog"
)

// TaskState is the live handle over one task's persisted Record. It owns
// the run-lock lifecycle, the versioned payload blob and the checksum used
// to skip redundant writes.
//
// A TaskState is not safe for concurrent use; mutual exclusion across
// processes comes from the run lock, not from this handle.
type TaskState struct {
	store Store
	rec   *Record
	data  map[string]any
	dirty bool
	now   func() time.Time
}

// Open loads (creating if necessary) the record for the given task name and
// returns a handle over it.
func Open(ctx context.Context, store Store, taskName string) (*TaskState, error) {
	ts := &TaskState{store: store, now: time.Now}
	rec, err := store.GetOrCreate(ctx, taskName)
	if err != nil {
		return nil, fmt.Errorf("loading state for task %q: %w", taskName, err)
	}
	if err := ts.setRecord(rec); err != nil {
		return nil, err
	}
	return ts, nil
}

// SetClock replaces the time source, for tests.
func (t *TaskState) SetClock(now func() time.Time) {
	t.now = now
}

func (t *TaskState) setRecord(rec *Record) error {
	data := make(map[string]any)
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			return fmt.Errorf("decoding data of task %q: %w", rec.TaskName, err)
		}
	}
	t.rec = rec
	t.data = data
	t.dirty = false
	return nil
}

// Record returns the in-memory copy of the persisted record.
func (t *TaskState) Record() *Record {
	return t.rec
}

// TaskName returns the name of the task this state belongs to.
func (t *TaskState) TaskName() string {
	return t.rec.TaskName
}

// Data returns the decoded payload map. Mutations become durable on the
// next SaveData call.
func (t *TaskState) Data() map[string]any {
	return t.data
}

// MarkModified forces the next SaveData call to write, even if the payload
// checksum is unchanged.
func (t *TaskState) MarkModified() {
	t.dirty = true
}

// Refresh reloads the record and payload from the store, discarding any
// unsaved payload mutations.
func (t *TaskState) Refresh(ctx context.Context) error {
	rec, err := t.store.Refresh(ctx, t.rec.ID)
	if err != nil {
		return fmt.Errorf("refreshing state of task %q: %w", t.rec.TaskName, err)
	}
	return t.setRecord(rec)
}

// GetRunLock claims the task's run lock for the given timeout. The claim is
// a conditional write against the row's current value, so two racing
// callers cannot both succeed. Failing to claim returns an error wrapping
// ErrLock and the caller must not proceed with mutating work.
func (t *TaskState) GetRunLock(ctx context.Context, timeout time.Duration) error {
	now := t.now()
	expiry := now.Add(timeout)
	ok, err := t.store.AcquireRunLock(ctx, t.rec.ID, now, expiry)
	if err != nil {
		return fmt.Errorf("acquiring run lock of task %q: %w", t.rec.TaskName, err)
	}
	if !ok {
		ctxlog.FromContext(ctx).Warn("Failed to acquire run lock.",
			"task", t.rec.TaskName)
		return fmt.Errorf("task %q: %w", t.rec.TaskName, ErrLock)
	}
	t.rec.RunLock = &expiry
	return nil
}

// ReleaseRunLock clears the run lock unconditionally. It must be called by
// the lock holder once the run finishes, whether it succeeded or not.
func (t *TaskState) ReleaseRunLock(ctx context.Context) error {
	if err := t.store.UpdateFields(ctx, t.rec.ID, Fields{FieldRunLock: nil}); err != nil {
		return fmt.Errorf("releasing run lock of task %q: %w", t.rec.TaskName, err)
	}
	t.rec.RunLock = nil
	return nil
}

// ExtendRunLock pushes the current lock expiry back by delay. The write is
// a single statement outside any larger transaction, so the new expiry is
// immediately visible to other processes.
func (t *TaskState) ExtendRunLock(ctx context.Context, delay time.Duration) error {
	if t.rec.RunLock == nil {
		ctxlog.FromContext(ctx).Warn("Extending a run lock that is not held.",
			"task", t.rec.TaskName)
	}
	ok, err := t.store.ExtendRunLock(ctx, t.rec.ID, delay)
	if err != nil {
		return fmt.Errorf("extending run lock of task %q: %w", t.rec.TaskName, err)
	}
	if !ok {
		return fmt.Errorf("task %q has no run lock to extend: %w", t.rec.TaskName, ErrLock)
	}
	if t.rec.RunLock != nil {
		extended := t.rec.RunLock.Add(delay)
		t.rec.RunLock = &extended
	}
	return nil
}

// ExtendLock extends the run lock by delay, but only when the current
// expiry is within expireDelay of elapsing. It returns whether an extension
// happened. Long-running tasks call this periodically to keep their lock
// alive without writing on every tick.
func (t *TaskState) ExtendLock(ctx context.Context, delay, expireDelay time.Duration) (bool, error) {
	if t.rec.RunLock == nil {
		return false, nil
	}
	if t.now().Before(t.rec.RunLock.Add(-expireDelay)) {
		return false, nil
	}
	if err := t.ExtendRunLock(ctx, delay); err != nil {
		return false, err
	}
	return true, nil
}

// VersionedUpdate writes the given fields with compare-and-swap semantics
// on the record's version. On success the in-memory copy's version is
// incremented and the changed fields refresh from the written values. On a
// version mismatch an error wrapping ErrConcurrentUpdate is returned and
// the caller must Refresh before retrying or abandoning the change.
func (t *TaskState) VersionedUpdate(ctx context.Context, fields Fields) error {
	ok, err := t.store.UpdateVersioned(ctx, t.rec.ID, t.rec.Version, fields)
	if err != nil {
		return fmt.Errorf("updating data of task %q: %w", t.rec.TaskName, err)
	}
	if !ok {
		return fmt.Errorf("task %q: %w", t.rec.TaskName, ErrConcurrentUpdate)
	}
	if err := fields.Apply(t.rec); err != nil {
		return err
	}
	t.rec.Version++
	return nil
}

// SaveData persists the payload map. The payload is serialized and hashed
// first; if the checksum matches the stored one and the state was not
// explicitly marked modified, the write is skipped entirely so that no-op
// saves do not bump the version.
func (t *TaskState) SaveData(ctx context.Context) error {
	blob, err := json.Marshal(t.data)
	if err != nil {
		return fmt.Errorf("encoding data of task %q: %w", t.rec.TaskName, err)
	}
	checksum := Checksum(blob)
	if checksum == t.rec.DataChecksum && !t.dirty {
		ctxlog.FromContext(ctx).Debug("Task data unchanged, skipping save.",
			"task", t.rec.TaskName)
		return nil
	}
	if err := t.VersionedUpdate(ctx, Fields{
		FieldData:         blob,
		FieldDataChecksum: checksum,
	}); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// SetPending updates the is_pending flag with a narrow, unconditional write.
func (t *TaskState) SetPending(ctx context.Context, pending bool) error {
	return t.updateField(ctx, FieldIsPending, pending)
}

// SetLastAttemptedRun records the timestamp of a run attempt.
func (t *TaskState) SetLastAttemptedRun(ctx context.Context, ts time.Time) error {
	return t.updateField(ctx, FieldLastAttemptedRun, ts)
}

// SetLastCompletedRun records the timestamp of a successful run.
func (t *TaskState) SetLastCompletedRun(ctx context.Context, ts time.Time) error {
	return t.updateField(ctx, FieldLastCompletedRun, ts)
}

func (t *TaskState) updateField(ctx context.Context, name string, value any) error {
	fields := Fields{name: value}
	if err := t.store.UpdateFields(ctx, t.rec.ID, fields); err != nil {
		return fmt.Errorf("updating %s of task %q: %w", name, t.rec.TaskName, err)
	}
	return fields.Apply(t.rec)
}

// Checksum returns the hex SHA-256 digest used to detect payload changes.
func Checksum(blob []byte) string {
	digest := sha256.Sum256(blob)
	return hex.EncodeToString(digest[:])
}
