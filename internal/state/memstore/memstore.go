// Package memstore provides a mutex-guarded in-memory implementation of the
// state store contracts. It backs tests and single-process deployments; the
// conditional-update semantics are identical to the relational store, so
// engine behavior does not depend on which backend is wired in.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/taskgridgo/internal/state"
)

// Store implements state.Store and state.JobStore over in-process maps.
type Store struct {
	mutex    sync.Mutex
	byName   map[string]*state.Record
	byID     map[int64]*state.Record
	jobs     map[uuid.UUID]*state.JobRecord
	jobOrder []uuid.UUID
	lastID   int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byName: make(map[string]*state.Record),
		byID:   make(map[int64]*state.Record),
		jobs:   make(map[uuid.UUID]*state.JobRecord),
	}
}

// GetOrCreate implements state.Store.
func (s *Store) GetOrCreate(_ context.Context, taskName string) (*state.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if rec, ok := s.byName[taskName]; ok {
		return rec.Clone(), nil
	}
	s.lastID++
	rec := &state.Record{ID: s.lastID, TaskName: taskName}
	s.byName[taskName] = rec
	s.byID[rec.ID] = rec
	return rec.Clone(), nil
}

// Refresh implements state.Store.
func (s *Store) Refresh(_ context.Context, id int64) (*state.Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("no task record with id %d", id)
	}
	return rec.Clone(), nil
}

// UpdateFields implements state.Store.
func (s *Store) UpdateFields(_ context.Context, id int64, fields state.Fields) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("no task record with id %d", id)
	}
	return fields.Apply(rec)
}

// UpdateVersioned implements state.Store.
func (s *Store) UpdateVersioned(_ context.Context, id, expectedVersion int64, fields state.Fields) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("no task record with id %d", id)
	}
	if rec.Version != expectedVersion {
		return false, nil
	}
	if err := fields.Apply(rec); err != nil {
		return false, err
	}
	rec.Version++
	return true, nil
}

// AcquireRunLock implements state.Store.
func (s *Store) AcquireRunLock(_ context.Context, id int64, now, expiry time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("no task record with id %d", id)
	}
	if rec.RunLock != nil && rec.RunLock.After(now) {
		return false, nil
	}
	rec.RunLock = &expiry
	return true, nil
}

// ExtendRunLock implements state.Store.
func (s *Store) ExtendRunLock(_ context.Context, id int64, delay time.Duration) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("no task record with id %d", id)
	}
	if rec.RunLock == nil {
		return false, nil
	}
	extended := rec.RunLock.Add(delay)
	rec.RunLock = &extended
	return true, nil
}

// SaveJob implements state.JobStore.
func (s *Store) SaveJob(_ context.Context, rec *state.JobRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[rec.ID]; !ok {
		s.jobOrder = append(s.jobOrder, rec.ID)
	}
	copied := *rec
	copied.Events = append([]state.EventRecord(nil), rec.Events...)
	copied.ProcessedTasks = append([]string(nil), rec.ProcessedTasks...)
	s.jobs[rec.ID] = &copied
	return nil
}

// GetJob implements state.JobStore.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*state.JobRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("no job record with id %s", id)
	}
	copied := *rec
	copied.Events = append([]state.EventRecord(nil), rec.Events...)
	copied.ProcessedTasks = append([]string(nil), rec.ProcessedTasks...)
	return &copied, nil
}

// IncompleteJobs implements state.JobStore.
func (s *Store) IncompleteJobs(_ context.Context) ([]*state.JobRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var incomplete []*state.JobRecord
	for _, id := range s.jobOrder {
		rec := s.jobs[id]
		if rec.IsComplete {
			continue
		}
		copied := *rec
		copied.Events = append([]state.EventRecord(nil), rec.Events...)
		copied.ProcessedTasks = append([]string(nil), rec.ProcessedTasks...)
		incomplete = append(incomplete, &copied)
	}
	sort.SliceStable(incomplete, func(i, j int) bool {
		return incomplete[i].UpdatedAt.Before(incomplete[j].UpdatedAt)
	})
	return incomplete, nil
}
