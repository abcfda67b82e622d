package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/taskgridgo/internal/state"
	"github.com/vk/taskgridgo/internal/task"
)

// JobState is the durable record of a job's progress: the events raised so
// far and the tasks already processed. It is appended to after every task
// and persisted each time, so a crash mid-job loses at most the outcome of
// the task that was running.
type JobState struct {
	id              uuid.UUID
	initialTaskName string
	parameters      map[string]any
	events          []task.Event
	processedTasks  []string
	processedSet    map[string]bool
	complete        bool

	jobs state.JobStore
	now  func() time.Time
}

func newJobState(jobs state.JobStore, initialTaskName string, now func() time.Time) *JobState {
	return &JobState{
		id:              uuid.New(),
		initialTaskName: initialTaskName,
		processedSet:    make(map[string]bool),
		jobs:            jobs,
		now:             now,
	}
}

func loadJobState(rec *state.JobRecord, jobs state.JobStore, now func() time.Time) *JobState {
	s := &JobState{
		id:              rec.ID,
		initialTaskName: rec.InitialTaskName,
		parameters:      rec.Parameters,
		processedTasks:  append([]string(nil), rec.ProcessedTasks...),
		processedSet:    make(map[string]bool, len(rec.ProcessedTasks)),
		complete:        rec.IsComplete,
		jobs:            jobs,
		now:             now,
	}
	for _, name := range rec.ProcessedTasks {
		s.processedSet[name] = true
	}
	for _, event := range rec.Events {
		s.events = append(s.events, task.Event{
			Name:      event.Name,
			Arguments: event.Arguments,
		})
	}
	return s
}

// ID returns the job's unique identifier.
func (s *JobState) ID() uuid.UUID {
	return s.id
}

// InitialTaskName returns the name of the job's seed task.
func (s *JobState) InitialTaskName() string {
	return s.initialTaskName
}

// Parameters returns the additional parameters the job was started with.
func (s *JobState) Parameters() map[string]any {
	return s.parameters
}

// Events returns all events raised so far, in raise order.
func (s *JobState) Events() []task.Event {
	return s.events
}

// ProcessedTasks returns the names of the tasks already processed, in
// processing order.
func (s *JobState) ProcessedTasks() []string {
	return s.processedTasks
}

// Processed reports whether the named task was already processed.
func (s *JobState) Processed(name string) bool {
	return s.processedSet[name]
}

// EventsForTask returns the recorded events the given descriptor depends
// on.
func (s *JobState) EventsForTask(desc *task.Descriptor) []task.Event {
	var relevant []task.Event
	for _, event := range s.events {
		if desc.DependsOnEvent(event.Name) {
			relevant = append(relevant, event)
		}
	}
	return relevant
}

// addProcessedTask marks a task as processed, recording the events it
// raised.
func (s *JobState) addProcessedTask(name string, raised []task.Event) {
	s.events = append(s.events, raised...)
	s.processedTasks = append(s.processedTasks, name)
	s.processedSet[name] = true
}

// Save persists the current snapshot.
func (s *JobState) Save(ctx context.Context) error {
	events := make([]state.EventRecord, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, state.EventRecord{
			Name:      event.Name,
			Arguments: event.Arguments,
		})
	}
	rec := &state.JobRecord{
		ID:              s.id,
		InitialTaskName: s.initialTaskName,
		Parameters:      s.parameters,
		Events:          events,
		ProcessedTasks:  append([]string(nil), s.processedTasks...),
		IsComplete:      s.complete,
		UpdatedAt:       s.now(),
	}
	if err := s.jobs.SaveJob(ctx, rec); err != nil {
		return fmt.Errorf("persisting state of job %s: %w", s.id, err)
	}
	return nil
}

// MarkComplete flags the job as finished and persists the snapshot one
// final time.
func (s *JobState) MarkComplete(ctx context.Context) error {
	s.complete = true
	return s.Save(ctx)
}
