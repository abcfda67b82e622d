package task

import "github.com/vk/taskgridgo/internal/state"

// Run is the per-execution handle handed to Task.Execute. It exposes the
// injected parameters, the events raised earlier in the job that this task
// depends on, and the task's persisted state; it collects the events the
// task raises during execution.
type Run struct {
	params  map[string]any
	state   *state.TaskState
	prior   []Event
	initial bool
	raised  []Event
}

// NewRun assembles a Run handle. The prior slice must already be filtered
// to the events the task depends on.
func NewRun(ts *state.TaskState, params map[string]any, prior []Event, initial bool) *Run {
	return &Run{
		params:  params,
		state:   ts,
		prior:   prior,
		initial: initial,
	}
}

// Parameters returns the job parameters injected into this execution.
func (r *Run) Parameters() map[string]any {
	return r.params
}

// State returns the task's persisted runtime state.
func (r *Run) State() *state.TaskState {
	return r.state
}

// PriorEvents returns the events raised earlier in the job which the task
// depends on.
func (r *Run) PriorEvents() []Event {
	return r.prior
}

// IsInitialRun reports whether no task of the surrounding job has been
// processed yet, i.e. this task is the first to run (or runs on its own).
func (r *Run) IsInitialRun() bool {
	return r.initial
}

// RaiseEvent records an event raised by the task during execution.
func (r *Run) RaiseEvent(name string, arguments map[string]any) {
	r.raised = append(r.raised, Event{Name: name, Arguments: arguments})
}

// RaisedEvents returns the events raised so far.
func (r *Run) RaisedEvents() []Event {
	return r.raised
}

// ClearEvents drops all events raised so far.
func (r *Run) ClearEvents() {
	r.raised = nil
}
