package task

import (
	"context"
	"slices"

	"github.com/vk/taskgridgo/internal/sched"
)

// Event is a named signal emitted by a task after execution, used to wake
// dependent tasks. The optional arguments become available to every task
// that receives the event.
type Event struct {
	Name      string
	Arguments map[string]any
}

// Descriptor is the static declaration attached to a task implementation:
// a stable unique name, the event names it may produce and the event names
// it depends on.
type Descriptor struct {
	Name      string
	Produces  []string
	DependsOn []string
}

// String returns the task name, so descriptors read well in logs and
// error messages.
func (d *Descriptor) String() string {
	return d.Name
}

// Initial reports whether the task declares no dependencies. An initial
// task always considers itself triggered.
func (d *Descriptor) Initial() bool {
	return len(d.DependsOn) == 0
}

// DependsOnEvent reports whether the descriptor lists the given event name
// as a dependency.
func (d *Descriptor) DependsOnEvent(name string) bool {
	return slices.Contains(d.DependsOn, name)
}

// Task is the executable capability every task implementation provides.
// The Run handle carries parameters, relevant prior events and the task's
// persisted state, and collects the events the task raises.
type Task interface {
	Execute(ctx context.Context, run *Run) error
}

// ParameterCarrier is an optional capability for tasks that accept
// additional parameters injected before execution.
type ParameterCarrier interface {
	SetParameters(parameters map[string]any)
}

// Schedulable is an optional capability for tasks that choose their own
// scheduling policy. Tasks without it run under sched.Always.
type Schedulable interface {
	Scheduler() sched.Scheduler
}

// EventDiscarder is an optional capability: when DiscardEventsOnError
// answers true, events raised before a failed execution are dropped
// instead of being propagated to dependents.
type EventDiscarder interface {
	DiscardEventsOnError() bool
}

// Factory instantiates a fresh task implementation for one job.
type Factory func() Task
