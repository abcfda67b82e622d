package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/dag"
	"github.com/vk/taskgridgo/internal/state"
	"github.com/vk/taskgridgo/internal/task"
)

// FailureEvent is the event name recorded in the job state when a task's
// execution fails. Its arguments carry the task name and the error text.
// Tasks do not receive it unless they explicitly depend on it.
const FailureEvent = "task:failed"

// instance is a live task inside one job: the descriptor, a fresh
// implementation, and the flag recording whether any event the task depends
// on has been raised.
type instance struct {
	desc          *task.Descriptor
	impl          task.Task
	eventReceived bool
}

func (i *instance) String() string {
	return i.desc.Name
}

// Job is one execution attempt over the sub-graph of tasks reachable from
// a single seed task.
type Job struct {
	engine *Engine
	graph  *dag.Graph[*instance]
	state  *JobState
}

// NewJob builds a job seeded at the named task: the dependency graph over
// all registered descriptors is restricted to the seed and everything
// reachable from it, and a live instance is created for every kept node.
// The seed instance is flagged as triggered regardless of its declared
// dependencies.
func (e *Engine) NewJob(seedName string) (*Job, error) {
	reg, ok := e.registry.Lookup(seedName)
	if !ok {
		return nil, fmt.Errorf("task %q is not registered", seedName)
	}

	job, err := e.buildJob(reg.Desc)
	if err != nil {
		return nil, err
	}
	job.state = newJobState(e.jobs, seedName, e.now)
	return job, nil
}

func (e *Engine) buildJob(seed *task.Descriptor) (*Job, error) {
	full, err := e.registry.Graph()
	if err != nil {
		return nil, err
	}

	reachable, err := full.ReachableFrom(seed)
	if err != nil {
		return nil, err
	}
	keep := make(map[*task.Descriptor]bool, len(reachable)+1)
	keep[seed] = true
	for _, desc := range reachable {
		keep[desc] = true
	}

	// Instantiate the kept descriptors into a private graph of live
	// instances; everything unreachable from the seed is simply left out.
	live := dag.New[*instance]()
	byDesc := make(map[*task.Descriptor]*instance, len(keep))
	for _, desc := range full.Nodes() {
		if !keep[desc] {
			continue
		}
		reg, ok := e.registry.Lookup(desc.Name)
		if !ok {
			return nil, fmt.Errorf("task %q is not registered", desc.Name)
		}
		inst := &instance{desc: desc, impl: reg.New()}
		if desc == seed {
			inst.eventReceived = true
		}
		live.AddNode(inst)
		byDesc[desc] = inst
	}

	for desc, inst := range byDesc {
		dependents, err := full.DependentsOf(desc)
		if err != nil {
			return nil, err
		}
		for _, dependent := range dependents {
			if !keep[dependent] {
				continue
			}
			if err := live.AddEdge(inst, byDesc[dependent]); err != nil {
				return nil, err
			}
		}
	}

	return &Job{engine: e, graph: live}, nil
}

// ResumeJob reconstructs an interrupted job from its persisted snapshot.
// The same reachable sub-graph is rebuilt from the snapshot's seed task,
// and the recorded events are replayed onto the instances before the run
// loop starts: those events were raised in a previous attempt, outside the
// current walk, so incremental propagation would miss them.
func (e *Engine) ResumeJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	rec, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsComplete {
		return nil, fmt.Errorf("job %s is already complete", id)
	}

	reg, ok := e.registry.Lookup(rec.InitialTaskName)
	if !ok {
		return nil, fmt.Errorf("task %q is not registered", rec.InitialTaskName)
	}

	job, err := e.buildJob(reg.Desc)
	if err != nil {
		return nil, err
	}
	job.state = loadJobState(rec, e.jobs, e.now)

	raisedNames := make(map[string]bool, len(job.state.Events()))
	for _, event := range job.state.Events() {
		raisedNames[event.Name] = true
	}
	for _, inst := range job.graph.Nodes() {
		if inst.eventReceived {
			continue
		}
		for _, name := range inst.desc.DependsOn {
			if raisedNames[name] {
				inst.eventReceived = true
				break
			}
		}
	}

	return job, nil
}

// State returns the job's progress record.
func (j *Job) State() *JobState {
	return j.state
}

// Tasks returns the names of the job's live tasks in graph insertion
// order.
func (j *Job) Tasks() []string {
	nodes := j.graph.Nodes()
	names := make([]string, 0, len(nodes))
	for _, inst := range nodes {
		names = append(names, inst.desc.Name)
	}
	return names
}

// Run walks the job's graph in topological order and executes every task
// whose dependency events have been raised. A failing task is logged and
// recorded but never aborts the walk: only tasks depending on its events
// are affected, in that they are simply never flagged. The job state is
// persisted after every task. Run returns true when every executed task
// completed cleanly.
func (j *Job) Run(ctx context.Context, parameters map[string]any) (bool, error) {
	logger := ctxlog.FromContext(ctx).With("job", j.state.ID())
	j.state.parameters = parameters

	clean := true
	for inst := range j.graph.TopologicalOrder() {
		name := inst.desc.Name
		taskLogger := logger.With("task", name)

		// Tasks recorded by a previous attempt are done; their events were
		// already replayed onto this graph.
		if j.state.Processed(name) {
			taskLogger.Debug("Task already processed in a previous attempt, skipping.")
			continue
		}

		var raised []task.Event
		if !inst.eventReceived {
			// Every potential producer precedes this task in topological
			// order, so no qualifying event can be raised anymore.
			taskLogger.Info("No dependency event raised; skipping task.")
		} else {
			taskLogger.Info("Starting task.")
			var err error
			raised, err = j.engine.executeInstance(ctx, j, inst, parameters)
			if err != nil {
				clean = false
				if errors.Is(err, state.ErrLock) {
					taskLogger.Warn("Task is locked by another process.", "error", err)
				} else {
					taskLogger.Error("Task execution failed.", "error", err)
				}
				raised = append(raised, task.Event{
					Name: FailureEvent,
					Arguments: map[string]any{
						"task":  name,
						"error": err.Error(),
					},
				})
			} else {
				taskLogger.Info("Task finished.")
			}

			// Propagate raised events even after a failure so that no
			// event is lost to the dependents.
			if err := j.propagate(inst, raised); err != nil {
				return false, err
			}
		}

		j.state.addProcessedTask(name, raised)
		if err := j.state.Save(ctx); err != nil {
			return false, err
		}
	}

	if err := j.state.MarkComplete(ctx); err != nil {
		return false, err
	}
	logger.Info("Finished all tasks.")
	return clean, nil
}

// propagate flags every direct dependent whose dependencies intersect the
// raised event names.
func (j *Job) propagate(processed *instance, raised []task.Event) error {
	if len(raised) == 0 {
		return nil
	}
	dependents, err := j.graph.DependentsOf(processed)
	if err != nil {
		return err
	}
	for _, dependent := range dependents {
		if dependent.eventReceived {
			continue
		}
		for _, event := range raised {
			if dependent.desc.DependsOnEvent(event.Name) {
				dependent.eventReceived = true
				break
			}
		}
	}
	return nil
}
