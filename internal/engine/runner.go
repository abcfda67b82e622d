package engine

import (
	"context"
	"fmt"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/state"
	"github.com/vk/taskgridgo/internal/task"
)

// executeInstance runs one task under the execution envelope: claim the run
// lock, record the attempt timestamp, execute, release the lock in a
// guaranteed cleanup step, and on success persist the payload and the
// completion bookkeeping. The events the task raised are returned even when
// execution failed, so dependents do not miss them.
func (e *Engine) executeInstance(ctx context.Context, j *Job, inst *instance, parameters map[string]any) ([]task.Event, error) {
	name := inst.desc.Name

	ts, err := state.Open(ctx, e.store, name)
	if err != nil {
		return nil, err
	}
	ts.SetClock(e.now)

	if err := ts.GetRunLock(ctx, e.lockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := ts.ReleaseRunLock(ctx); err != nil {
			ctxlog.FromContext(ctx).Error("Failed to release run lock.",
				"task", name, "error", err)
		}
	}()

	started := e.now()
	if err := ts.SetLastAttemptedRun(ctx, started); err != nil {
		return nil, err
	}

	run := task.NewRun(ts, parameters, j.state.EventsForTask(inst.desc),
		len(j.state.ProcessedTasks()) == 0)
	if carrier, ok := inst.impl.(task.ParameterCarrier); ok && parameters != nil {
		carrier.SetParameters(parameters)
	}

	if err := safeExecute(ctx, inst.impl, run); err != nil {
		if discarder, ok := inst.impl.(task.EventDiscarder); ok && discarder.DiscardEventsOnError() {
			run.ClearEvents()
		}
		return run.RaisedEvents(), err
	}

	// Persist the payload first: a checksum-detected no-op skips the write,
	// while a conflicting concurrent update turns the run into a failure
	// before the completion bookkeeping happens.
	if err := ts.SaveData(ctx); err != nil {
		return run.RaisedEvents(), err
	}
	if err := ts.SetLastCompletedRun(ctx, started); err != nil {
		return run.RaisedEvents(), err
	}
	if err := ts.SetPending(ctx, false); err != nil {
		return run.RaisedEvents(), err
	}
	return run.RaisedEvents(), nil
}

// safeExecute converts a panicking task into an ordinary task failure, so
// one misbehaving task cannot take down the whole walk.
func safeExecute(ctx context.Context, impl task.Task, run *task.Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return impl.Execute(ctx, run)
}
