package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/taskgridgo/internal/ctxlog"
	"github.com/vk/taskgridgo/internal/sched"
	"github.com/vk/taskgridgo/internal/state"
	"github.com/vk/taskgridgo/internal/task"
)

// DefaultLockTimeout is the run-lock expiry used when Options does not
// override it. Tasks expected to outlive it keep their lock alive with
// ExtendLock.
const DefaultLockTimeout = time.Hour

// Options tunes an Engine.
type Options struct {
	// LockTimeout is the expiry applied when claiming a task's run lock.
	LockTimeout time.Duration
	// DefaultScheduler is the policy applied to tasks that do not bring
	// their own. Defaults to sched.Always.
	DefaultScheduler sched.Scheduler
	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// Engine wires a task registry to the stores and exposes the driver
// surface. Within one job, tasks run strictly sequentially in topological
// order; concurrency safety across worker processes comes entirely from
// the conditional writes of the state store.
type Engine struct {
	registry     *task.Registry
	store        state.Store
	jobs         state.JobStore
	lockTimeout  time.Duration
	defaultSched sched.Scheduler
	now          func() time.Time
}

// New creates an Engine over the given registry and stores.
func New(registry *task.Registry, store state.Store, jobs state.JobStore, opts *Options) *Engine {
	e := &Engine{
		registry:     registry,
		store:        store,
		jobs:         jobs,
		lockTimeout:  DefaultLockTimeout,
		defaultSched: sched.Always{},
		now:          time.Now,
	}
	if opts != nil {
		if opts.LockTimeout > 0 {
			e.lockTimeout = opts.LockTimeout
		}
		if opts.DefaultScheduler != nil {
			e.defaultSched = opts.DefaultScheduler
		}
		if opts.Clock != nil {
			e.now = opts.Clock
		}
	}
	return e
}

// Registry returns the engine's task registry.
func (e *Engine) Registry() *task.Registry {
	return e.registry
}

// RunTask executes the named task and every task with a transitive event
// dependency on it, as one job. It returns true when every executed task
// completed cleanly.
func (e *Engine) RunTask(ctx context.Context, name string, parameters map[string]any) (bool, error) {
	job, err := e.NewJob(name)
	if err != nil {
		return false, err
	}
	return job.Run(ctx, parameters)
}

// Schedule asks the task's scheduling policy whether it needs to run and
// records a positive answer in the is_pending flag. A task already marked
// pending stays pending until it actually executes, regardless of what the
// policy would answer now.
func (e *Engine) Schedule(ctx context.Context, name string) (bool, error) {
	reg, ok := e.registry.Lookup(name)
	if !ok {
		return false, fmt.Errorf("task %q is not registered", name)
	}

	ts, err := state.Open(ctx, e.store, name)
	if err != nil {
		return false, err
	}
	if ts.Record().IsPending {
		return true, nil
	}

	policy := e.defaultSched
	if schedulable, ok := reg.New().(task.Schedulable); ok {
		policy = schedulable.Scheduler()
	}
	if !policy.NeedsToRun(ts.Record(), e.now()) {
		return false, nil
	}
	if err := ts.SetPending(ctx, true); err != nil {
		return false, err
	}
	return true, nil
}

// RunAllTasks schedules every registered task with no declared dependency
// and runs those marked pending, each as its own job. Failures of
// individual jobs are logged and collected; they do not stop the sweep.
func (e *Engine) RunAllTasks(ctx context.Context, parameters map[string]any) error {
	logger := ctxlog.FromContext(ctx)

	var errs []error
	for _, reg := range e.registry.Registrations() {
		if !reg.Desc.Initial() {
			continue
		}

		due, err := e.Schedule(ctx, reg.Desc.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !due {
			logger.Debug("Task does not need to run.", "task", reg.Desc.Name)
			continue
		}

		clean, err := e.RunTask(ctx, reg.Desc.Name, parameters)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !clean {
			logger.Warn("Job finished with task failures.", "task", reg.Desc.Name)
		}
	}
	return errors.Join(errs...)
}

// ContinueJob resumes the interrupted job with the given id and drives it
// to completion, re-using the parameters recorded in its snapshot.
func (e *Engine) ContinueJob(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := e.ResumeJob(ctx, id)
	if err != nil {
		return false, err
	}
	return job.Run(ctx, job.State().Parameters())
}

// ContinueAllJobs resumes every incomplete job snapshot in the store,
// oldest first. Failures of individual jobs are logged and collected; they
// do not stop the sweep.
func (e *Engine) ContinueAllJobs(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	recs, err := e.jobs.IncompleteJobs(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		logger.Info("No incomplete jobs to resume.")
		return nil
	}

	var errs []error
	for _, rec := range recs {
		clean, err := e.ContinueJob(ctx, rec.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", rec.ID, err))
			continue
		}
		if !clean {
			logger.Warn("Resumed job finished with task failures.", "job_id", rec.ID)
		}
	}
	return errors.Join(errs...)
}
