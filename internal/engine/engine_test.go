package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/engine"
	"github.com/vk/taskgridgo/internal/sched"
	"github.com/vk/taskgridgo/internal/state"
	"github.com/vk/taskgridgo/internal/state/memstore"
	"github.com/vk/taskgridgo/internal/task"
)

// scriptedTask executes a caller-provided function, so tests can observe
// execution order and drive events and failures.
type scriptedTask struct {
	execute func(ctx context.Context, run *task.Run) error
	policy  sched.Scheduler
	discard bool
}

func (t *scriptedTask) Execute(ctx context.Context, run *task.Run) error {
	if t.execute == nil {
		return nil
	}
	return t.execute(ctx, run)
}

func (t *scriptedTask) Scheduler() sched.Scheduler {
	if t.policy == nil {
		return sched.Always{}
	}
	return t.policy
}

func (t *scriptedTask) DiscardEventsOnError() bool {
	return t.discard
}

type fixture struct {
	registry *task.Registry
	store    *memstore.Store
	clock    time.Time
	runLog   []string
}

func newFixture() *fixture {
	return &fixture{
		registry: task.NewRegistry(),
		store:    memstore.New(),
		clock:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) engine() *engine.Engine {
	return engine.New(f.registry, f.store, f.store, &engine.Options{
		Clock: func() time.Time { return f.clock },
	})
}

// add registers a task that logs its execution and raises every event its
// descriptor declares.
func (f *fixture) add(name string, produces, dependsOn []string) {
	f.addScripted(name, produces, dependsOn, func(_ context.Context, run *task.Run) error {
		f.runLog = append(f.runLog, name)
		for _, event := range produces {
			run.RaiseEvent(event, nil)
		}
		return nil
	})
}

func (f *fixture) addScripted(name string, produces, dependsOn []string, execute func(context.Context, *task.Run) error) {
	f.registry.MustRegister(
		&task.Descriptor{Name: name, Produces: produces, DependsOn: dependsOn},
		func() task.Task { return &scriptedTask{execute: execute} },
	)
}

func TestRunTaskExecutesDependentsInOrder(t *testing.T) {
	f := newFixture()
	f.add("a", []string{"x"}, nil)
	f.add("b", nil, []string{"x"})
	f.add("c", nil, []string{"y"}) // nothing produces "y"

	clean, err := f.engine().RunTask(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, []string{"a", "b"}, f.runLog)
}

func TestRunTaskSkipsTaskWithoutRaisedEvent(t *testing.T) {
	f := newFixture()
	// The producer declares the event but never raises it.
	f.addScripted("quiet", []string{"x"}, nil, func(_ context.Context, run *task.Run) error {
		f.runLog = append(f.runLog, "quiet")
		return nil
	})
	f.add("dependent", nil, []string{"x"})

	eng := f.engine()
	job, err := eng.NewJob("quiet")
	require.NoError(t, err)

	clean, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, []string{"quiet"}, f.runLog)

	// The skipped task is still recorded as processed.
	assert.Equal(t, []string{"quiet", "dependent"}, job.State().ProcessedTasks())
}

func TestRunTaskSeedRunsDespiteDependencies(t *testing.T) {
	f := newFixture()
	f.add("seeded", nil, []string{"never-raised"})

	clean, err := f.engine().RunTask(context.Background(), "seeded", nil)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, []string{"seeded"}, f.runLog)
}

func TestFailingTaskDoesNotAbortIndependentTasks(t *testing.T) {
	f := newFixture()
	f.addScripted("a", []string{"x", "y"}, nil, func(_ context.Context, run *task.Run) error {
		f.runLog = append(f.runLog, "a")
		run.RaiseEvent("x", nil)
		run.RaiseEvent("y", nil)
		return nil
	})
	f.addScripted("broken", []string{"z"}, []string{"x"}, func(context.Context, *task.Run) error {
		f.runLog = append(f.runLog, "broken")
		return errors.New("boom")
	})
	f.add("sibling", nil, []string{"y"})
	f.add("downstream", nil, []string{"z"})

	clean, err := f.engine().RunTask(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.False(t, clean)

	// The sibling with no dependency on the failed task still ran; the
	// task depending on the never-raised "z" did not.
	assert.Equal(t, []string{"a", "broken", "sibling"}, f.runLog)
}

func TestFailingTaskStillPropagatesRaisedEvents(t *testing.T) {
	f := newFixture()
	f.addScripted("flaky", []string{"x"}, nil, func(_ context.Context, run *task.Run) error {
		run.RaiseEvent("x", nil)
		return errors.New("failed after raising")
	})
	f.add("dependent", nil, []string{"x"})

	clean, err := f.engine().RunTask(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Equal(t, []string{"dependent"}, f.runLog)
}

func TestFailingTaskCanDiscardRaisedEvents(t *testing.T) {
	f := newFixture()
	f.registry.MustRegister(
		&task.Descriptor{Name: "tainted", Produces: []string{"x"}},
		func() task.Task {
			return &scriptedTask{
				discard: true,
				execute: func(_ context.Context, run *task.Run) error {
					run.RaiseEvent("x", nil)
					return errors.New("failed after raising")
				},
			}
		},
	)
	f.add("dependent", nil, []string{"x"})

	eng := f.engine()
	job, err := eng.NewJob("tainted")
	require.NoError(t, err)

	clean, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, clean)

	// The opt-in dropped the raised event, so the dependent was never
	// flagged; only the failure marker reaches the job state. Contrast
	// with TestFailingTaskStillPropagatesRaisedEvents.
	assert.Empty(t, f.runLog)
	events := job.State().Events()
	require.Len(t, events, 1)
	assert.Equal(t, engine.FailureEvent, events[0].Name)
}

func TestIsInitialRunOnlyForJobsFirstTask(t *testing.T) {
	f := newFixture()
	initial := map[string]bool{}
	f.addScripted("first", []string{"x"}, nil, func(_ context.Context, run *task.Run) error {
		initial["first"] = run.IsInitialRun()
		run.RaiseEvent("x", nil)
		return nil
	})
	f.addScripted("second", nil, []string{"x"}, func(_ context.Context, run *task.Run) error {
		initial["second"] = run.IsInitialRun()
		return nil
	})

	clean, err := f.engine().RunTask(context.Background(), "first", nil)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, map[string]bool{"first": true, "second": false}, initial)
}

func TestPanickingTaskIsContained(t *testing.T) {
	f := newFixture()
	f.addScripted("wild", []string{"x"}, nil, func(context.Context, *task.Run) error {
		panic("unexpected")
	})
	f.add("after", nil, []string{"x"})

	clean, err := f.engine().RunTask(context.Background(), "wild", nil)
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Empty(t, f.runLog)

	// The lock was still released despite the panic.
	rec, err := f.store.GetOrCreate(context.Background(), "wild")
	require.NoError(t, err)
	assert.Nil(t, rec.RunLock)
}

func TestExecutionEnvelopeBookkeeping(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture()
		f.add("ok", nil, nil)

		// Pre-mark pending, as a scheduler sweep would.
		ts, err := state.Open(ctx, f.store, "ok")
		require.NoError(t, err)
		require.NoError(t, ts.SetPending(ctx, true))

		clean, err := f.engine().RunTask(ctx, "ok", nil)
		require.NoError(t, err)
		assert.True(t, clean)

		rec, err := f.store.GetOrCreate(ctx, "ok")
		require.NoError(t, err)
		assert.Equal(t, f.clock, *rec.LastAttemptedRun)
		assert.Equal(t, f.clock, *rec.LastCompletedRun)
		assert.False(t, rec.IsPending)
		assert.Nil(t, rec.RunLock)
	})

	t.Run("failure leaves completion untouched", func(t *testing.T) {
		f := newFixture()
		f.addScripted("bad", nil, nil, func(context.Context, *task.Run) error {
			return errors.New("boom")
		})

		ts, err := state.Open(ctx, f.store, "bad")
		require.NoError(t, err)
		require.NoError(t, ts.SetPending(ctx, true))

		clean, err := f.engine().RunTask(ctx, "bad", nil)
		require.NoError(t, err)
		assert.False(t, clean)

		// The stuck-task signal: attempted moved on, completed did not,
		// pending is still set.
		rec, err := f.store.GetOrCreate(ctx, "bad")
		require.NoError(t, err)
		assert.Equal(t, f.clock, *rec.LastAttemptedRun)
		assert.Nil(t, rec.LastCompletedRun)
		assert.True(t, rec.IsPending)
		assert.Nil(t, rec.RunLock)
	})
}

func TestLockedTaskIsNotExecuted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.add("locked", nil, nil)

	// Another process holds the lock.
	other, err := state.Open(ctx, f.store, "locked")
	require.NoError(t, err)
	other.SetClock(func() time.Time { return f.clock })
	require.NoError(t, other.GetRunLock(ctx, time.Hour))

	clean, err := f.engine().RunTask(ctx, "locked", nil)
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Empty(t, f.runLog)

	// The holder's lock is untouched.
	rec, err := f.store.GetOrCreate(ctx, "locked")
	require.NoError(t, err)
	require.NotNil(t, rec.RunLock)
}

func TestTaskDataPersistsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addScripted("counter", nil, nil, func(_ context.Context, run *task.Run) error {
		count, _ := run.State().Data()["count"].(float64)
		run.State().Data()["count"] = count + 1
		return nil
	})

	eng := f.engine()
	_, err := eng.RunTask(ctx, "counter", nil)
	require.NoError(t, err)
	_, err = eng.RunTask(ctx, "counter", nil)
	require.NoError(t, err)

	ts, err := state.Open(ctx, f.store, "counter")
	require.NoError(t, err)
	assert.Equal(t, 2.0, ts.Data()["count"])
	assert.Equal(t, int64(2), ts.Record().Version)
}

func TestParametersAreInjected(t *testing.T) {
	f := newFixture()
	var seen map[string]any
	f.addScripted("paramed", nil, nil, func(_ context.Context, run *task.Run) error {
		seen = run.Parameters()
		return nil
	})

	params := map[string]any{"suite": "sid"}
	clean, err := f.engine().RunTask(context.Background(), "paramed", params)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, params, seen)
}

func TestEventArgumentsReachDependents(t *testing.T) {
	f := newFixture()
	f.addScripted("emitter", []string{"x"}, nil, func(_ context.Context, run *task.Run) error {
		run.RaiseEvent("x", map[string]any{"package": "dpkg"})
		return nil
	})
	var received []task.Event
	f.addScripted("receiver", nil, []string{"x"}, func(_ context.Context, run *task.Run) error {
		received = run.PriorEvents()
		return nil
	})

	_, err := f.engine().RunTask(context.Background(), "emitter", nil)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "x", received[0].Name)
	assert.Equal(t, "dpkg", received[0].Arguments["package"])
}

func TestRunAllTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.add("initial-a", []string{"x"}, nil)
	f.add("dependent", nil, []string{"x"})
	f.add("initial-b", nil, nil)

	eng := f.engine()
	require.NoError(t, eng.RunAllTasks(ctx, nil))
	assert.Equal(t, []string{"initial-a", "dependent", "initial-b"}, f.runLog)
}

func TestRunAllTasksHonorsIntervalScheduler(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	policy := sched.Interval{Every: time.Hour}
	f.registry.MustRegister(&task.Descriptor{Name: "hourly"}, func() task.Task {
		return &scriptedTask{
			policy: policy,
			execute: func(context.Context, *task.Run) error {
				f.runLog = append(f.runLog, "hourly")
				return nil
			},
		}
	})

	eng := f.engine()
	require.NoError(t, eng.RunAllTasks(ctx, nil))
	assert.Equal(t, []string{"hourly"}, f.runLog)

	// Within the interval nothing happens.
	f.clock = f.clock.Add(30 * time.Minute)
	require.NoError(t, eng.RunAllTasks(ctx, nil))
	assert.Equal(t, []string{"hourly"}, f.runLog)

	// After the interval elapses the task is due again.
	f.clock = f.clock.Add(31 * time.Minute)
	require.NoError(t, eng.RunAllTasks(ctx, nil))
	assert.Equal(t, []string{"hourly", "hourly"}, f.runLog)
}

func TestPendingShortCircuitsScheduler(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	policy := sched.Interval{Every: time.Hour}
	f.registry.MustRegister(&task.Descriptor{Name: "flagged"}, func() task.Task {
		return &scriptedTask{policy: policy}
	})

	eng := f.engine()
	due, err := eng.Schedule(ctx, "flagged")
	require.NoError(t, err)
	assert.True(t, due)

	// The attempt timestamp is fresh, so the policy alone would say no,
	// but the pending flag holds until the task actually executes.
	ts, err := state.Open(ctx, f.store, "flagged")
	require.NoError(t, err)
	require.NoError(t, ts.SetLastAttemptedRun(ctx, f.clock))

	due, err = eng.Schedule(ctx, "flagged")
	require.NoError(t, err)
	assert.True(t, due)
}
