// Package sched provides the scheduling policies deciding whether a task
// needs to run now. A policy is a strategy value held by the task that owns
// it; the pending-flag short-circuit lives in the engine, not here.
package sched

import (
	"time"

	"github.com/vk/taskgridgo/internal/state"
)

// Scheduler answers whether the task owning the given record needs to run
// at the given instant.
type Scheduler interface {
	NeedsToRun(rec *state.Record, now time.Time) bool
}

// Always is the base policy: it always answers true.
type Always struct{}

// NeedsToRun implements Scheduler.
func (Always) NeedsToRun(*state.Record, time.Time) bool {
	return true
}

// Interval runs the task at a regular interval, measured from the task's
// last attempted run rather than its last success, so a repeatedly failing
// task is not retried in a tight loop.
type Interval struct {
	Every time.Duration
}

// NeedsToRun implements Scheduler. It answers true when the task has never
// been attempted, or when the interval has elapsed since the last attempt.
func (s Interval) NeedsToRun(rec *state.Record, now time.Time) bool {
	if rec.LastAttemptedRun == nil {
		return true
	}
	return !now.Before(rec.LastAttemptedRun.Add(s.Every))
}
