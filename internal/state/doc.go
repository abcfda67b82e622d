// Package state holds the durable per-task runtime record and the job
// snapshot record, together with the conditional-update store contracts
// they are persisted through. All cross-process coordination of the engine
// (run locks, versioned payload updates) goes through these contracts, so
// any store providing atomic conditional updates keyed by task name works.
package state
