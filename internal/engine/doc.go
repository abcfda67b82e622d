// Package engine drives the execution of interdependent tasks. A Job owns
// the sub-graph of tasks reachable from one seed task and walks it in
// topological order, propagating raised events to dependents and persisting
// its progress after every task so an interrupted job can resume. The
// Engine is the driver surface embedding applications use: run one task and
// its dependents, run everything that is due, or continue an interrupted
// job.
package engine
