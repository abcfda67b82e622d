// Package dag implements a generic directed acyclic graph container.
// Cycles are rejected at edge-insertion time, so every graph built
// through the public API stays acyclic and can always be enumerated in
// topological order.
package dag
