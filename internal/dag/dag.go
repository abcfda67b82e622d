package dag

import (
	"fmt"
	"sync"
)

// CycleError is returned by AddEdge when the requested edge would close a
// cycle. The graph is left unchanged when this error is returned.
type CycleError struct {
	From any
	To   any
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("edge %v -> %v would close a cycle", e.From, e.To)
}

// Graph is a directed acyclic graph over opaque comparable values.
//
// Every inserted value gets a stable integer id from a monotonic counter.
// Edges are kept as adjacency lists together with an in-degree counter per
// node, so "has no unmet dependency" is a constant-time check during
// topological extraction.
type Graph[T comparable] struct {
	mutex sync.RWMutex

	ids    map[T]int
	values map[int]T
	succ   map[int][]int
	inDeg  map[int]int
	lastID int
}

// New creates and returns an initialized, empty Graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{
		ids:    make(map[T]int),
		values: make(map[int]T),
		succ:   make(map[int][]int),
		inDeg:  make(map[int]int),
	}
}

// Len returns the number of nodes currently in the graph.
func (g *Graph[T]) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.ids)
}

// Contains reports whether the given value is a node of the graph.
func (g *Graph[T]) Contains(v T) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.ids[v]
	return ok
}

// Nodes returns all node values in insertion order.
func (g *Graph[T]) Nodes() []T {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.nodesLocked()
}

func (g *Graph[T]) nodesLocked() []T {
	nodes := make([]T, 0, len(g.values))
	for _, id := range g.sortedIDsLocked() {
		nodes = append(nodes, g.values[id])
	}
	return nodes
}

// sortedIDsLocked returns the node ids in ascending order. Ids are assigned
// from a monotonic counter, so this is insertion order.
func (g *Graph[T]) sortedIDsLocked() []int {
	ids := make([]int, 0, len(g.values))
	for id := 1; id <= g.lastID; id++ {
		if _, ok := g.values[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// AddNode adds a new node with the given value to the graph. Adding a value
// that is already present does nothing.
func (g *Graph[T]) AddNode(v T) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.ids[v]; ok {
		return
	}

	g.lastID++
	id := g.lastID
	g.ids[v] = id
	g.values[id] = v
	g.succ[id] = nil
	g.inDeg[id] = 0
}

// RemoveNode removes a node from the graph, dropping all incident edges and
// rewiring the in-degree counters of its successors.
func (g *Graph[T]) RemoveNode(v T) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	id, ok := g.ids[v]
	if !ok {
		return
	}

	for _, succID := range g.succ[id] {
		g.inDeg[succID]--
	}
	for predID, successors := range g.succ {
		g.succ[predID] = removeID(successors, id)
	}
	delete(g.ids, v)
	delete(g.values, id)
	delete(g.succ, id)
	delete(g.inDeg, id)
}

func removeID(ids []int, id int) []int {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// AddEdge creates a directed edge from `from` to `to`. Inserting an edge
// that already exists does nothing. A *CycleError is returned if `from` is
// reachable from `to`, since the new edge would then close a cycle; the
// graph is left untouched in that case.
func (g *Graph[T]) AddEdge(from, to T) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromID, ok := g.ids[from]
	if !ok {
		return fmt.Errorf("source node not found: %v", from)
	}
	toID, ok := g.ids[to]
	if !ok {
		return fmt.Errorf("destination node not found: %v", to)
	}

	if fromID == toID {
		return &CycleError{From: from, To: to}
	}
	if g.reachableLocked(toID)[fromID] {
		return &CycleError{From: from, To: to}
	}

	for _, succID := range g.succ[fromID] {
		if succID == toID {
			return nil
		}
	}
	g.succ[fromID] = append(g.succ[fromID], toID)
	g.inDeg[toID]++
	return nil
}

// reachableLocked runs a BFS over forward edges and returns the set of node
// ids reachable from the given id, excluding the id itself (unless it sits
// on a cycle, which the insertion contract rules out).
func (g *Graph[T]) reachableLocked(startID int) map[int]bool {
	visited := make(map[int]bool)
	queue := []int{startID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, succID := range g.succ[current] {
			if !visited[succID] {
				visited[succID] = true
				queue = append(queue, succID)
			}
		}
	}
	delete(visited, startID)
	return visited
}

// ReachableFrom returns every node reachable from the given value over
// forward edges, excluding the value itself. The result preserves insertion
// order. An error is returned if the value is not a node of the graph.
func (g *Graph[T]) ReachableFrom(v T) ([]T, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	id, ok := g.ids[v]
	if !ok {
		return nil, fmt.Errorf("node not found: %v", v)
	}

	visited := g.reachableLocked(id)
	reachable := make([]T, 0, len(visited))
	for _, candidate := range g.sortedIDsLocked() {
		if visited[candidate] {
			reachable = append(reachable, g.values[candidate])
		}
	}
	return reachable, nil
}

// DependentsOf returns the direct successors of the given value, in edge
// insertion order.
func (g *Graph[T]) DependentsOf(v T) ([]T, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	id, ok := g.ids[v]
	if !ok {
		return nil, fmt.Errorf("node not found: %v", v)
	}

	dependents := make([]T, 0, len(g.succ[id]))
	for _, succID := range g.succ[id] {
		dependents = append(dependents, g.values[succID])
	}
	return dependents, nil
}
