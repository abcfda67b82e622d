package dag

import "iter"

// TopologicalOrder returns a lazy, single-use sequence of all nodes such
// that for every edge (a -> b), a is yielded before b. Node extraction runs
// over a scratch copy of the adjacency structure, so iterating never mutates
// the caller-visible graph. Ties between ready nodes are broken by insertion
// order, which makes runs deterministic.
//
// The returned sequence must be ranged over at most once; a second pass
// panics. The sequence panics if it gets stuck with nodes remaining, which
// is unreachable as long as all edges went through AddEdge.
func (g *Graph[T]) TopologicalOrder() iter.Seq[T] {
	g.mutex.RLock()
	ids := g.sortedIDsLocked()
	values := make(map[int]T, len(g.values))
	for id, v := range g.values {
		values[id] = v
	}
	succ := make(map[int][]int, len(g.succ))
	for id, successors := range g.succ {
		succ[id] = append([]int(nil), successors...)
	}
	inDeg := make(map[int]int, len(g.inDeg))
	for id, deg := range g.inDeg {
		inDeg[id] = deg
	}
	g.mutex.RUnlock()

	consumed := false
	return func(yield func(T) bool) {
		if consumed {
			panic("dag: topological order sequence is single-use")
		}
		consumed = true

		remaining := make(map[int]bool, len(ids))
		for _, id := range ids {
			remaining[id] = true
		}

		for len(remaining) > 0 {
			next := 0
			for _, id := range ids {
				if remaining[id] && inDeg[id] == 0 {
					next = id
					break
				}
			}
			if next == 0 {
				panic("dag: cycle detected during topological sort")
			}

			if !yield(values[next]) {
				return
			}

			delete(remaining, next)
			for _, succID := range succ[next] {
				inDeg[succID]--
			}
		}
	}
}
