package dag

import (
	"container/heap"
	"slices"
)

// sortTopologically places every trigger after its dependencies with Kahn's
// algorithm. Among triggers that are ready at the same time the one loaded
// first goes first. A trigger that never becomes ready sits on a cycle.
func (g *Graph) sortTopologically() error {
	pending := slices.Clone(g.indeg)

	ready := &readyQueue{}
	for n, deps := range pending {
		if deps == 0 {
			heap.Push(ready, n)
		}
	}

	order := make([]int, 0, len(pending))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		order = append(order, n)
		for _, dependent := range g.outgoing[n] {
			pending[dependent]--
			if pending[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) < len(g.names) {
		return cycleError(g.cycleWitness())
	}
	g.order = order
	return nil
}

// readyQueue holds the triggers whose dependencies are all placed, lowest
// input index first.
type readyQueue []int

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)        { *q = append(*q, x.(int)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

// cycleWitness follows dependency edges depth first, starting from triggers
// in load order, and returns the first cycle it closes. The first name is
// repeated at the end: [a, b, a] means b runs after a and a runs after b.
func (g *Graph) cycleWitness() []string {
	const (
		unvisited = iota
		onPath
		finished
	)
	state := make([]uint8, len(g.names))
	var path, cycle []int

	var visit func(n int) bool
	visit = func(n int) bool {
		state[n] = onPath
		path = append(path, n)
		for _, next := range g.outgoing[n] {
			switch state[next] {
			case unvisited:
				if visit(next) {
					return true
				}
			case onPath:
				start := slices.Index(path, next)
				cycle = append(slices.Clone(path[start:]), next)
				return true
			}
		}
		path = path[:len(path)-1]
		state[n] = finished
		return false
	}

	for n := range g.names {
		if state[n] == unvisited && visit(n) {
			break
		}
	}

	names := make([]string, 0, len(cycle))
	for _, n := range cycle {
		names = append(names, g.names[n])
	}
	return names
}
