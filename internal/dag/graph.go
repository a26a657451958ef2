package dag

import "sort"

// Node is one entry of the input set: a name and the names it depends on.
type Node struct {
	Name         string
	Dependencies []string
}

// Graph is an immutable, validated dependency graph.
//
// It is safe for concurrent read access.
type Graph struct {
	index map[string]int
	names []string // input order

	outgoing [][]int // dependency -> dependents, sorted ascending
	incoming [][]int // dependent -> dependencies, sorted ascending
	indeg    []int

	order []int
	hash  Hash
}

// New builds and validates a Graph over nodes. Input order is the tie-break
// among triggers with no ordering constraint between them.
//
// Validation rejects:
//   - empty or duplicate names
//   - dependencies on names missing from nodes
//   - any cycle, including a trigger depending on itself
//
// Repeated dependencies of one node are collapsed.
func New(nodes []Node) (*Graph, error) {
	index := make(map[string]int, len(nodes))
	names := make([]string, 0, len(nodes))
	for i, n := range nodes {
		if n.Name == "" {
			return nil, graphErrorf(ErrInvalidGraph, "trigger #%d has no name", i)
		}
		if _, exists := index[n.Name]; exists {
			return nil, graphErrorf(ErrDuplicateName, "%q", n.Name)
		}
		index[n.Name] = i
		names = append(names, n.Name)
	}

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for to, n := range nodes {
		seen := make(map[int]struct{}, len(n.Dependencies))
		for _, dep := range n.Dependencies {
			from, ok := index[dep]
			if !ok {
				return nil, graphErrorf(ErrUnknownDependency, "%q depends on %q", n.Name, dep)
			}
			if _, dup := seen[from]; dup {
				continue
			}
			seen[from] = struct{}{}
			outgoing[from] = append(outgoing[from], to)
			incoming[to] = append(incoming[to], from)
			indeg[to]++
		}
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
		sort.Ints(incoming[i])
	}

	g := &Graph{
		index:    index,
		names:    names,
		outgoing: outgoing,
		incoming: incoming,
		indeg:    indeg,
	}
	if err := g.sortTopologically(); err != nil {
		return nil, err
	}
	g.hash = g.computeHash()
	return g, nil
}

// Len returns the number of triggers in the graph.
func (g *Graph) Len() int { return len(g.names) }

// Has reports whether name is part of the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Order returns every name such that dependencies precede their dependents.
func (g *Graph) Order() []string {
	out := make([]string, 0, len(g.order))
	for _, idx := range g.order {
		out = append(out, g.names[idx])
	}
	return out
}

// Dependencies returns the direct dependencies of name in input order.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[i]))
	for _, d := range g.incoming[i] {
		out = append(out, g.names[d])
	}
	return out
}

// Depth returns the length of the longest dependency chain ending at name.
func (g *Graph) Depth(name string) (int, bool) {
	i, ok := g.index[name]
	if !ok {
		return 0, false
	}
	depth := make([]int, len(g.names))
	for _, u := range g.order {
		for _, p := range g.incoming[u] {
			if depth[p]+1 > depth[u] {
				depth[u] = depth[p] + 1
			}
		}
	}
	return depth[i], true
}

// Hash returns the graph's identity.
func (g *Graph) Hash() Hash { return g.hash }
