package output

import (
	"golang.org/x/exp/slices"

	"github.com/und3fined/pijul/pkg/types"
)

// Strongly connected components of the file graph. A non-trivial
// component is an ordering cycle: concurrent changes each put their
// content before the other's. Condensing the components leaves a DAG
// the linearizer can walk.

type scc struct {
	// members in deterministic order
	vertices []types.Vertex
}

// condensation is the component DAG, components indexed in reverse
// topological discovery order.
type condensation struct {
	comps []*scc
	// comp[v] is the index of v's component in comps
	comp map[types.Vertex]int
	// succ[i] lists component indices, deduplicated, sorted by the
	// underlying vertex order
	succ map[int][]int
}

// condense runs Tarjan's algorithm over g. Tarjan emits components in
// reverse topological order, which is exactly the order the
// linearizer wants to walk backwards from.
func condense(g *graph) *condensation {
	c := &condensation{
		comp: make(map[types.Vertex]int),
		succ: make(map[int][]int),
	}

	index := make(map[types.Vertex]int)
	low := make(map[types.Vertex]int)
	onStack := make(map[types.Vertex]bool)
	var stack []types.Vertex
	next := 0

	var strongConnect func(v types.Vertex)
	strongConnect = func(v types.Vertex) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.out[v] {
			if _, seen := index[w]; !seen {
				strongConnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			comp := &scc{}
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp.vertices = append(comp.vertices, w)
				c.comp[w] = len(c.comps)
				if w == v {
					break
				}
			}
			slices.SortFunc(comp.vertices, func(a, b types.Vertex) int {
				return g.compare(a, b)
			})
			c.comps = append(c.comps, comp)
		}
	}

	// Deterministic entry: the root first, then any vertex the root
	// does not reach (possible mid-repair; harmless here).
	strongConnect(g.root)
	rest := make([]types.Vertex, 0, len(g.nodes))
	for v := range g.nodes {
		if _, seen := index[v]; !seen {
			rest = append(rest, v)
		}
	}
	slices.SortFunc(rest, func(a, b types.Vertex) int { return g.compare(a, b) })
	for _, v := range rest {
		if _, seen := index[v]; !seen {
			strongConnect(v)
		}
	}

	for v, succs := range g.out {
		from := c.comp[v]
		for _, w := range succs {
			to := c.comp[w]
			if to == from || slices.Contains(c.succ[from], to) {
				continue
			}
			c.succ[from] = append(c.succ[from], to)
		}
	}
	for from := range c.succ {
		slices.SortFunc(c.succ[from], func(a, b int) int {
			return g.compare(c.comps[a].vertices[0], c.comps[b].vertices[0])
		})
	}
	return c
}

// reachableComps returns the set of components reachable from start,
// inclusive.
func (c *condensation) reachableComps(start int) map[int]bool {
	seen := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range c.succ[n] {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}
