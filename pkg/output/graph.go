// Package output reconstructs file contents from the pristine graph.
// Retrieval never fails on a conflicted graph: unordered insertions,
// deleted-but-edited content and ordering cycles come back as typed
// conflict segments the renderer turns into marked-up text.
package output

import (
	"bytes"

	"golang.org/x/exp/slices"

	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// node is one vertex of a file's alive subgraph.
type node struct {
	v types.Vertex
	// zombie: deleted by one change while another still asserts it
	// alive.
	zombie bool
	// external hash of the owning change; the cross-replica sort key.
	hash types.Hash
}

// graph is the alive subgraph of one file, rooted at its inode
// vertex. Successor lists are sorted by (hash, start) so every
// traversal is deterministic and replica-independent.
type graph struct {
	root  types.Vertex
	nodes map[types.Vertex]*node
	out   map[types.Vertex][]types.Vertex
}

// loadGraph collects the vertices of the file rooted at pos that are
// reachable through non-deleted, non-folder edges. Zombies are
// included and flagged; fully dead vertices do not appear.
func loadGraph(txn *pristine.Txn, ch *pristine.Channel, pos types.Position) (*graph, error) {
	rootV, err := txn.FindBlock(ch, pos)
	if err != nil {
		return nil, err
	}
	g := &graph{
		root:  rootV,
		nodes: make(map[types.Vertex]*node),
		out:   make(map[types.Vertex][]types.Vertex),
	}
	if err := g.addNode(txn, ch, rootV); err != nil {
		return nil, err
	}

	stack := []types.Vertex{rootV}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		rows, err := txn.Adjacent(ch, v)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			if e.Flags.Has(types.Parent) || e.Flags.Has(types.Deleted) || e.Flags.Has(types.Folder) {
				continue
			}
			to, err := txn.FindBlock(ch, e.Dest)
			if err != nil {
				return nil, err
			}
			if _, seen := g.nodes[to]; !seen {
				if err := g.addNode(txn, ch, to); err != nil {
					return nil, err
				}
				stack = append(stack, to)
			}
			if !slices.Contains(g.out[v], to) {
				g.out[v] = append(g.out[v], to)
			}
		}
	}

	for v := range g.out {
		succ := g.out[v]
		slices.SortFunc(succ, func(a, b types.Vertex) int {
			return g.compare(a, b)
		})
	}
	return g, nil
}

func (g *graph) addNode(txn *pristine.Txn, ch *pristine.Channel, v types.Vertex) error {
	n := &node{v: v}
	if v.Change != types.Root {
		h, err := txn.External(v.Change)
		if err != nil {
			return err
		}
		n.hash = h
	}
	if v != g.root {
		zombie, err := isZombie(txn, ch, v)
		if err != nil {
			return err
		}
		n.zombie = zombie
	}
	g.nodes[v] = n
	return nil
}

// compare orders vertices by external hash then offset. Internal
// change ids differ between replicas; external hashes do not, so
// conflict sides come out in the same order everywhere.
func (g *graph) compare(a, b types.Vertex) int {
	na, nb := g.nodes[a], g.nodes[b]
	if c := bytes.Compare(na.hash[:], nb.hash[:]); c != 0 {
		return c
	}
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	}
	return 0
}

// isZombie reports whether v carries a deletion among its incoming
// edges. Every vertex the loader sees is reachable alive, so a
// deletion mark means deleted-by-one-side, kept-by-another.
func isZombie(txn *pristine.Txn, ch *pristine.Channel, v types.Vertex) (bool, error) {
	rows, err := txn.Adjacent(ch, v)
	if err != nil {
		return false, err
	}
	for _, e := range rows {
		if e.Flags.Has(types.Parent) && e.Flags.Has(types.Deleted) {
			return true, nil
		}
	}
	return false, nil
}
