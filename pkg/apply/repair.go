package apply

import (
	"bytes"
	"sort"

	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// Zombie repair. After a change applies, an alive vertex can be left
// unreachable from its file root because a concurrent change deleted
// every path leading to it. Repair reconnects such vertices with
// pseudo edges so retrieval still sees them. Pseudo edges are local
// glue: they are attributed to the applying change so unapply can
// sweep them, and they are never recorded into new changes.

// externalOf resolves an internal id to the change's hash, memoized
// per application. The virtual root gets the zero hash, the same
// convention retrieval uses.
func (c *applyCtx) externalOf(id types.ChangeID) (types.Hash, error) {
	if id == types.Root {
		return types.Hash{}, nil
	}
	if h, ok := c.ext[id]; ok {
		return h, nil
	}
	h, err := c.txn.External(id)
	if err != nil {
		return types.Hash{}, err
	}
	c.ext[id] = h
	return h, nil
}

// sortVertices orders vertices by external hash, then start, then
// end. Internal ids are allocated in application order and differ
// between replicas; external hashes do not, so repair attaches its
// pseudo edges identically everywhere.
func (c *applyCtx) sortVertices(vs []types.Vertex) error {
	keys := make(map[types.Vertex]types.Hash, len(vs))
	for _, v := range vs {
		h, err := c.externalOf(v.Change)
		if err != nil {
			return err
		}
		keys[v] = h
	}
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		ha, hb := keys[a], keys[b]
		if cmp := bytes.Compare(ha[:], hb[:]); cmp != 0 {
			return cmp < 0
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	return nil
}

// fileGraph is the in-memory view of one file's subgraph, collected
// once per repair.
type fileGraph struct {
	root     types.Vertex
	vertices []types.Vertex
	// forward rows per vertex, stale pseudo rows already swept
	out map[types.Vertex][]types.Edge
}

func (c *applyCtx) loadFileGraph(root types.Position) (*fileGraph, error) {
	rootV, err := c.txn.FindBlock(c.ch, root)
	if err != nil {
		return nil, err
	}
	g := &fileGraph{root: rootV, out: make(map[types.Vertex][]types.Edge)}

	stack := []types.Vertex{rootV}
	seen := map[types.Vertex]bool{rootV: true}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		g.vertices = append(g.vertices, v)
		rows, err := c.txn.Adjacent(c.ch, v)
		if err != nil {
			return nil, err
		}
		for _, e := range rows {
			if e.Flags.Has(types.Parent) {
				continue
			}
			g.out[v] = append(g.out[v], e)
			to, err := c.txn.FindBlock(c.ch, e.Dest)
			if err != nil {
				return nil, err
			}
			if !seen[to] {
				seen[to] = true
				stack = append(stack, to)
			}
		}
	}
	if err := c.sortVertices(g.vertices); err != nil {
		return nil, err
	}
	return g, nil
}

// sweepStalePseudo drops pseudo rows whose target no real change
// asserts alive anymore. Without the sweep a deletion racing an
// earlier repair would keep dead content reachable forever.
func (c *applyCtx) sweepStalePseudo(g *fileGraph) error {
	for _, v := range g.vertices {
		kept := g.out[v][:0]
		for _, e := range g.out[v] {
			if e.Flags.Has(types.Pseudo) && !e.Flags.Has(types.Deleted) {
				to, err := c.txn.FindBlock(c.ch, e.Dest)
				if err != nil {
					return err
				}
				st, err := c.statusOf(to)
				if err != nil {
					return err
				}
				if st.dead() {
					if err := c.txn.DelEdge(c.ch, v, to, e.Flags, e.IntroducedBy); err != nil {
						return err
					}
					continue
				}
			}
			kept = append(kept, e)
		}
		g.out[v] = kept
	}
	return nil
}

// repairZombies reconnects alive-but-unreachable vertices under root.
func (c *applyCtx) repairZombies(root types.Position) error {
	g, err := c.loadFileGraph(root)
	if err != nil {
		if err == pristine.ErrBlockNotFound {
			// Root not materialized on this channel yet; nothing to
			// repair.
			return nil
		}
		return err
	}
	if err := c.sweepStalePseudo(g); err != nil {
		return err
	}

	for {
		reach, err := c.aliveReach(g)
		if err != nil {
			return err
		}
		repaired := false
		for _, v := range g.vertices {
			if reach[v] {
				continue
			}
			st, err := c.statusOf(v)
			if err != nil {
				return err
			}
			if !st.alive() {
				continue
			}
			anc, err := c.nearestReachableAncestor(g, reach, v)
			if err != nil {
				return err
			}
			flags := types.Pseudo | types.Block
			if err := c.txn.AddEdge(c.ch, anc, v, flags, c.id); err != nil {
				return err
			}
			g.out[anc] = append(g.out[anc], types.Edge{
				Flags: flags, Dest: v.StartPos(), IntroducedBy: c.id,
			})
			repaired = true
			break
		}
		if !repaired {
			return nil
		}
	}
}

// aliveReach marks every vertex reachable from the root through
// non-deleted edges.
func (c *applyCtx) aliveReach(g *fileGraph) (map[types.Vertex]bool, error) {
	reach := map[types.Vertex]bool{g.root: true}
	stack := []types.Vertex{g.root}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.out[v] {
			if e.Flags.Has(types.Deleted) {
				continue
			}
			to, err := c.txn.FindBlock(c.ch, e.Dest)
			if err != nil {
				return nil, err
			}
			if !reach[to] {
				reach[to] = true
				stack = append(stack, to)
			}
		}
	}
	return reach, nil
}

// nearestReachableAncestor climbs parent rows from v, in external
// hash order at each level, until it hits a vertex the alive
// traversal reached. The file root bounds the climb.
func (c *applyCtx) nearestReachableAncestor(g *fileGraph, reach map[types.Vertex]bool, v types.Vertex) (types.Vertex, error) {
	queue := []types.Vertex{v}
	seen := map[types.Vertex]bool{v: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		rows, err := c.txn.Adjacent(c.ch, cur)
		if err != nil {
			return types.Vertex{}, err
		}
		var parents []types.Vertex
		for _, e := range rows {
			if !e.Flags.Has(types.Parent) {
				continue
			}
			p, err := c.txn.FindBlock(c.ch, e.Dest)
			if err != nil {
				return types.Vertex{}, err
			}
			if !seen[p] {
				seen[p] = true
				parents = append(parents, p)
			}
		}
		if err := c.sortVertices(parents); err != nil {
			return types.Vertex{}, err
		}
		for _, p := range parents {
			if reach[p] {
				return p, nil
			}
			queue = append(queue, p)
		}
	}
	// Disconnected from everything reached; fall back to the file
	// root so the vertex stays retrievable.
	return g.root, nil
}

// detectOrderConflicts reports branch points whose alive successors
// are mutually unordered, and cycles among alive order edges. These
// are observations about the applied state, not failures.
func (c *applyCtx) detectOrderConflicts(root types.Position) error {
	g, err := c.loadFileGraph(root)
	if err != nil {
		if err == pristine.ErrBlockNotFound {
			return nil
		}
		return err
	}

	succ := make(map[types.Vertex][]types.Vertex)
	for _, v := range g.vertices {
		for _, e := range g.out[v] {
			if e.Flags.Has(types.Deleted) {
				continue
			}
			to, err := c.txn.FindBlock(c.ch, e.Dest)
			if err != nil {
				return err
			}
			succ[v] = append(succ[v], to)
		}
	}

	reaches := func(from, to types.Vertex) bool {
		if from == to {
			return true
		}
		stack := []types.Vertex{from}
		seen := map[types.Vertex]bool{from: true}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, s := range succ[v] {
				if s == to {
					return true
				}
				if !seen[s] {
					seen[s] = true
					stack = append(stack, s)
				}
			}
		}
		return false
	}

	for _, v := range g.vertices {
		ss := succ[v]
	pairs:
		for i := 0; i < len(ss); i++ {
			for j := i + 1; j < len(ss); j++ {
				if ss[i] == ss[j] {
					continue
				}
				if !reaches(ss[i], ss[j]) && !reaches(ss[j], ss[i]) {
					c.conflicts = append(c.conflicts, Conflict{
						Kind: ConflictOrder, Inode: root, Vertex: v,
					})
					break pairs
				}
			}
		}
	}

	// Cycle check: a vertex reachable from one of its own successors.
	for _, v := range g.vertices {
		for _, s := range succ[v] {
			if s != v && reaches(s, v) {
				c.conflicts = append(c.conflicts, Conflict{
					Kind: ConflictCycle, Inode: root, Vertex: v,
				})
				break
			}
		}
	}
	return nil
}
