package pristine

import (
	"fmt"

	"github.com/und3fined/pijul/pkg/types"
)

// Graph storage. Every vertex of a channel's graph has one row in the
// blocks table, keyed (change, start, end). Adjacency rows live in the
// edges table under the full vertex key; each logical edge is stored
// twice, once forward under its source and once with the Parent bit
// under its destination, so both directions iterate in one seek.
//
// Edge destinations are Positions, not vertex keys: positions survive
// splits, so stored rows never need rewriting when an unrelated vertex
// is later split by another change.

// AddBlock registers v in the channel's vertex table.
func (t *Txn) AddBlock(ch *Channel, v types.Vertex) error {
	return t.set(chanKey(prefixBlock, ch.Name, v.Bytes()), nil)
}

// DelBlock removes v from the channel's vertex table.
func (t *Txn) DelBlock(ch *Channel, v types.Vertex) error {
	return t.del(chanKey(prefixBlock, ch.Name, v.Bytes()))
}

// HasBlock reports whether v is present.
func (t *Txn) HasBlock(ch *Channel, v types.Vertex) (bool, error) {
	return t.has(chanKey(prefixBlock, ch.Name, v.Bytes()))
}

// BlocksOf returns every vertex owned by id, in offset order.
func (t *Txn) BlocksOf(ch *Channel, id types.ChangeID) ([]types.Vertex, error) {
	var out []types.Vertex
	prefix := chanKey(prefixBlock, ch.Name, id.Bytes())
	err := t.iterPrefixKeys(prefix, func(suffix []byte) error {
		v, err := types.VertexFromBytes(append(id.Bytes(), suffix...))
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// FindBlock resolves pos to the stored vertex containing it. The root
// position resolves to the virtual root vertex without a table hit.
func (t *Txn) FindBlock(ch *Channel, pos types.Position) (types.Vertex, error) {
	if pos.IsRoot() {
		return types.RootVertex, nil
	}
	prefix := chanKey(prefixBlock, ch.Name, pos.Change.Bytes())
	// Largest (start, end) with start <= pos.Offset.
	upTo := append(u64Bytes(pos.Offset), u64Bytes(^uint64(0))...)
	suffix, err := t.seekBefore(prefix, upTo)
	if err != nil {
		return types.Vertex{}, err
	}
	for suffix != nil {
		v, err := types.VertexFromBytes(append(pos.Change.Bytes(), suffix...))
		if err != nil {
			return types.Vertex{}, err
		}
		if v.Contains(pos) {
			return v, nil
		}
		// An empty vertex can share its start offset with a sibling;
		// step one key back and retry.
		prev, err := t.seekBefore(prefix, prevKey(suffix))
		if err != nil {
			return types.Vertex{}, err
		}
		if prev == nil || string(prev) == string(suffix) {
			break
		}
		suffix = prev
	}
	return types.Vertex{}, ErrBlockNotFound
}

// prevKey returns the largest key strictly smaller than k.
func prevKey(k []byte) []byte {
	out := append([]byte{}, k...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			for j := i + 1; j < len(out); j++ {
				out[j] = 0xff
			}
			return out
		}
	}
	return nil
}

// AddEdge stores the edge from→to with the given flags, and its Parent
// mirror. The forward row anchors at to's first byte, the mirror at
// from's last byte, so both remain resolvable after future splits.
func (t *Txn) AddEdge(ch *Channel, from, to types.Vertex, flags types.EdgeFlags, by types.ChangeID) error {
	fwd := types.Edge{Flags: flags &^ types.Parent, Dest: to.StartPos(), IntroducedBy: by}
	if err := t.set(chanKey(prefixEdge, ch.Name, from.Bytes(), fwd.Bytes()), nil); err != nil {
		return err
	}
	back := types.Edge{Flags: flags | types.Parent, Dest: from.EndPos(), IntroducedBy: by}
	return t.set(chanKey(prefixEdge, ch.Name, to.Bytes(), back.Bytes()), nil)
}

// DelEdge removes the edge from→to with exactly the given flags and
// introducer, both directions.
func (t *Txn) DelEdge(ch *Channel, from, to types.Vertex, flags types.EdgeFlags, by types.ChangeID) error {
	fwd := types.Edge{Flags: flags &^ types.Parent, Dest: to.StartPos(), IntroducedBy: by}
	if err := t.del(chanKey(prefixEdge, ch.Name, from.Bytes(), fwd.Bytes())); err != nil {
		return err
	}
	back := types.Edge{Flags: flags | types.Parent, Dest: from.EndPos(), IntroducedBy: by}
	return t.del(chanKey(prefixEdge, ch.Name, to.Bytes(), back.Bytes()))
}

// Adjacent returns every edge row stored under v: forward edges to its
// successors and Parent mirrors of the edges arriving at it.
func (t *Txn) Adjacent(ch *Channel, v types.Vertex) ([]types.Edge, error) {
	var out []types.Edge
	err := t.iterPrefixKeys(chanKey(prefixEdge, ch.Name, v.Bytes()), func(suffix []byte) error {
		e, err := types.EdgeFromBytes(suffix)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// VertexEdge pairs an edge row with the vertex it is stored under.
type VertexEdge struct {
	From types.Vertex
	Edge types.Edge
}

// EdgesIntroducedBy scans the channel graph for every row attributed
// to id. Used by unapply to reverse exactly one change's effects.
func (t *Txn) EdgesIntroducedBy(ch *Channel, id types.ChangeID) ([]VertexEdge, error) {
	var out []VertexEdge
	err := t.iterPrefixKeys(chanKey(prefixEdge, ch.Name), func(suffix []byte) error {
		if len(suffix) < types.VertexKeyLen+types.EdgeKeyLen {
			return nil
		}
		e, err := types.EdgeFromBytes(suffix[types.VertexKeyLen:])
		if err != nil {
			return err
		}
		if e.IntroducedBy != id {
			return nil
		}
		v, err := types.VertexFromBytes(suffix[:types.VertexKeyLen])
		if err != nil {
			return err
		}
		out = append(out, VertexEdge{From: v, Edge: e})
		return nil
	})
	return out, err
}

// DelEdgeRow removes a single stored row (one direction only).
func (t *Txn) DelEdgeRow(ch *Channel, v types.Vertex, e types.Edge) error {
	return t.del(chanKey(prefixEdge, ch.Name, v.Bytes(), e.Bytes()))
}

// PutEdgeRow stores a single row (one direction only).
func (t *Txn) PutEdgeRow(ch *Channel, v types.Vertex, e types.Edge) error {
	return t.set(chanKey(prefixEdge, ch.Name, v.Bytes(), e.Bytes()), nil)
}

// GraphDump renders every block and edge row of the channel, in key
// order. Two channels with equal dumps hold the same graph.
func (t *Txn) GraphDump(ch *Channel) ([]string, error) {
	var out []string
	err := t.iterPrefixKeys(chanKey(prefixBlock, ch.Name), func(suffix []byte) error {
		v, err := types.VertexFromBytes(suffix)
		if err != nil {
			return err
		}
		out = append(out, "blk "+v.String())
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = t.iterPrefixKeys(chanKey(prefixEdge, ch.Name), func(suffix []byte) error {
		if len(suffix) < types.VertexKeyLen+types.EdgeKeyLen {
			return nil
		}
		v, err := types.VertexFromBytes(suffix[:types.VertexKeyLen])
		if err != nil {
			return err
		}
		e, err := types.EdgeFromBytes(suffix[types.VertexKeyLen:])
		if err != nil {
			return err
		}
		out = append(out, fmt.Sprintf("edg %s %s %d:%d by %d",
			v, e.Flags, e.Dest.Change, e.Dest.Offset, e.IntroducedBy))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SplitBlock splits the stored vertex v at absolute offset at,
// yielding [v.Start, at) and [at, v.End). Parent rows stay with the
// left half (they anchor at the start), forward rows move to the right
// half (they anchor at the end), and an internal Block edge attributed
// to the vertex's own change joins the halves. Positions inside v are
// unaffected, which is what keeps splits invisible to other changes.
func (t *Txn) SplitBlock(ch *Channel, v types.Vertex, at uint64) (left, right types.Vertex, err error) {
	if at <= v.Start || at >= v.End {
		return v, v, ErrBlockNotFound
	}
	left = types.Vertex{Change: v.Change, Start: v.Start, End: at}
	right = types.Vertex{Change: v.Change, Start: at, End: v.End}

	rows, err := t.Adjacent(ch, v)
	if err != nil {
		return left, right, err
	}
	for _, e := range rows {
		if err := t.DelEdgeRow(ch, v, e); err != nil {
			return left, right, err
		}
		dst := left
		if !e.Flags.Has(types.Parent) {
			dst = right
		}
		if err := t.PutEdgeRow(ch, dst, e); err != nil {
			return left, right, err
		}
	}
	if err := t.DelBlock(ch, v); err != nil {
		return left, right, err
	}
	if err := t.AddBlock(ch, left); err != nil {
		return left, right, err
	}
	if err := t.AddBlock(ch, right); err != nil {
		return left, right, err
	}
	if err := t.AddEdge(ch, left, right, types.Block, v.Change); err != nil {
		return left, right, err
	}
	return left, right, nil
}

// SplitAtStart resolves pos and, when it addresses an interior byte,
// splits the containing vertex so the returned vertex starts at pos.
func (t *Txn) SplitAtStart(ch *Channel, pos types.Position) (types.Vertex, error) {
	v, err := t.FindBlock(ch, pos)
	if err != nil {
		return types.Vertex{}, err
	}
	if pos.Offset == v.Start || v.Start == v.End {
		return v, nil
	}
	_, right, err := t.SplitBlock(ch, v, pos.Offset)
	if err != nil {
		return types.Vertex{}, err
	}
	return right, nil
}

// SplitAtEnd resolves pos and, when it addresses an interior byte,
// splits the containing vertex so the returned vertex ends just after
// pos. Used for up-context anchors, which name the last byte before an
// insertion point.
func (t *Txn) SplitAtEnd(ch *Channel, pos types.Position) (types.Vertex, error) {
	v, err := t.FindBlock(ch, pos)
	if err != nil {
		return types.Vertex{}, err
	}
	if v.Start == v.End || pos.Offset == v.End-1 {
		return v, nil
	}
	left, _, err := t.SplitBlock(ch, v, pos.Offset+1)
	if err != nil {
		return types.Vertex{}, err
	}
	return left, nil
}
