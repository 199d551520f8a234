package apply

import (
	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// putNewVertex introduces a fresh byte range and anchors it between
// its contexts. Contexts name single bytes, so the stored vertices
// containing them may need splitting first; splits never move
// positions, so concurrent changes addressing the same stored vertex
// stay valid.
func (c *applyCtx) putNewVertex(nv change.NewVertex) error {
	if nv.Start > nv.End {
		return change.ErrMalformed
	}
	if err := c.touchInode(nv.Inode); err != nil {
		return err
	}

	v := types.Vertex{Change: c.id, Start: nv.Start, End: nv.End}
	if err := c.txn.AddBlock(c.ch, v); err != nil {
		return err
	}

	orderFlags := types.Block | (nv.Flags & types.Folder)

	for _, up := range nv.UpContext {
		pos, err := c.resolve(up)
		if err != nil {
			return err
		}
		upV, err := c.txn.SplitAtEnd(c.ch, pos)
		if err != nil {
			return err
		}
		st, err := c.statusOf(upV)
		if err != nil {
			return err
		}
		if st.dead() {
			// A concurrent change deleted the context. The edge is
			// still added; the repair pass resurrects reachability
			// and the surviving content becomes a zombie.
			c.addConflict(ConflictZombie, nv.Inode, upV)
		}
		if err := c.txn.AddEdge(c.ch, upV, v, orderFlags, c.id); err != nil {
			return err
		}
	}

	for _, down := range nv.DownContext {
		pos, err := c.resolve(down)
		if err != nil {
			return err
		}
		downV, err := c.txn.SplitAtStart(c.ch, pos)
		if err != nil {
			return err
		}
		st, err := c.statusOf(downV)
		if err != nil {
			return err
		}
		if st.dead() {
			c.addConflict(ConflictZombie, nv.Inode, downV)
		}
		if err := c.txn.AddEdge(c.ch, v, downV, orderFlags, c.id); err != nil {
			return err
		}
	}
	return nil
}

// vertexStatus summarizes what the incoming edges of a vertex assert.
type vertexStatus struct {
	root bool
	// a non-pseudo, non-deleted parent edge asserts the vertex exists
	aliveEdge bool
	// a deleted parent edge asserts it was removed
	deletedEdge bool
	// pseudo parents only keep previously repaired zombies reachable
	pseudoEdge bool
	// a vertex with no parent rows yet (mid-application) counts alive
	orphan bool
}

func (s vertexStatus) alive() bool {
	return s.root || s.orphan || s.aliveEdge
}

func (s vertexStatus) dead() bool {
	return s.deletedEdge && !s.aliveEdge
}

func (s vertexStatus) zombie() bool {
	return s.deletedEdge && s.aliveEdge
}

func (c *applyCtx) statusOf(v types.Vertex) (vertexStatus, error) {
	return statusOf(c.txn, c.ch, v)
}

func statusOf(txn *pristine.Txn, ch *pristine.Channel, v types.Vertex) (vertexStatus, error) {
	var st vertexStatus
	if v == types.RootVertex {
		st.root = true
		return st, nil
	}
	rows, err := txn.Adjacent(ch, v)
	if err != nil {
		return st, err
	}
	st.orphan = true
	for _, e := range rows {
		if !e.Flags.Has(types.Parent) {
			continue
		}
		st.orphan = false
		switch {
		case e.Flags.Has(types.Deleted):
			st.deletedEdge = true
		case e.Flags.Has(types.Pseudo):
			st.pseudoEdge = true
		default:
			st.aliveEdge = true
		}
	}
	return st, nil
}
