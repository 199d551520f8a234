package apply

import (
	"github.com/sirupsen/logrus"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// Unapply reverses one change on the channel: its edge rewrites are
// undone, the previous rows restored, its vertices dropped and the
// channel log rechained as if the change had never been applied.
// Vertex splits performed while the change was applied persist; they
// carry no information, so the retrieved output is unaffected.
//
// Unless force is set, any applied change that depends on the target
// blocks the operation.
func (a *Applier) Unapply(txn *pristine.Txn, ch *pristine.Channel, h types.Hash, force bool) error {
	id, ok, err := txn.Internal(h)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOnChannel
	}
	on, err := txn.OnChannel(ch, id)
	if err != nil {
		return err
	}
	if !on {
		return ErrNotOnChannel
	}

	if !force {
		revs, err := txn.RevDeps(id)
		if err != nil {
			return err
		}
		var blocking []types.Hash
		for _, r := range revs {
			rOn, err := txn.OnChannel(ch, r)
			if err != nil {
				return err
			}
			if !rOn {
				continue
			}
			rh, err := txn.External(r)
			if err != nil {
				return err
			}
			blocking = append(blocking, rh)
		}
		if len(blocking) > 0 {
			return &DependentsError{Blocking: blocking}
		}
	}

	c, err := a.Store.Get(h)
	if err != nil {
		return err
	}

	// Drop every row this change wrote, pseudo repairs included.
	rows, err := txn.EdgesIntroducedBy(ch, id)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := txn.DelEdgeRow(ch, r.From, r.Edge); err != nil {
			return err
		}
	}

	// Restore the rows the change's edge atoms replaced.
	for _, atom := range c.Atoms {
		em, ok := atom.(change.EdgeMap)
		if !ok {
			continue
		}
		for _, e := range em.Edges {
			if err := a.restoreEdge(txn, ch, id, c, e); err != nil {
				return err
			}
		}
	}

	// Remove the vertices the change introduced, with any leftover
	// rows still attached to them (later repairs by other changes may
	// have targeted them).
	blocks, err := txn.BlocksOf(ch, id)
	if err != nil {
		return err
	}
	for _, v := range blocks {
		if err := removeVertexRows(txn, ch, v); err != nil {
			return err
		}
		if err := txn.DelBlock(ch, v); err != nil {
			return err
		}
	}

	if err := a.unapplyTree(txn, ch, id, c); err != nil {
		return err
	}
	if err := txn.RemoveFromLog(ch, id); err != nil {
		return err
	}

	if a.Logger != nil {
		a.Logger.WithFields(logrus.Fields{
			"change":  h.String(),
			"channel": ch.Name,
		}).Debug("change unapplied")
	}
	return nil
}

// restoreEdge reinstates the edge a NewEdge atom rewrote, with its
// original flags and introducer.
func (a *Applier) restoreEdge(txn *pristine.Txn, ch *pristine.Channel, id types.ChangeID, c *change.Change, e change.NewEdge) error {
	fromPos, err := resolveIn(txn, id, e.From)
	if err != nil {
		return err
	}
	toPos, err := resolveIn(txn, id, e.To)
	if err != nil {
		return err
	}
	fromV, err := txn.SplitAtEnd(ch, fromPos)
	if err != nil {
		return err
	}
	toV, err := txn.SplitAtStart(ch, toPos)
	if err != nil {
		return err
	}
	if e.ToEnd > toV.Start && e.ToEnd < toV.End {
		toV, _, err = txn.SplitBlock(ch, toV, e.ToEnd)
		if err != nil {
			return err
		}
	}
	introducer := id
	if !e.IntroducedBy.IsNone() {
		iid, ok, err := txn.Internal(e.IntroducedBy)
		if err != nil {
			return err
		}
		if !ok {
			return &DependencyError{Missing: e.IntroducedBy}
		}
		introducer = iid
	}
	return txn.AddEdge(ch, fromV, toV, e.Previous, introducer)
}

// removeVertexRows deletes every edge row touching v, both the rows
// stored under v and the mirrors stored under its neighbors.
func removeVertexRows(txn *pristine.Txn, ch *pristine.Channel, v types.Vertex) error {
	rows, err := txn.Adjacent(ch, v)
	if err != nil {
		return err
	}
	for _, e := range rows {
		if err := txn.DelEdgeRow(ch, v, e); err != nil {
			return err
		}
		other, err := txn.FindBlock(ch, e.Dest)
		if err != nil {
			if err == pristine.ErrBlockNotFound {
				continue
			}
			return err
		}
		var mirror types.Edge
		if e.Flags.Has(types.Parent) {
			mirror = types.Edge{Flags: e.Flags &^ types.Parent, Dest: v.StartPos(), IntroducedBy: e.IntroducedBy}
		} else {
			mirror = types.Edge{Flags: e.Flags | types.Parent, Dest: v.EndPos(), IntroducedBy: e.IntroducedBy}
		}
		if err := txn.DelEdgeRow(ch, other, mirror); err != nil {
			return err
		}
	}
	return nil
}

// unapplyTree reverses the path-index effects of c: files the change
// created lose their index rows, files it deleted get fresh ones.
func (a *Applier) unapplyTree(txn *pristine.Txn, ch *pristine.Channel, id types.ChangeID, c *change.Change) error {
	for _, atom := range c.Atoms {
		switch at := atom.(type) {
		case change.NewVertex:
			if !at.Flags.Has(types.Folder) || at.Start != at.End {
				continue
			}
			pos := types.Position{Change: id, Offset: at.Start}
			inode, err := txn.PositionInode(pos)
			if err != nil {
				if err == pristine.ErrNotFound {
					continue
				}
				return err
			}
			if err := txn.DelTree(inode); err != nil {
				return err
			}
			if err := txn.DelInode(inode); err != nil {
				return err
			}
		case change.EdgeMap:
			for _, e := range at.Edges {
				if !e.Flags.Has(types.Folder) || !e.Flags.Has(types.Deleted) {
					continue
				}
				if err := a.reindexFile(txn, ch, id, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// reindexFile re-creates index rows for a file whose deletion was just
// undone. The atom's target is the file's inode vertex when it is an
// empty folder vertex; other targets of the same deletion (name and
// content vertices) are skipped.
func (a *Applier) reindexFile(txn *pristine.Txn, ch *pristine.Channel, id types.ChangeID, e change.NewEdge) error {
	toPos, err := resolveIn(txn, id, e.To)
	if err != nil {
		return err
	}
	toV, err := txn.FindBlock(ch, toPos)
	if err != nil {
		if err == pristine.ErrBlockNotFound {
			return nil
		}
		return err
	}
	if toV.Start != toV.End {
		return nil
	}
	if _, err := txn.PositionInode(toV.StartPos()); err == nil {
		return nil
	} else if err != pristine.ErrNotFound {
		return err
	}

	name, parent, err := a.filePathOf(txn, ch, toV)
	if err != nil {
		return err
	}
	inode := types.NewInode()
	if err := txn.PutTree(parent, name, inode); err != nil {
		return err
	}
	return txn.PutInode(inode, toV.StartPos())
}

// filePathOf recovers a file's name and parent inode from the graph:
// the inode vertex's folder parent is the name vertex, whose own
// folder parent locates the directory.
func (a *Applier) filePathOf(txn *pristine.Txn, ch *pristine.Channel, inodeV types.Vertex) (string, types.Inode, error) {
	nameV, err := folderParent(txn, ch, inodeV)
	if err != nil {
		return "", types.Inode{}, err
	}
	h, err := txn.External(nameV.Change)
	if err != nil {
		return "", types.Inode{}, err
	}
	name, err := a.Store.Contents(h, nameV.Start, nameV.End)
	if err != nil {
		return "", types.Inode{}, err
	}

	dirV, err := folderParent(txn, ch, nameV)
	if err != nil {
		return "", types.Inode{}, err
	}
	if dirV == types.RootVertex {
		return string(name), types.RootInode, nil
	}
	parent, err := txn.PositionInode(dirV.StartPos())
	if err != nil {
		return "", types.Inode{}, err
	}
	return string(name), parent, nil
}

func folderParent(txn *pristine.Txn, ch *pristine.Channel, v types.Vertex) (types.Vertex, error) {
	rows, err := txn.Adjacent(ch, v)
	if err != nil {
		return types.Vertex{}, err
	}
	for _, e := range rows {
		if !e.Flags.Has(types.Parent) || !e.Flags.Has(types.Folder) {
			continue
		}
		return txn.FindBlock(ch, e.Dest)
	}
	return types.Vertex{}, pristine.ErrBlockNotFound
}

func resolveIn(txn *pristine.Txn, id types.ChangeID, p change.Position) (types.Position, error) {
	if p.IsLocal() {
		return types.Position{Change: id, Offset: p.Offset}, nil
	}
	if p.Change.IsRootChange() {
		return types.Position{Change: types.Root, Offset: p.Offset}, nil
	}
	pid, ok, err := txn.Internal(p.Change)
	if err != nil {
		return types.Position{}, err
	}
	if !ok {
		return types.Position{}, &DependencyError{Missing: p.Change}
	}
	return types.Position{Change: pid, Offset: p.Offset}, nil
}
