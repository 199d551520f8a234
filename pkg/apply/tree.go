package apply

import (
	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// Path-index maintenance. Files live in the graph as two folder
// vertices: a name vertex holding the path component bytes, and an
// empty inode vertex anchoring the file's contents. When a change
// introduces or deletes those vertices the working-copy index is
// updated alongside, under fresh random inodes (inode ids are local
// to a pristine, never exchanged).

func (c *applyCtx) updateTree() error {
	for _, atom := range c.change.Atoms {
		switch at := atom.(type) {
		case change.NewVertex:
			if at.Flags.Has(types.Folder) && at.Start == at.End {
				if err := c.registerFile(at); err != nil {
					return err
				}
			}
		case change.EdgeMap:
			for _, e := range at.Edges {
				if !e.Flags.Has(types.Folder) || !e.Flags.Has(types.Deleted) {
					continue
				}
				if err := c.unregisterFile(e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// registerFile indexes the file whose inode vertex at is. The name
// vertex is this change's folder atom covering at's up context, and
// the parent directory is whatever the name vertex hangs from.
func (c *applyCtx) registerFile(at change.NewVertex) error {
	if len(at.UpContext) == 0 {
		return change.ErrMalformed
	}
	name, parentPos, err := c.nameOf(at.UpContext[0])
	if err != nil {
		return err
	}
	parent, err := c.parentInode(parentPos)
	if err != nil {
		return err
	}
	inode := types.NewInode()
	if err := c.txn.PutTree(parent, name, inode); err != nil {
		return err
	}
	return c.txn.PutInode(inode, types.Position{Change: c.id, Offset: at.Start})
}

// nameOf finds the folder atom of this change containing up and
// returns its contents (the path component) plus its own up context
// (the parent directory's inode position).
func (c *applyCtx) nameOf(up change.Position) (string, change.Position, error) {
	if !up.IsLocal() {
		return "", change.Position{}, change.ErrMalformed
	}
	for _, atom := range c.change.Atoms {
		nv, ok := atom.(change.NewVertex)
		if !ok || !nv.Flags.Has(types.Folder) || nv.Start == nv.End {
			continue
		}
		if up.Offset < nv.Start || up.Offset >= nv.End {
			continue
		}
		b, err := c.change.ContentsSlice(nv.Start, nv.End)
		if err != nil {
			return "", change.Position{}, err
		}
		if len(nv.UpContext) == 0 {
			return "", change.Position{}, change.ErrMalformed
		}
		return string(b), nv.UpContext[0], nil
	}
	return "", change.Position{}, change.ErrMalformed
}

func (c *applyCtx) parentInode(pos change.Position) (types.Inode, error) {
	p, err := c.resolve(pos)
	if err != nil {
		return types.Inode{}, err
	}
	if p.IsRoot() {
		return types.RootInode, nil
	}
	return c.txn.PositionInode(p)
}

// unregisterFile drops the index rows of a deleted file. Only the
// inode vertex carries an index row; edges aimed at name or content
// vertices resolve to no inode and are skipped.
func (c *applyCtx) unregisterFile(e change.NewEdge) error {
	pos, err := c.resolve(e.To)
	if err != nil {
		return err
	}
	inode, err := c.txn.PositionInode(pos)
	if err != nil {
		if err == pristine.ErrNotFound {
			return nil
		}
		return err
	}
	if err := c.txn.DelTree(inode); err != nil {
		return err
	}
	return c.txn.DelInode(inode)
}
