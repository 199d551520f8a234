package apply

import (
	"fmt"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/types"
)

// putNewEdge replaces one stored edge's flags. The previous row named
// by the atom is removed and the new row written, attributed to the
// change being applied. Deleting a row that drifted (for example a
// pseudo replacement written by a later repair) is harmless: badger
// deletes are idempotent and the pseudo cleanup in the repair pass
// sweeps up what is left.
func (c *applyCtx) putNewEdge(em change.EdgeMap, e change.NewEdge) error {
	if err := c.touchInode(em.Inode); err != nil {
		return err
	}

	fromPos, err := c.resolve(e.From)
	if err != nil {
		return err
	}
	toPos, err := c.resolve(e.To)
	if err != nil {
		return err
	}

	// Edges anchor at from's last byte and to's first byte.
	fromV, err := c.txn.SplitAtEnd(c.ch, fromPos)
	if err != nil {
		return err
	}
	toV, err := c.txn.SplitAtStart(c.ch, toPos)
	if err != nil {
		return err
	}
	// The atom targets [To.Offset, ToEnd); bound the stored vertex to
	// it so the rewrite never spills onto trailing bytes.
	if e.ToEnd > toV.Start && e.ToEnd < toV.End {
		toV, _, err = c.txn.SplitBlock(c.ch, toV, e.ToEnd)
		if err != nil {
			return err
		}
	}

	introducer := c.id
	if !e.IntroducedBy.IsNone() {
		if !c.change.Knows(e.IntroducedBy) {
			return fmt.Errorf("%w: %s", ErrUnknownReference, e.IntroducedBy)
		}
		id, ok, err := c.txn.Internal(e.IntroducedBy)
		if err != nil {
			return err
		}
		if !ok {
			return &DependencyError{Missing: e.IntroducedBy}
		}
		introducer = id
	}

	if err := c.txn.DelEdge(c.ch, fromV, toV, e.Previous, introducer); err != nil {
		return err
	}
	if err := c.txn.AddEdge(c.ch, fromV, toV, e.Flags&^types.Parent, c.id); err != nil {
		return err
	}

	if e.Flags.Has(types.Deleted) {
		st, err := c.statusOf(toV)
		if err != nil {
			return err
		}
		if st.zombie() {
			c.addConflict(ConflictZombie, em.Inode, toV)
		}
	}
	return nil
}
