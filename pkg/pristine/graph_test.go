package pristine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/und3fined/pijul/pkg/types"
)

func TestFindBlock(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		ch, _ := txn.CreateChannel("main")
		a, _ := txn.MakeChangeID(hashOf(1))

		v1 := types.Vertex{Change: a, Start: 0, End: 10}
		v2 := types.Vertex{Change: a, Start: 10, End: 11}
		require.NoError(t, txn.AddBlock(ch, v1))
		require.NoError(t, txn.AddBlock(ch, v2))

		got, err := txn.FindBlock(ch, types.Position{Change: a, Offset: 0})
		require.NoError(t, err)
		assert.Equal(t, v1, got)

		got, err = txn.FindBlock(ch, types.Position{Change: a, Offset: 9})
		require.NoError(t, err)
		assert.Equal(t, v1, got)

		got, err = txn.FindBlock(ch, types.Position{Change: a, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, v2, got)

		_, err = txn.FindBlock(ch, types.Position{Change: a, Offset: 11})
		assert.ErrorIs(t, err, ErrBlockNotFound)

		// The root position resolves without any stored row.
		got, err = txn.FindBlock(ch, types.RootPosition)
		require.NoError(t, err)
		assert.Equal(t, types.RootVertex, got)
		return nil
	}))
}

func TestFindBlockEmptyVertex(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		ch, _ := txn.CreateChannel("main")
		a, _ := txn.MakeChangeID(hashOf(1))

		empty := types.Vertex{Change: a, Start: 4, End: 4}
		require.NoError(t, txn.AddBlock(ch, empty))

		got, err := txn.FindBlock(ch, types.Position{Change: a, Offset: 4})
		require.NoError(t, err)
		assert.Equal(t, empty, got)
		return nil
	}))
}

func TestAddEdgeStoresBothDirections(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		ch, _ := txn.CreateChannel("main")
		a, _ := txn.MakeChangeID(hashOf(1))
		v := types.Vertex{Change: a, Start: 0, End: 5}
		require.NoError(t, txn.AddBlock(ch, v))
		require.NoError(t, txn.AddEdge(ch, types.RootVertex, v, types.Block, a))

		fwd, err := txn.Adjacent(ch, types.RootVertex)
		require.NoError(t, err)
		require.Len(t, fwd, 1)
		assert.Equal(t, types.Block, fwd[0].Flags)
		assert.Equal(t, v.StartPos(), fwd[0].Dest)

		back, err := txn.Adjacent(ch, v)
		require.NoError(t, err)
		require.Len(t, back, 1)
		assert.True(t, back[0].Flags.Has(types.Parent))
		assert.Equal(t, types.RootPosition, back[0].Dest)

		require.NoError(t, txn.DelEdge(ch, types.RootVertex, v, types.Block, a))
		fwd, err = txn.Adjacent(ch, types.RootVertex)
		require.NoError(t, err)
		assert.Empty(t, fwd)
		back, err = txn.Adjacent(ch, v)
		require.NoError(t, err)
		assert.Empty(t, back)
		return nil
	}))
}

func TestSplitBlockMovesAnchors(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		ch, _ := txn.CreateChannel("main")
		a, _ := txn.MakeChangeID(hashOf(1))
		b, _ := txn.MakeChangeID(hashOf(2))

		v := types.Vertex{Change: a, Start: 0, End: 10}
		next := types.Vertex{Change: b, Start: 0, End: 3}
		require.NoError(t, txn.AddBlock(ch, v))
		require.NoError(t, txn.AddBlock(ch, next))
		require.NoError(t, txn.AddEdge(ch, types.RootVertex, v, types.Block, a))
		require.NoError(t, txn.AddEdge(ch, v, next, types.Block, b))

		left, right, err := txn.SplitBlock(ch, v, 4)
		require.NoError(t, err)
		assert.Equal(t, types.Vertex{Change: a, Start: 0, End: 4}, left)
		assert.Equal(t, types.Vertex{Change: a, Start: 4, End: 10}, right)

		// Incoming edge stays with the left half.
		leftRows, err := txn.Adjacent(ch, left)
		require.NoError(t, err)
		var haveParent, haveInternal bool
		for _, e := range leftRows {
			if e.Flags.Has(types.Parent) {
				haveParent = true
			} else {
				assert.Equal(t, right.StartPos(), e.Dest)
				haveInternal = true
			}
		}
		assert.True(t, haveParent)
		assert.True(t, haveInternal)

		// Outgoing edge moved to the right half.
		rightRows, err := txn.Adjacent(ch, right)
		require.NoError(t, err)
		var haveFwd bool
		for _, e := range rightRows {
			if !e.Flags.Has(types.Parent) {
				assert.Equal(t, next.StartPos(), e.Dest)
				haveFwd = true
			}
		}
		assert.True(t, haveFwd)

		// Positions are stable across the split.
		got, err := txn.FindBlock(ch, types.Position{Change: a, Offset: 7})
		require.NoError(t, err)
		assert.Equal(t, right, got)
		return nil
	}))
}

func TestSplitHelpers(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		ch, _ := txn.CreateChannel("main")
		a, _ := txn.MakeChangeID(hashOf(1))
		v := types.Vertex{Change: a, Start: 0, End: 10}
		require.NoError(t, txn.AddBlock(ch, v))

		// Up-context anchor at byte 3: vertex must end after it.
		got, err := txn.SplitAtEnd(ch, types.Position{Change: a, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got.End)

		// Down-context anchor at byte 7: vertex must start at it.
		got, err = txn.SplitAtStart(ch, types.Position{Change: a, Offset: 7})
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got.Start)

		// Anchors already on a boundary do not split further.
		got, err = txn.SplitAtStart(ch, types.Position{Change: a, Offset: 4})
		require.NoError(t, err)
		assert.Equal(t, uint64(4), got.Start)
		return nil
	}))
}

func TestEdgesIntroducedBy(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		ch, _ := txn.CreateChannel("main")
		a, _ := txn.MakeChangeID(hashOf(1))
		b, _ := txn.MakeChangeID(hashOf(2))

		va := types.Vertex{Change: a, Start: 0, End: 5}
		vb := types.Vertex{Change: b, Start: 0, End: 5}
		require.NoError(t, txn.AddBlock(ch, va))
		require.NoError(t, txn.AddBlock(ch, vb))
		require.NoError(t, txn.AddEdge(ch, types.RootVertex, va, types.Block, a))
		require.NoError(t, txn.AddEdge(ch, va, vb, types.Block, b))

		rows, err := txn.EdgesIntroducedBy(ch, b)
		require.NoError(t, err)
		// One forward row and one mirror row.
		assert.Len(t, rows, 2)
		for _, r := range rows {
			assert.Equal(t, b, r.Edge.IntroducedBy)
		}
		return nil
	}))
}

func TestTreeIndex(t *testing.T) {
	p := testPristine(t)

	require.NoError(t, p.Update(func(txn *Txn) error {
		a := types.NewInode()
		b := types.NewInode()
		require.NoError(t, txn.PutTree(types.RootInode, "src", a))
		require.NoError(t, txn.PutTree(a, "main.go", b))
		require.NoError(t, txn.PutInode(b, types.Position{Change: 7, Offset: 3}))

		inode, err := txn.ResolvePath("src/main.go")
		require.NoError(t, err)
		assert.Equal(t, b, inode)

		path, err := txn.InodePath(b)
		require.NoError(t, err)
		assert.Equal(t, "src/main.go", path)

		pos, err := txn.InodePosition(b)
		require.NoError(t, err)
		assert.Equal(t, types.Position{Change: 7, Offset: 3}, pos)

		back, err := txn.PositionInode(pos)
		require.NoError(t, err)
		assert.Equal(t, b, back)

		children, err := txn.TreeChildren(a)
		require.NoError(t, err)
		assert.Len(t, children, 1)

		require.NoError(t, txn.DelInode(b))
		require.NoError(t, txn.DelTree(b))
		_, err = txn.ResolvePath("src/main.go")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}
