package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/logging"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
	"github.com/und3fined/pijul/pkg/workingcopy"
)

type fixture struct {
	p     *pristine.Pristine
	store *changestore.Memory
	ap    *apply.Applier
	out   *Outputter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p, err := pristine.Open(pristine.Config{InMemory: true, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	store := changestore.NewMemory()
	return &fixture{
		p:     p,
		store: store,
		ap:    &apply.Applier{Store: store, Logger: logging.Discard()},
		out:   &Outputter{Store: store, Logger: logging.Discard()},
	}
}

func (f *fixture) put(t *testing.T, msg string, deps []types.Hash, atoms []change.Atom, contents []byte) types.Hash {
	t.Helper()
	h, err := f.store.Put(&change.Change{
		Header: change.Header{
			Message:   msg,
			Author:    change.Author{Name: "test"},
			Timestamp: time.Unix(1700000000, 0).UTC(),
		},
		Dependencies: deps,
		Atoms:        atoms,
		Contents:     contents,
	})
	require.NoError(t, err)
	return h
}

func (f *fixture) apply(t *testing.T, ch string, hashes ...types.Hash) {
	t.Helper()
	err := f.p.Update(func(txn *pristine.Txn) error {
		c, err := txn.OpenChannel(ch)
		if err != nil {
			c, err = txn.CreateChannel(ch)
			if err != nil {
				return err
			}
		}
		for _, h := range hashes {
			if _, _, _, err := f.ap.Apply(txn, c, h); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) retrieve(t *testing.T, ch string, pos types.Position) []Segment {
	t.Helper()
	var segs []Segment
	err := f.p.View(func(txn *pristine.Txn) error {
		c, err := txn.OpenChannel(ch)
		if err != nil {
			return err
		}
		segs, err = f.out.Retrieve(txn, c, pos)
		return err
	})
	require.NoError(t, err)
	return segs
}

func insertAtRoot(start, end uint64) change.Atom {
	return change.NewVertex{
		UpContext: []change.Position{change.PositionRoot},
		Start:     start,
		End:       end,
		Inode:     change.PositionRoot,
	}
}

func TestRetrieveLinear(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, "first", nil, []change.Atom{insertAtRoot(0, 6)}, []byte("hello\n"))
	b := f.put(t, "second", []types.Hash{a}, []change.Atom{change.NewVertex{
		UpContext: []change.Position{{Change: a, Offset: 5}},
		Start:     0,
		End:       6,
		Inode:     change.PositionRoot,
	}}, []byte("world\n"))

	f.apply(t, "main", a, b)
	segs := f.retrieve(t, "main", types.RootPosition)
	assert.False(t, HasConflicts(segs))
	assert.Equal(t, []byte("hello\nworld\n"), FileText(segs))
}

func TestRetrieveInsertBefore(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, "first", nil, []change.Atom{insertAtRoot(0, 6)}, []byte("hello\n"))
	b := f.put(t, "before", []types.Hash{a}, []change.Atom{change.NewVertex{
		UpContext:   []change.Position{change.PositionRoot},
		DownContext: []change.Position{{Change: a, Offset: 0}},
		Start:       0,
		End:         6,
		Inode:       change.PositionRoot,
	}}, []byte("intro\n"))

	f.apply(t, "main", a, b)
	assert.Equal(t, []byte("intro\nhello\n"), FileText(f.retrieve(t, "main", types.RootPosition)))
}

func TestRetrieveMiddleInsertion(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, "init", nil, []change.Atom{insertAtRoot(0, 4)}, []byte("abcd"))
	b := f.put(t, "insert", []types.Hash{a}, []change.Atom{change.NewVertex{
		UpContext:   []change.Position{{Change: a, Offset: 1}},
		DownContext: []change.Position{{Change: a, Offset: 2}},
		Start:       0,
		End:         1,
		Inode:       change.PositionRoot,
	}}, []byte("X"))

	f.apply(t, "main", a, b)
	assert.Equal(t, []byte("abXcd"), FileText(f.retrieve(t, "main", types.RootPosition)))
}

func TestRetrieveOrderConflictDeterministic(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, "left", nil, []change.Atom{insertAtRoot(0, 2)}, []byte("a\n"))
	b := f.put(t, "right", nil, []change.Atom{insertAtRoot(0, 2)}, []byte("b\n"))

	f.apply(t, "ab", a, b)
	f.apply(t, "ba", b, a)

	segsAB := f.retrieve(t, "ab", types.RootPosition)
	segsBA := f.retrieve(t, "ba", types.RootPosition)
	require.True(t, HasConflicts(segsAB))

	text := FileText(segsAB)
	assert.Equal(t, text, FileText(segsBA))
	assert.Contains(t, string(text), markerStart)
	assert.Contains(t, string(text), "a\n")
	assert.Contains(t, string(text), "b\n")

	var conflict Conflict
	for _, s := range segsAB {
		if c, ok := s.(Conflict); ok {
			conflict = c
		}
	}
	assert.Equal(t, apply.ConflictOrder, conflict.Kind)
	assert.Len(t, conflict.Sides, 2)
}

func TestRetrieveDeletedFileIsEmpty(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, "init", nil, []change.Atom{insertAtRoot(0, 2)}, []byte("ab"))
	b := f.put(t, "delete", []types.Hash{a}, []change.Atom{change.EdgeMap{
		Inode: change.PositionRoot,
		Edges: []change.NewEdge{{
			Previous:     types.Block,
			Flags:        types.Block | types.Deleted,
			From:         change.PositionRoot,
			To:           change.Position{Change: a, Offset: 0},
			ToEnd:        2,
			IntroducedBy: a,
		}},
	}}, nil)

	f.apply(t, "main", a, b)
	segs := f.retrieve(t, "main", types.RootPosition)
	assert.Empty(t, FileText(segs))
}

func TestRetrieveZombie(t *testing.T) {
	// B deletes A's content; C, recorded without B, keeps it as the
	// down context of an insertion. The content survives as a zombie.
	f := newFixture(t)
	a := f.put(t, "init", nil, []change.Atom{insertAtRoot(0, 2)}, []byte("ab"))
	b := f.put(t, "delete", []types.Hash{a}, []change.Atom{change.EdgeMap{
		Inode: change.PositionRoot,
		Edges: []change.NewEdge{{
			Previous:     types.Block,
			Flags:        types.Block | types.Deleted,
			From:         change.PositionRoot,
			To:           change.Position{Change: a, Offset: 0},
			ToEnd:        2,
			IntroducedBy: a,
		}},
	}}, nil)
	c := f.put(t, "keep", []types.Hash{a}, []change.Atom{change.NewVertex{
		UpContext:   []change.Position{change.PositionRoot},
		DownContext: []change.Position{{Change: a, Offset: 0}},
		Start:       0,
		End:         1,
		Inode:       change.PositionRoot,
	}}, []byte("x"))

	f.apply(t, "main", a, b, c)
	segs := f.retrieve(t, "main", types.RootPosition)
	require.True(t, HasConflicts(segs))

	text := string(FileText(segs))
	assert.Contains(t, text, markerZombie)
	assert.Contains(t, text, "ab")
	assert.Contains(t, text, "x")
}

func TestRetrievePartialDeletion(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, "init", nil, []change.Atom{insertAtRoot(0, 4)}, []byte("abcd"))
	b := f.put(t, "cut middle", []types.Hash{a}, []change.Atom{change.EdgeMap{
		Inode: change.PositionRoot,
		Edges: []change.NewEdge{{
			Previous:     types.Block,
			Flags:        types.Block | types.Deleted,
			From:         change.Position{Change: a, Offset: 0},
			To:           change.Position{Change: a, Offset: 1},
			ToEnd:        2,
			IntroducedBy: a,
		}},
	}}, nil)

	f.apply(t, "main", a, b)
	assert.Equal(t, []byte("acd"), FileText(f.retrieve(t, "main", types.RootPosition)))
}

func fileAtoms(name, body string) ([]change.Atom, []byte) {
	nameEnd := uint64(len(name))
	bodyStart := nameEnd + 1
	bodyEnd := bodyStart + uint64(len(body))
	contents := make([]byte, bodyEnd)
	copy(contents, name)
	copy(contents[bodyStart:], body)

	return []change.Atom{
		change.NewVertex{
			UpContext: []change.Position{change.PositionRoot},
			Flags:     types.Folder,
			Start:     0,
			End:       nameEnd,
			Inode:     change.PositionRoot,
		},
		change.NewVertex{
			UpContext: []change.Position{{Offset: nameEnd - 1}},
			Flags:     types.Folder,
			Start:     nameEnd,
			End:       nameEnd,
			Inode:     change.PositionRoot,
		},
		change.NewVertex{
			UpContext: []change.Position{{Offset: nameEnd}},
			Start:     bodyStart,
			End:       bodyEnd,
			Inode:     change.Position{Offset: nameEnd},
		},
	}, contents
}

func TestOutputRepository(t *testing.T) {
	f := newFixture(t)
	atomsA, contentsA := fileAtoms("f.txt", "hi\n")
	a := f.put(t, "add f", nil, atomsA, contentsA)
	atomsB, contentsB := fileAtoms("g.txt", "yo\n")
	b := f.put(t, "add g", nil, atomsB, contentsB)

	f.apply(t, "main", a, b)

	wc := workingcopy.NewMemory()
	require.NoError(t, f.out.OutputRepository(f.p, "main", wc))

	got, err := wc.Read("f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi\n"), got)

	got, err = wc.Read("g.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("yo\n"), got)
}

func TestFileTextMarkers(t *testing.T) {
	segs := []Segment{
		Text{Bytes: []byte("keep\n")},
		Conflict{Kind: apply.ConflictOrder, Sides: [][]Segment{
			{Text{Bytes: []byte("one\n")}},
			{Text{Bytes: []byte("two\n")}},
		}},
		Text{Bytes: []byte("tail\n")},
	}
	want := "keep\n>>>>>>> 1\none\n======= 2\ntwo\n<<<<<<<\ntail\n"
	assert.Equal(t, want, string(FileText(segs)))
}
