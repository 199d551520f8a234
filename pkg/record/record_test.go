package record

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/logging"
	"github.com/und3fined/pijul/pkg/output"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
	"github.com/und3fined/pijul/pkg/workingcopy"
)

type fixture struct {
	p     *pristine.Pristine
	store *changestore.Memory
	ap    *apply.Applier
	rec   *Recorder
	out   *output.Outputter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p, err := pristine.Open(pristine.Config{InMemory: true, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	store := changestore.NewMemory()
	log := logging.Discard()
	return &fixture{
		p:     p,
		store: store,
		ap:    &apply.Applier{Store: store, Logger: log},
		rec:   &Recorder{Store: store, Logger: log},
		out:   &output.Outputter{Store: store, Logger: log},
	}
}

func header(msg string) change.Header {
	return change.Header{
		Message:   msg,
		Author:    change.Author{Name: "test"},
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

// record builds a change from wc against channel, stores it and
// applies it to the same channel.
func (f *fixture) record(t *testing.T, channel string, wc workingcopy.Provider, msg string) types.Hash {
	t.Helper()
	var h types.Hash
	err := f.p.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			ch, err = txn.CreateChannel(channel)
			if err != nil {
				return err
			}
		}
		c, err := f.rec.Record(txn, ch, wc, header(msg))
		if err != nil {
			return err
		}
		h, err = f.store.Put(c)
		if err != nil {
			return err
		}
		_, _, _, err = f.ap.Apply(txn, ch, h)
		return err
	})
	require.NoError(t, err)
	return h
}

func (f *fixture) apply(t *testing.T, channel string, h types.Hash) apply.ConflictSet {
	t.Helper()
	var conflicts apply.ConflictSet
	err := f.p.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		_, _, conflicts, err = f.ap.Apply(txn, ch, h)
		return err
	})
	require.NoError(t, err)
	return conflicts
}

func (f *fixture) fileText(t *testing.T, channel, path string) string {
	t.Helper()
	var text string
	err := f.p.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		segs, err := f.out.RetrievePath(txn, ch, path)
		if err != nil {
			return err
		}
		text = string(output.FileText(segs))
		return nil
	})
	require.NoError(t, err)
	return text
}

func (f *fixture) files(t *testing.T, channel string) []string {
	t.Helper()
	var paths []string
	err := f.p.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		entries, err := f.out.Files(txn, ch)
		if err != nil {
			return err
		}
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
		return nil
	})
	require.NoError(t, err)
	return paths
}

func (f *fixture) fork(t *testing.T, from, to string) {
	t.Helper()
	err := f.p.Update(func(txn *pristine.Txn) error {
		_, err := txn.ForkChannel(from, to)
		return err
	})
	require.NoError(t, err)
}

func TestRecordNewFile(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("a.txt", []byte("hello\nworld\n")))

	f.record(t, "main", wc, "add a.txt")

	assert.Equal(t, "hello\nworld\n", f.fileText(t, "main", "a.txt"))
	assert.Equal(t, []string{"a.txt"}, f.files(t, "main"))
}

func TestRecordNothing(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("a.txt", []byte("hello\n")))
	f.record(t, "main", wc, "add")

	err := f.p.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel("main")
		require.NoError(t, err)
		_, err = f.rec.Record(txn, ch, wc, header("noop"))
		return err
	})
	assert.ErrorIs(t, err, ErrNothingToRecord)
}

func TestRecordInsertion(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("one\nthree\n")))
	first := f.record(t, "main", wc, "add")

	require.NoError(t, wc.Write("f", []byte("one\ntwo\nthree\n")))
	err := f.p.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel("main")
		require.NoError(t, err)
		c, err := f.rec.Record(txn, ch, wc, header("insert"))
		require.NoError(t, err)
		assert.Equal(t, []types.Hash{first}, c.Dependencies)
		h, err := f.store.Put(c)
		require.NoError(t, err)
		_, _, _, err = f.ap.Apply(txn, ch, h)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "one\ntwo\nthree\n", f.fileText(t, "main", "f"))
}

func TestRecordDeletion(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("one\ntwo\nthree\n")))
	f.record(t, "main", wc, "add")

	require.NoError(t, wc.Write("f", []byte("one\nthree\n")))
	f.record(t, "main", wc, "drop two")

	assert.Equal(t, "one\nthree\n", f.fileText(t, "main", "f"))
}

func TestRecordReplacement(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("aaa\nbbb\nccc\n")))
	f.record(t, "main", wc, "add")

	require.NoError(t, wc.Write("f", []byte("aaa\nBBB\nccc\n")))
	f.record(t, "main", wc, "edit middle")

	assert.Equal(t, "aaa\nBBB\nccc\n", f.fileText(t, "main", "f"))
}

func TestRecordFileDeletion(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("gone\n")))
	f.record(t, "main", wc, "add")

	require.NoError(t, wc.Remove("f"))
	f.record(t, "main", wc, "rm f")

	assert.Empty(t, f.files(t, "main"))
	err := f.p.View(func(txn *pristine.Txn) error {
		_, err := txn.ResolvePath("f")
		assert.ErrorIs(t, err, pristine.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRecordNestedDirectories(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("dir/sub/f.txt", []byte("deep\n")))
	f.record(t, "main", wc, "add nested")

	assert.Equal(t, "deep\n", f.fileText(t, "main", "dir/sub/f.txt"))
	assert.Equal(t, []string{"dir/sub/f.txt"}, f.files(t, "main"))

	// a sibling in an existing directory reuses it
	require.NoError(t, wc.Write("dir/sub/g.txt", []byte("also\n")))
	f.record(t, "main", wc, "add sibling")
	assert.Equal(t, []string{"dir/sub/f.txt", "dir/sub/g.txt"}, f.files(t, "main"))
}

func TestRecordedChangeAppliesElsewhere(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("v1\n")))
	h1 := f.record(t, "main", wc, "add")
	require.NoError(t, wc.Write("f", []byte("v1\nv2\n")))
	h2 := f.record(t, "main", wc, "extend")

	err := f.p.Update(func(txn *pristine.Txn) error {
		ch, err := txn.CreateChannel("copy")
		require.NoError(t, err)
		for _, h := range []types.Hash{h1, h2} {
			if _, _, _, err := f.ap.Apply(txn, ch, h); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	out := workingcopy.NewMemory()
	require.NoError(t, f.out.OutputRepository(f.p, "copy", out))
	got, err := out.Read("f")
	require.NoError(t, err)
	assert.Equal(t, "v1\nv2\n", string(got))
}

func TestRecordConflictResolution(t *testing.T) {
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("a\nc\n")))
	f.record(t, "main", wc, "base")
	f.fork(t, "main", "other")

	require.NoError(t, wc.Write("f", []byte("a\nb1\nc\n")))
	f.record(t, "main", wc, "side one")

	wc2 := workingcopy.NewMemory()
	require.NoError(t, wc2.Write("f", []byte("a\nb2\nc\n")))
	h3 := f.record(t, "other", wc2, "side two")

	conflicts := f.apply(t, "main", h3)
	require.NotEmpty(t, conflicts)

	marked := f.fileText(t, "main", "f")
	assert.True(t, strings.Contains(marked, ">>>>>>>"))
	assert.True(t, strings.Contains(marked, "b1\n"))
	assert.True(t, strings.Contains(marked, "b2\n"))

	// resolve by keeping one side; dropping the other line removes
	// the fork and with it the conflict
	require.NoError(t, wc.Write("f", []byte("a\nb1\nc\n")))
	f.record(t, "main", wc, "resolve")

	assert.Equal(t, "a\nb1\nc\n", f.fileText(t, "main", "f"))
	err := f.p.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel("main")
		require.NoError(t, err)
		segs, err := f.out.RetrievePath(txn, ch, "f")
		require.NoError(t, err)
		assert.False(t, output.HasConflicts(segs))
		return nil
	})
	require.NoError(t, err)
}

func TestDiffLines(t *testing.T) {
	a := splitLines([]byte("a\nb\nc\n"))
	b := splitLines([]byte("a\nx\nc\n"))
	edits := diffLines(a, b)

	var dels, ins int
	for _, e := range edits {
		switch e.op {
		case opDelete:
			dels += e.aEnd - e.aStart
		case opInsert:
			ins += e.bEnd - e.bStart
		}
	}
	assert.Equal(t, 1, dels)
	assert.Equal(t, 1, ins)

	assert.Nil(t, diffLines(nil, nil))
	assert.Empty(t, filterOps(diffLines(a, a), opDelete))
}

func filterOps(edits []edit, op editOp) []edit {
	var out []edit
	for _, e := range edits {
		if e.op == op {
			out = append(out, e)
		}
	}
	return out
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(nil))
	assert.Equal(t, [][]byte{[]byte("a\n"), []byte("b")}, splitLines([]byte("a\nb")))
}

func TestRecordMinimizesDependencies(t *testing.T) {
	// The rewrite touches content of both earlier changes, but the
	// second already depends on the first, so only the second is
	// listed.
	f := newFixture(t)
	wc := workingcopy.NewMemory()
	require.NoError(t, wc.Write("f", []byte("a\n")))
	first := f.record(t, "main", wc, "base")

	require.NoError(t, wc.Write("f", []byte("a\nb\n")))
	second := f.record(t, "main", wc, "extend")

	require.NoError(t, wc.Write("f", []byte("x\ny\n")))
	err := f.p.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel("main")
		require.NoError(t, err)
		c, err := f.rec.Record(txn, ch, wc, header("rewrite"))
		require.NoError(t, err)
		assert.NotContains(t, c.Dependencies, first)
		assert.Equal(t, []types.Hash{second}, c.Dependencies)
		return nil
	})
	require.NoError(t, err)
}
