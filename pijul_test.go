package pijul

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/logging"
	"github.com/und3fined/pijul/pkg/types"
	"github.com/und3fined/pijul/pkg/workingcopy"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := New(Config{InMemory: true, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	require.NoError(t, r.Init("main"))
	return r
}

func write(t *testing.T, r *Repository, path, data string) {
	t.Helper()
	require.NoError(t, r.WorkingCopy().Write(path, []byte(data)))
}

// recordOn records the given single-file state onto a channel through
// a scratch working copy, leaving the repository's own working copy
// alone. Stands in for a second author sharing the pristine.
func recordOn(r *Repository, channel, msg, path, data string) (types.Hash, error) {
	wc := workingcopy.NewMemory()
	if err := wc.Write(path, []byte(data)); err != nil {
		return types.Hash{}, err
	}
	saved := r.wc
	r.wc = wc
	defer func() { r.wc = saved }()
	return r.Record(channel, msg)
}

func TestRecordOutputRoundTrip(t *testing.T) {
	r := newRepo(t)
	write(t, r, "a.txt", "alpha\n")
	write(t, r, "dir/b.txt", "beta\n")
	_, err := r.Record("main", "initial")
	require.NoError(t, err)

	// scribble over the working copy, then restore it from the channel
	write(t, r, "a.txt", "scribble\n")
	require.NoError(t, r.WorkingCopy().Remove("dir/b.txt"))
	require.NoError(t, r.Output("main"))

	got, err := r.WorkingCopy().Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", string(got))
	got, err = r.WorkingCopy().Read("dir/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "beta\n", string(got))
}

func TestIndependentChangesCommute(t *testing.T) {
	r := newRepo(t)
	write(t, r, "one.txt", "one\n")
	h1, err := r.Record("main", "one")
	require.NoError(t, err)
	write(t, r, "two.txt", "two\n")
	h2, err := r.Record("main", "two")
	require.NoError(t, err)

	require.NoError(t, r.Init("ab"))
	require.NoError(t, r.Init("ba"))
	for _, h := range []types.Hash{h1, h2} {
		_, err := r.Apply("ab", h)
		require.NoError(t, err)
	}
	for _, h := range []types.Hash{h2, h1} {
		_, err := r.Apply("ba", h)
		require.NoError(t, err)
	}

	for _, path := range []string{"one.txt", "two.txt"} {
		ab, err := r.FileText("ab", path)
		require.NoError(t, err)
		ba, err := r.FileText("ba", path)
		require.NoError(t, err)
		assert.Equal(t, string(ab), string(ba))
	}
}

func TestApplyEnforcesDependencies(t *testing.T) {
	r := newRepo(t)
	write(t, r, "f", "v1\n")
	h1, err := r.Record("main", "add")
	require.NoError(t, err)
	write(t, r, "f", "v1\nv2\n")
	h2, err := r.Record("main", "extend")
	require.NoError(t, err)

	require.NoError(t, r.Init("fresh"))
	_, err = r.Apply("fresh", h2)
	var dep *apply.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Equal(t, h1, dep.Missing)

	_, err = r.Apply("fresh", h1)
	require.NoError(t, err)
	_, err = r.Apply("fresh", h2)
	require.NoError(t, err)
	text, err := r.FileText("fresh", "f")
	require.NoError(t, err)
	assert.Equal(t, "v1\nv2\n", string(text))
}

func TestUnrecordGuardAndCascade(t *testing.T) {
	r := newRepo(t)
	write(t, r, "f", "v1\n")
	h1, err := r.Record("main", "add")
	require.NoError(t, err)
	write(t, r, "f", "v1\nv2\n")
	h2, err := r.Record("main", "extend")
	require.NoError(t, err)

	_, err = r.Unrecord("main", h1, false)
	var blocked *apply.DependentsError
	require.ErrorAs(t, err, &blocked)
	assert.Contains(t, blocked.Blocking, h2)

	removed, err := r.Unrecord("main", h1, true)
	require.NoError(t, err)
	assert.Equal(t, []types.Hash{h2, h1}, removed)

	entries, err := r.Log("main")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentEditsConflictAndResolve(t *testing.T) {
	r := newRepo(t)
	write(t, r, "greeting", "hello\nworld\n")
	_, err := r.Record("main", "base")
	require.NoError(t, err)
	require.NoError(t, r.Fork("main", "other"))

	write(t, r, "greeting", "hello\ndear\nworld\n")
	hMain, err := r.Record("main", "main edit")
	require.NoError(t, err)
	hOther, err := recordOn(r, "other", "other edit", "greeting", "hello\ncruel\nworld\n")
	require.NoError(t, err)

	conflicts, err := r.Apply("main", hOther)
	require.NoError(t, err)
	require.NotEmpty(t, conflicts)

	text, err := r.FileText("main", "greeting")
	require.NoError(t, err)
	marked := string(text)
	assert.True(t, strings.Contains(marked, ">>>>>>>"), marked)
	assert.True(t, strings.Contains(marked, "dear\n"), marked)
	assert.True(t, strings.Contains(marked, "cruel\n"), marked)

	// the mirror channel renders the same bytes
	_, err = r.Apply("other", hMain)
	require.NoError(t, err)
	otherText, err := r.FileText("other", "greeting")
	require.NoError(t, err)
	assert.Equal(t, marked, string(otherText))

	// resolve by keeping one line
	write(t, r, "greeting", "hello\ndear\nworld\n")
	_, err = r.Record("main", "resolve")
	require.NoError(t, err)
	resolved, err := r.FileText("main", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello\ndear\nworld\n", string(resolved))
}

func TestChannelsAndLog(t *testing.T) {
	r := newRepo(t)
	write(t, r, "f", "x\n")
	_, err := r.Record("main", "add")
	require.NoError(t, err)
	require.NoError(t, r.Fork("main", "dev"))

	names, err := r.Channels()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "dev"}, names)

	entries, err := r.Log("dev")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRecordNothingToRecord(t *testing.T) {
	r := newRepo(t)
	write(t, r, "f", "x\n")
	_, err := r.Record("main", "add")
	require.NoError(t, err)
	_, err = r.Record("main", "noop")
	assert.ErrorIs(t, err, ErrNothingToRecord)
}

func TestOnDiskRepository(t *testing.T) {
	dir := t.TempDir()
	r, err := New(Config{Path: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, r.Init("main"))

	write(t, r, "f", "persisted\n")
	_, err = r.Record("main", "add")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := New(Config{Path: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { r2.Close() })
	text, err := r2.FileText("main", "f")
	require.NoError(t, err)
	assert.Equal(t, "persisted\n", string(text))
}
