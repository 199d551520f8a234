package workingcopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]Provider {
	t.Helper()
	return map[string]Provider{
		"memory": NewMemory(),
		"dir":    NewDir(t.TempDir()),
	}
}

func TestReadWriteRemove(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.Read("a.txt")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, p.Write("a.txt", []byte("hello\n")))
			require.NoError(t, p.Write("sub/dir/b.txt", []byte("world\n")))

			b, err := p.Read("a.txt")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello\n"), b)

			files, err := p.List()
			require.NoError(t, err)
			assert.Equal(t, []string{"a.txt", "sub/dir/b.txt"}, files)

			require.NoError(t, p.Remove("a.txt"))
			require.NoError(t, p.Remove("a.txt"))
			_, err = p.Read("a.txt")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDirSkipsRepoDir(t *testing.T) {
	d := NewDir(t.TempDir())
	require.NoError(t, d.Write("f.txt", []byte("x")))
	require.NoError(t, d.Write(".pijul/config", []byte("meta")))

	files, err := d.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"f.txt"}, files)
}

func TestMemoryCopiesData(t *testing.T) {
	m := NewMemory()
	data := []byte("abc")
	require.NoError(t, m.Write("f", data))
	data[0] = 'z'

	got, err := m.Read("f")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'q'
	again, err := m.Read("f")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
