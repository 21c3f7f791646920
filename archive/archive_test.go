package archive_test

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/somaen/residual/archive"
	"github.com/stretchr/testify/require"
)

func TestOpenFoldsCase(t *testing.T) {
	fsys := fstest.MapFS{
		"scene.dat":     {Data: []byte("scene")},
		"disc2/cd2.dat": {Data: []byte("cd")},
	}

	f, err := archive.Open(fsys, "SCENE.DAT")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "scene", string(data))
	require.NoError(t, f.Close())

	f, err = archive.Open(fsys, "disc2/CD2.DAT")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = archive.Open(fsys, "MISSING.DAT")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSection(t *testing.T) {
	fsys := fstest.MapFS{
		"data.bin": {Data: []byte("0123456789")},
	}

	f, err := archive.Open(fsys, "data.bin")
	require.NoError(t, err)
	defer f.Close()

	size, err := archive.Size(f)
	require.NoError(t, err)
	require.Equal(t, int64(10), size)

	r, err := archive.Section(f, 3, 4)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "3456", string(data))

	require.NoError(t, archive.SeekTo(f, 8))
	data, err = io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "89", string(data))
}

func TestNames(t *testing.T) {
	name, err := archive.DecodeName([]byte{'C', 'A', 'F', 0x82, '.', 'S', 'C', 'N', 0, 0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, "CAFé.SCN", name)

	field, err := archive.EncodeName("CAFé.SCN")
	require.NoError(t, err)
	require.Equal(t, [archive.NameSize]byte{'C', 'A', 'F', 0x82, '.', 'S', 'C', 'N'}, field)

	_, err = archive.EncodeName("THIRTEENCHARS")
	require.Error(t, err)
}

func TestMappedFS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index"), []byte{0xde, 0xad, 0xbe, 0xef, 0x42}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.bin"), nil, 0o644))

	fsys := archive.NewMappedFS(dir)

	f, err := archive.Open(fsys, "INDEX")
	require.NoError(t, err)

	r, err := archive.Section(f, 1, 3)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, []byte{0xad, 0xbe, 0xef}, data)

	size, err := archive.Size(f)
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	f, err = fsys.Open("empty.bin")
	require.NoError(t, err)
	data, err = io.ReadAll(f)
	require.NoError(t, err)
	require.Empty(t, data)
	require.NoError(t, f.Close())

	entries, err := fs.ReadDir(fsys, ".")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = fsys.Open("../escape")
	require.ErrorIs(t, err, fs.ErrInvalid)
}
