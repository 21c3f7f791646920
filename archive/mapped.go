package archive

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// MappedFS is a read-only fs.FS over a directory whose files are memory mapped when opened. Each open
// file holds its own mapping until it is closed.
type MappedFS struct {
	dir string
}

var _ fs.ReadDirFS = &MappedFS{}

func NewMappedFS(dir string) *MappedFS {
	return &MappedFS{dir: dir}
}

func (m *MappedFS) path(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return filepath.Join(m.dir, filepath.FromSlash(name)), nil
}

func (m *MappedFS) Open(name string) (fs.File, error) {
	path, err := m.path("open", name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return os.DirFS(m.dir).Open(name)
	}

	data, unmap, err := mapFile(path)
	if err != nil {
		return nil, &fs.PathError{Op: "mmap", Path: name, Err: err}
	}

	return &mappedFile{
		Reader: bytes.NewReader(data),
		info:   info,
		unmap:  unmap,
	}, nil
}

func (m *MappedFS) ReadDir(name string) ([]fs.DirEntry, error) {
	path, err := m.path("readdir", name)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(path)
}

type mappedFile struct {
	*bytes.Reader
	info fs.FileInfo

	closeOnce sync.Once
	unmap     func() error
	closeErr  error
}

func (f *mappedFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *mappedFile) Close() error {
	f.closeOnce.Do(func() {
		f.Reader = bytes.NewReader(nil)
		f.closeErr = f.unmap()
	})
	return f.closeErr
}
