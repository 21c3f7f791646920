// Package archive opens the files that back a resource table. Names in resource indexes are DOS
// names, so lookups fall back to a case-insensitive match against the directory listing.
package archive

import (
	"io"
	"io/fs"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNotSeekable is returned when a file opened from an archive FS cannot be positioned
var ErrNotSeekable = errors.New("archive: file does not support seeking")

// Open opens name in fsys. If no file has exactly that name, the first entry in the same directory
// whose name matches ignoring case is opened instead. The returned error wraps fs.ErrNotExist when
// neither lookup finds a file.
func Open(fsys fs.FS, name string) (fs.File, error) {
	f, err := fsys.Open(name)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	resolved, ok := lookupFold(fsys, name)
	if !ok {
		return nil, err
	}

	return fsys.Open(resolved)
}

func lookupFold(fsys fs.FS, name string) (string, bool) {
	dir, base := ".", name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		dir, base = name[:i], name[i+1:]
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(entry.Name(), base) {
			continue
		}
		if dir == "." {
			return entry.Name(), true
		}
		return dir + "/" + entry.Name(), true
	}

	return "", false
}

// Size returns the size in bytes of an open file
func Size(f fs.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SeekTo positions f at offset bytes from its start
func SeekTo(f fs.File, offset int64) error {
	seeker, ok := f.(io.Seeker)
	if !ok {
		return errors.Wrapf(ErrNotSeekable, "%T", f)
	}

	_, err := seeker.Seek(offset, io.SeekStart)
	return err
}

// Section returns a reader over size bytes of f starting at offset. Files that implement io.ReaderAt
// are read without moving their position.
func Section(f fs.File, offset, size int64) (io.Reader, error) {
	if readerAt, ok := f.(io.ReaderAt); ok {
		return io.NewSectionReader(readerAt, offset, size), nil
	}

	err := SeekTo(f, offset)
	if err != nil {
		return nil, err
	}
	return io.LimitReader(f, size), nil
}
