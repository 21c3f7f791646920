package handle

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/somaen/residual/archive"
	"github.com/somaen/residual/decompression"
)

// Loader fills a resource's storage with its bytes. dst holds at least d.Size bytes. Load returns the
// number of bytes written; the manager treats fewer than d.Size bytes as a corrupt file.
type Loader interface {
	Load(d *Descriptor, dst []byte) (int, error)
}

// FileLoader reads each resource from the file named by its descriptor
type FileLoader struct {
	fsys   fs.FS
	method decompression.Method
	lut    decompression.LUT
}

var _ Loader = &FileLoader{}

// NewFileLoader creates a loader that opens resources in fsys. Resources flagged Compressed are
// decoded with method; decompression.None makes compressed resources fail to load.
func NewFileLoader(fsys fs.FS, method decompression.Method) *FileLoader {
	return &FileLoader{
		fsys:   fsys,
		method: method,
		lut:    decompression.Default,
	}
}

func (l *FileLoader) Load(d *Descriptor, dst []byte) (int, error) {
	f, err := archive.Open(l.fsys, d.Name)
	if err != nil {
		return 0, errors.Wrapf(ErrFileMissing, "%s: %v", d.Name, err)
	}
	defer f.Close()

	size := int(d.Size)

	if !d.IsCompressed() {
		n, err := decompression.DecompressNone(f, dst, size, size)
		if err != nil {
			return n, errors.Wrapf(err, "read %s", d.Name)
		}
		if n != size {
			return n, errors.Wrapf(ErrFileCorrupt, "%s: expected %d bytes got %d bytes", d.Name, size, n)
		}
		return n, nil
	}

	if l.method == decompression.None {
		return 0, errors.Wrapf(ErrFileCorrupt, "%s: compressed resources are not supported", d.Name)
	}

	compressedSize, err := archive.Size(f)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", d.Name)
	}

	n, err := l.lut.Decompress(l.method, f, dst, int(compressedSize), size)
	if errors.Is(err, decompression.ErrShortOutput) || errors.Is(err, decompression.ErrCorruptStream) {
		return n, errors.Wrapf(ErrFileCorrupt, "%s: %v", d.Name, err)
	}

	return n, err
}
