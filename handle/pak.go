package handle

import (
	"encoding/binary"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/somaen/residual/archive"
	"github.com/somaen/residual/decompression"
)

// PakExtension is appended to archive names to find the archive file
const PakExtension = ".PAK"

const pakEntryHeaderSize = 4 + 4 + 1 + 1 + 2

// PakEntry is the header of one entry in a PAK archive
type PakEntry struct {
	// DiscSize is the number of bytes the entry occupies in the archive
	DiscSize uint32
	// UncompressedSize is the size of the entry once decoded
	UncompressedSize uint32
	// Compression is the archive's compression flag: 0 stored, 1 imploded, 4 deflated
	Compression byte
	// Info holds the explode flags for imploded entries
	Info byte
	Name string

	dataOffset int64
}

// Method returns the codec for the entry
func (e *PakEntry) Method() (decompression.Method, error) {
	method, ok := decompression.PakMethod(e.Compression)
	if !ok {
		return 0, errors.Wrapf(decompression.ErrUnknownMethod, "PAK compression flag %d", e.Compression)
	}
	return method, nil
}

// Size returns the number of bytes the entry decodes to
func (e *PakEntry) Size() uint32 {
	if e.Compression == 0 {
		return e.DiscSize
	}
	return e.UncompressedSize
}

// PakName returns the descriptor name that refers to entry index of the named archive
func PakName(archiveName string, index int) string {
	return archiveName + ":" + strconv.Itoa(index)
}

// ParsePakName splits a descriptor name produced by PakName
func ParsePakName(name string) (string, int, bool) {
	archiveName, indexText, found := strings.Cut(name, ":")
	if !found || archiveName == "" {
		return "", 0, false
	}

	index, err := strconv.Atoi(indexText)
	if err != nil || index < 0 {
		return "", 0, false
	}

	return archiveName, index, true
}

func openPak(fsys fs.FS, archiveName string) (fs.File, error) {
	f, err := archive.Open(fsys, archiveName+PakExtension)
	if err != nil {
		return nil, errors.Wrapf(ErrFileMissing, "%s%s: %v", archiveName, PakExtension, err)
	}
	return f, nil
}

func readUint32At(f fs.File, offset int64) (uint32, error) {
	r, err := archive.Section(f, offset, 4)
	if err != nil {
		return 0, err
	}

	var buf [4]byte
	_, err = io.ReadFull(r, buf[:])
	if err != nil {
		return 0, errors.Wrapf(ErrFileCorrupt, "read at %d: %v", offset, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// PakCount returns the number of entries in the named archive
func PakCount(fsys fs.FS, archiveName string) (int, error) {
	f, err := openPak(fsys, archiveName)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return pakCount(f)
}

func pakCount(f fs.File) (int, error) {
	first, err := readUint32At(f, 4)
	if err != nil {
		return 0, err
	}

	count := int(first/4) - 2
	if count < 0 {
		return 0, errors.Wrapf(ErrFileCorrupt, "first entry offset %d", first)
	}
	return count, nil
}

func readPakEntry(f fs.File, index int) (PakEntry, error) {
	offset, err := readUint32At(f, int64(index+1)*4)
	if err != nil {
		return PakEntry{}, errors.Wrapf(err, "entry %d offset", index)
	}

	// The entry starts with the size of an additional descriptor that is not used for loading
	headerOffset := int64(offset) + 4
	r, err := archive.Section(f, headerOffset, pakEntryHeaderSize)
	if err != nil {
		return PakEntry{}, err
	}

	var header [pakEntryHeaderSize]byte
	_, err = io.ReadFull(r, header[:])
	if err != nil {
		return PakEntry{}, errors.Wrapf(ErrFileCorrupt, "entry %d header: %v", index, err)
	}

	entry := PakEntry{
		DiscSize:         binary.LittleEndian.Uint32(header[0:4]),
		UncompressedSize: binary.LittleEndian.Uint32(header[4:8]),
		Compression:      header[8],
		Info:             header[9],
	}
	nameLength := int64(binary.LittleEndian.Uint16(header[10:12]))

	r, err = archive.Section(f, headerOffset+pakEntryHeaderSize, nameLength)
	if err != nil {
		return PakEntry{}, err
	}
	nameField := make([]byte, nameLength)
	_, err = io.ReadFull(r, nameField)
	if err != nil {
		return PakEntry{}, errors.Wrapf(ErrFileCorrupt, "entry %d name: %v", index, err)
	}
	if len(nameField) > 2 {
		entry.Name, err = archive.DecodeName(nameField[2:])
		if err != nil {
			return PakEntry{}, errors.Wrapf(ErrFileCorrupt, "entry %d name: %v", index, err)
		}
	}

	entry.dataOffset = headerOffset + pakEntryHeaderSize + nameLength
	return entry, nil
}

// ReadPakEntry returns the header of entry index in the named archive
func ReadPakEntry(fsys fs.FS, archiveName string, index int) (PakEntry, error) {
	f, err := openPak(fsys, archiveName)
	if err != nil {
		return PakEntry{}, err
	}
	defer f.Close()

	return readPakEntry(f, index)
}

// PakDescriptors builds a handle table over every entry of the named archive. Each entry is
// discardable and named with PakName.
func PakDescriptors(fsys fs.FS, archiveName string) ([]Descriptor, error) {
	f, err := openPak(fsys, archiveName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	count, err := pakCount(f)
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, count)
	for i := 0; i < count; i++ {
		entry, err := readPakEntry(f, i)
		if err != nil {
			return nil, err
		}

		flags := FlagDiscard
		if entry.Compression != 0 {
			flags |= FlagCompressed
		}

		descriptors = append(descriptors, Descriptor{
			Name:  PakName(archiveName, i),
			Size:  entry.Size(),
			Flags: flags,
		})
	}

	return descriptors, nil
}

// PakLoader loads resources whose descriptor names refer to PAK archive entries
type PakLoader struct {
	fsys fs.FS
}

var _ Loader = &PakLoader{}

func NewPakLoader(fsys fs.FS) *PakLoader {
	return &PakLoader{fsys: fsys}
}

func (l *PakLoader) Load(d *Descriptor, dst []byte) (int, error) {
	archiveName, index, ok := ParsePakName(d.Name)
	if !ok {
		return 0, errors.Wrapf(ErrFileMissing, "%q does not name a PAK entry", d.Name)
	}

	f, err := openPak(l.fsys, archiveName)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	entry, err := readPakEntry(f, index)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", d.Name)
	}

	method, err := entry.Method()
	if err != nil {
		return 0, errors.Wrapf(ErrFileCorrupt, "%s: %v", d.Name, err)
	}

	size := int(entry.Size())
	if size > len(dst) {
		return 0, errors.Wrapf(ErrFileCorrupt, "%s: entry holds %d bytes but the descriptor records %d", d.Name, size, d.Size)
	}

	r, err := archive.Section(f, entry.dataOffset, int64(entry.DiscSize))
	if err != nil {
		return 0, err
	}

	n, err := decompression.PakLUT(entry.Info).Decompress(method, r, dst, int(entry.DiscSize), size)
	if errors.Is(err, decompression.ErrShortOutput) || errors.Is(err, decompression.ErrCorruptStream) {
		return n, errors.Wrapf(ErrFileCorrupt, "%s: %v", d.Name, err)
	}

	return n, err
}
