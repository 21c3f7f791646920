package decompression

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Method identifies the codec a resource was stored with
type Method uint16

const (
	None Method = iota
	LZSS
	Explode
	Deflate
)

var methodMapping = map[Method]string{
	None:    "None",
	LZSS:    "LZSS",
	Explode: "Explode",
	Deflate: "Deflate",
}

func (m Method) String() string {
	if name, ok := methodMapping[m]; ok {
		return name
	}
	return "Unknown"
}

var (
	// ErrShortOutput is returned when a stream ends before the expected number of bytes was produced
	ErrShortOutput = errors.New("decompression: short output")
	// ErrCorruptStream is returned when a stream references data it cannot contain or overruns its output
	ErrCorruptStream = errors.New("decompression: corrupt stream")
	// ErrUnknownMethod is returned for methods that have no registered decompressor
	ErrUnknownMethod = errors.New("decompression: unknown method")
)

// Decompressor reads at most compressedSize bytes from src and writes the decoded bytes into dst,
// which holds at least decompressedSize bytes. It returns the number of bytes written.
type Decompressor = func(src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error)

type LUT map[Method]Decompressor

// Decompress runs the decompressor registered for method and fails with ErrShortOutput unless exactly
// decompressedSize bytes were produced
func (l LUT) Decompress(method Method, src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error) {
	decompressor, ok := l[method]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownMethod, "method %d", method)
	}

	if len(dst) < decompressedSize {
		return 0, errors.Newf("destination holds %d bytes but %d are expected", len(dst), decompressedSize)
	}

	n, err := decompressor(src, dst[:decompressedSize], compressedSize, decompressedSize)
	if err != nil {
		return n, errors.Wrapf(err, "%s", method)
	}

	if n != decompressedSize {
		return n, errors.Wrapf(ErrShortOutput, "%s: expected %d bytes got %d bytes", method, decompressedSize, n)
	}

	return n, nil
}

// Decompress runs a method from the Default table
func Decompress(method Method, src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error) {
	return Default.Decompress(method, src, dst, compressedSize, decompressedSize)
}

func DecompressNone(src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error) {
	size := min(compressedSize, len(dst))
	n, err := io.ReadFull(src, dst[:size])
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Default holds every codec. Explode runs with a 4K window and no literal tree; use PakLUT for
// archive entries that carry their own explode flags.
var Default = LUT{
	None:    DecompressNone,
	LZSS:    DecompressLZSS,
	Explode: NewExploder(0),
	Deflate: DecompressDeflate,
}

// PakMethod maps the compression flag byte of a PAK entry to a Method
func PakMethod(flag byte) (Method, bool) {
	switch flag {
	case 0:
		return None, true
	case 1:
		return Explode, true
	case 4:
		return Deflate, true
	}
	return 0, false
}

// PakLUT returns a table whose Explode entry honors the info byte of a PAK entry
func PakLUT(info byte) LUT {
	return LUT{
		None:    DecompressNone,
		Explode: NewExploder(ExplodeFlags(info)),
		Deflate: DecompressDeflate,
	}
}
