// Package handle implements a handle-indexed resource manager. A table of descriptors is built from an
// index file; each descriptor names a resource file and owns one block in a bounded heap. Resolving a
// handle returns the resource's bytes, loading them on first use and reloading them after the heap
// has discarded them.
package handle

import (
	"github.com/somaen/residual/decompression"
)

// Handle is an opaque reference to a resource. The high bits select a descriptor in the table, the low
// bits are a byte offset within that descriptor's data. The split depends on the IndexFormat.
type Handle uint32

// NoHandle is the handle value that references nothing
const NoHandle Handle = 0

// PlaceholderSize is the size recorded for table entries that pad the index and have no data
const PlaceholderSize uint32 = 8

// IndexFormat describes one layout of the index file and of the handles that refer into it
type IndexFormat struct {
	Name string
	// RecordSize is the size in bytes of one index record
	RecordSize int
	// SizeMask isolates the resource size in the size word. Bits outside the mask hold flags unless
	// ExtendedFlags is set.
	SizeMask uint32
	// ExtendedFlags indicates that flags are read from the trailing flags word instead of the size word
	ExtendedFlags bool
	// HandleShift is the number of offset bits in a Handle
	HandleShift uint
	// Compression is the codec used for entries flagged Compressed. None rejects compressed entries.
	Compression decompression.Method
}

var (
	// FormatV1 has 20-byte records with flags packed into the top byte of the size word
	FormatV1 = IndexFormat{
		Name:        "V1",
		RecordSize:  20,
		SizeMask:    0x00FFFFFF,
		HandleShift: 23,
		Compression: decompression.None,
	}
	// FormatV2 adds a trailing flags word that carries the disc numbers. Other flags stay packed in
	// the size word.
	FormatV2 = IndexFormat{
		Name:        "V2",
		RecordSize:  24,
		SizeMask:    0x00FFFFFF,
		HandleShift: 25,
		Compression: decompression.None,
	}
	// FormatV3 uses the whole size word for the size and reads every flag from the trailing word.
	// Compressed entries are LZSS coded.
	FormatV3 = IndexFormat{
		Name:          "V3",
		RecordSize:    24,
		SizeMask:      0xFFFFFFFF,
		ExtendedFlags: true,
		HandleShift:   25,
		Compression:   decompression.LZSS,
	}
)

// OffsetMask isolates the offset bits of a Handle
func (f IndexFormat) OffsetMask() uint32 {
	return uint32(1)<<f.HandleShift - 1
}

// Split separates a handle into its table index and byte offset
func (f IndexFormat) Split(h Handle) (int, uint32) {
	return int(uint32(h) >> f.HandleShift), uint32(h) & f.OffsetMask()
}

// Handle builds the handle for offset bytes into the entry at index
func (f IndexFormat) Handle(index int, offset uint32) Handle {
	return Handle(uint32(index)<<f.HandleShift | offset&f.OffsetMask())
}

func (f IndexFormat) hasFlagsWord() bool {
	return f.RecordSize == 24
}
