package metadata

import "math"

// BlockAllocationHandle is a numeric handle used to identify individual regions within the metadata
type BlockAllocationHandle uint64

const (
	// NoAllocation is the handle value that never identifies a live region
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation describes a single allocated region of an arena
type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
