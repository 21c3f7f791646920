package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/somaen/residual/memutils"
)

// BlockMetadata represents a single large arena of memory. It manages suballocations within the
// arena, allowing allocations to be requested and freed, as well as enumerated and queried.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It gives the implementation an opportunity
	// to ensure that metadata structures are prepared for allocations, as well as allows the consumer
	// to inform the implementation of the size in bytes of the arena it will be managing.
	Init(size int)
	// Size retrieves the size in bytes that the arena was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive.
	// When the implementation is functioning correctly, it should not be possible for this method
	// to return an error.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the implementation.
	AllocationCount() int
	// FreeRegionsCount returns the number of unique regions of free memory in the arena.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes of memory in the arena.
	SumFreeSize() int
	// IsEmpty will return true if this arena has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// the arena, in ascending offset order. This is slow and should be reserved for diagnostics
	// and compaction.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset in bytes of a live region
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userdata value provided by the consumer for a live allocation
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)
	// SetAllocationUserData replaces the userdata value of a live allocation
	SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error

	// AddDetailedStatistics sums this arena's allocation statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this arena's allocation statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this arena
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption accepts the underlying memory that this metadata manages. It will return
	// nil if anti-corruption markers are present for every suballocation. Markers are only
	// written when memutils is built with the debug_mem_utils build tag.
	CheckCorruption(arena []byte) error

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where the implementation
	// would prefer to allocate the requested memory. That object can be passed to Alloc to commit the
	// allocation. The boolean return is false when no free region can hold the allocation.
	//
	// maxOffset should usually be math.MaxInt. The request fails if the allocation cannot be placed
	// at an offset below maxOffset, which lets compaction ask only for lower placements.
	CreateAllocationRequest(
		allocSize int, allocAlignment uint,
		strategy AllocationStrategy,
		maxOffset int,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object. The implementation must return an error if the
	// requested free region no longer exists or can no longer hold the request.
	Alloc(request AllocationRequest, userData any) (BlockAllocationHandle, error)

	// Free frees a suballocation, causing it to become a free region once again.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations.
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the arena in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the arena in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// WriteBlockJson populates a json object with summary information about the arena
func (m *BlockMetadataBase) WriteBlockJson(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
