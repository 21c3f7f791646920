package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestTLSF indicates that the allocation request was sourced from metadata.TLSFBlockMetadata
	AllocationRequestTLSF AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestTLSF: "TLSF",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. The caller may inspect Offset before committing the
// request with BlockMetadata.Alloc; a request that is never committed leaves the metadata unchanged.
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free region the allocation will be carved from
	BlockAllocationHandle BlockAllocationHandle
	// Size is the size in bytes of the allocation
	Size int
	// Offset is the aligned offset in bytes within the block that the allocation will start at
	Offset int
	// Type identifies the BlockMetadata implementation used to generate this request
	Type AllocationRequestType
}
