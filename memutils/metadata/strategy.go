package metadata

// AllocationStrategy exposes several options for choosing the location of a new allocation.
// If none is chosen, a balanced strategy will be used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory selects the smallest-possible free range for the allocation to
	// minimize memory usage and fragmentation, possibly at the expense of allocation time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime selects the first suitable free range for the allocation, minimizing
	// allocation time at the expense of allocation quality
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset selects the lowest offset in available space. Used by heap compaction,
	// not recommended in typical usage.
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "AllocationStrategyMinMemory",
	AllocationStrategyMinTime:   "AllocationStrategyMinTime",
	AllocationStrategyMinOffset: "AllocationStrategyMinOffset",
}

func (s AllocationStrategy) String() string {
	return allocationStrategyMapping[s]
}
