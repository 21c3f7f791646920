package heap

import "github.com/somaen/residual/memutils"

// AllocationFlags select the class of a heap block
type AllocationFlags uint32

var allocationFlagsMapping = memutils.NewFlagStringMapping[AllocationFlags]()

func (f AllocationFlags) Register(str string) {
	allocationFlagsMapping.Register(f, str)
}

func (f AllocationFlags) String() string {
	return allocationFlagsMapping.FlagsToString(f)
}

const (
	// Fixed blocks are never moved and never discarded
	Fixed AllocationFlags = 1 << iota
	// Moveable blocks may be relocated by Compact while they are not locked
	Moveable
	// Discardable is a modifier of Moveable. The block's storage may be released by Discard
	// or DiscardLRU and must be restored with Reallocate before it can be locked again
	Discardable
	// Locked is a modifier of Moveable. The block is pinned in place and may not be discarded
	// until it is reallocated without this flag
	Locked
	// NoAlloc creates or leaves the block without storage. Only legal alongside Discardable
	NoAlloc
)

func init() {
	Fixed.Register("Fixed")
	Moveable.Register("Moveable")
	Discardable.Register("Discardable")
	Locked.Register("Locked")
	NoAlloc.Register("NoAlloc")
}

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = memutils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}

func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the heap will not be synchronized internally. The consumer
	// must guarantee it is used from only one goroutine at a time or is synchronized by some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateZeroFill clears block storage whenever it is allocated or restored
	CreateZeroFill
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateZeroFill.Register("CreateZeroFill")
}

func validateFlags(flags AllocationFlags) bool {
	fixed := flags&Fixed != 0
	moveable := flags&Moveable != 0
	if fixed == moveable {
		return false
	}

	if fixed && flags&(Discardable|Locked|NoAlloc) != 0 {
		return false
	}

	if flags&Discardable != 0 && flags&Locked != 0 {
		return false
	}

	if flags&NoAlloc != 0 && flags&Discardable == 0 {
		return false
	}

	return true
}
