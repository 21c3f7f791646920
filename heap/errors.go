package heap

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is returned when the arena has no free region that can hold a request. The heap
	// never discards blocks to satisfy an allocation; callers should run DiscardLRU and try again.
	ErrOutOfMemory = errors.New("heap: out of memory")
	// ErrDiscarded is returned when a block without storage is locked
	ErrDiscarded = errors.New("heap: block has been discarded")
	// ErrInvalidBlock is returned for handles that were never allocated or have been freed
	ErrInvalidBlock = errors.New("heap: invalid block handle")
	// ErrBlockLocked is returned when an operation would move or release a block that is locked
	ErrBlockLocked = errors.New("heap: block is locked")
	// ErrNotLocked is returned by Unlock for a block with no outstanding locks
	ErrNotLocked = errors.New("heap: block is not locked")
	// ErrNotDiscardable is returned by Discard for Fixed blocks and pinned blocks
	ErrNotDiscardable = errors.New("heap: block is not discardable")
	// ErrInvalidFlags is returned for flag combinations that do not describe a block class
	ErrInvalidFlags = errors.New("heap: invalid allocation flags")
)
