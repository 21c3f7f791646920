package heap

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/somaen/residual/internal/utils"
	"github.com/somaen/residual/memutils"
	"github.com/somaen/residual/memutils/metadata"
	"golang.org/x/exp/slog"
)

const (
	// DefaultBudget is the arena size used when Options.Budget is zero. It is equal to 4Mb.
	DefaultBudget int = 4 * 1024 * 1024
	// DefaultAlignment is the block alignment used when Options.Alignment is zero
	DefaultAlignment uint = 8
)

// BlockHandle identifies a block descriptor in a Heap. The descriptor outlives the block's storage:
// a discarded block keeps its handle, size and flags until it is freed.
type BlockHandle uint32

// NoBlock is the BlockHandle value that never identifies a block
const NoBlock BlockHandle = math.MaxUint32

// Options contains optional settings when creating a heap
type Options struct {
	// Budget is the size in bytes of the arena. All storage is carved from a single arena of this size.
	Budget int
	// Alignment is the alignment in bytes of every block's storage. It must be a power of two.
	Alignment uint
	// Logger receives debug output for heap operations. slog.Default() is used when nil.
	Logger *slog.Logger
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags
}

type block struct {
	live       bool
	flags      AllocationFlags
	size       int
	alloc      metadata.BlockAllocationHandle
	offset     int
	lockCount  int
	lastAccess uint32
}

func (b *block) hasStorage() bool {
	return b.alloc != metadata.NoAllocation
}

func (b *block) pinned() bool {
	return b.flags&(Fixed|Locked) != 0 || b.lockCount > 0
}

// Heap is a bounded arena of memory that hands out blocks of several classes. Fixed blocks are
// never moved. Moveable blocks may be relocated by Compact, Discardable blocks may additionally lose
// their storage, and Locked blocks are pinned until their flags change.
//
// Slices returned by Lock are views into the arena. They stay valid until the block is discarded,
// reallocated, compacted or freed.
type Heap struct {
	logger   *slog.Logger
	mutex    *utils.OptionalMutex
	zeroFill bool

	alignment uint
	arena     []byte
	metadata  *metadata.TLSFBlockMetadata

	blocks    []block
	freeSlots []BlockHandle
}

var _ memutils.Statistician = &Heap{}

// New creates a new Heap
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(options Options) (*Heap, error) {
	budget := options.Budget
	if budget == 0 {
		budget = DefaultBudget
	}
	if budget < 0 {
		return nil, errors.Newf("heap budget must be positive, but was %d", budget)
	}

	alignment := options.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	if err := memutils.CheckPow2(alignment, "heap.Options.Alignment"); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Heap{
		logger:    logger,
		mutex:     utils.NewOptionalMutex(options.Flags&CreateExternallySynchronized == 0),
		zeroFill:  options.Flags&CreateZeroFill != 0,
		alignment: alignment,
		arena:     make([]byte, budget),
		metadata:  metadata.NewTLSFBlockMetadata(),
	}
	h.metadata.Init(budget)

	logger.Debug("Heap::New", slog.Int("Budget", budget), slog.Int("Alignment", int(alignment)), slog.String("Flags", options.Flags.String()))

	return h, nil
}

// Budget returns the size in bytes of the arena
func (h *Heap) Budget() int {
	return len(h.arena)
}

func (h *Heap) getBlock(handle BlockHandle) (*block, error) {
	if int(handle) >= len(h.blocks) || !h.blocks[handle].live {
		return nil, errors.Wrapf(ErrInvalidBlock, "handle %d", handle)
	}

	return &h.blocks[handle], nil
}

func (h *Heap) newBlock() BlockHandle {
	if len(h.freeSlots) > 0 {
		handle := h.freeSlots[len(h.freeSlots)-1]
		h.freeSlots = h.freeSlots[:len(h.freeSlots)-1]
		return handle
	}

	h.blocks = append(h.blocks, block{alloc: metadata.NoAllocation})
	return BlockHandle(len(h.blocks) - 1)
}

// allocateStorage carves size bytes out of the arena for the block. The block's previous storage,
// if any, is left untouched.
func (h *Heap) allocateStorage(handle BlockHandle, size int, strategy metadata.AllocationStrategy, maxOffset int) (metadata.BlockAllocationHandle, int, error) {
	success, req, err := h.metadata.CreateAllocationRequest(size, h.alignment, strategy, maxOffset)
	if err != nil {
		return metadata.NoAllocation, 0, err
	}
	if !success {
		return metadata.NoAllocation, 0, errors.Wrapf(ErrOutOfMemory, "requested %d bytes with %d of %d bytes free", size, h.metadata.SumFreeSize(), len(h.arena))
	}

	alloc, err := h.metadata.Alloc(req, handle)
	if err != nil {
		return metadata.NoAllocation, 0, err
	}

	memutils.WriteMagicValue(h.arena, req.Offset+size)

	return alloc, req.Offset, nil
}

func (h *Heap) releaseStorage(b *block) error {
	if !b.hasStorage() {
		return nil
	}

	err := h.metadata.Free(b.alloc)
	if err != nil {
		return err
	}

	b.alloc = metadata.NoAllocation
	b.offset = 0
	return nil
}

func (h *Heap) zero(b *block) {
	if h.zeroFill {
		clear(h.arena[b.offset : b.offset+b.size])
	}
}

// Allocate creates a new block. Fixed and Moveable blocks receive storage immediately; a block created
// with NoAlloc has a size but no storage and must be restored with Reallocate before use.
func (h *Heap) Allocate(flags AllocationFlags, size int) (BlockHandle, error) {
	h.logger.Debug("Heap::Allocate", slog.String("Flags", flags.String()), slog.Int("Size", size))

	if !validateFlags(flags) {
		return NoBlock, errors.Wrapf(ErrInvalidFlags, "%s", flags)
	}
	if size < 0 || (size == 0 && flags&NoAlloc == 0) {
		return NoBlock, errors.Newf("invalid block size %d", size)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	handle := h.newBlock()

	b := block{
		live:  true,
		flags: flags &^ NoAlloc,
		size:  size,
		alloc: metadata.NoAllocation,
	}

	if flags&NoAlloc == 0 {
		alloc, offset, err := h.allocateStorage(handle, size, metadata.AllocationStrategyMinMemory, math.MaxInt)
		if err != nil {
			h.freeSlots = append(h.freeSlots, handle)
			return NoBlock, err
		}

		b.alloc = alloc
		b.offset = offset
	}

	h.blocks[handle] = b
	if b.hasStorage() {
		h.zero(&h.blocks[handle])
	}

	memutils.DebugValidate(heapValidator{h})
	return handle, nil
}

// Lock increments the lock count of the block and returns its storage. A locked block is never moved or
// discarded. Each Lock must be paired with an Unlock.
func (h *Heap) Lock(handle BlockHandle) ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return nil, err
	}

	if !b.hasStorage() {
		return nil, errors.Wrapf(ErrDiscarded, "handle %d", handle)
	}

	b.lockCount++
	return h.arena[b.offset : b.offset+b.size : b.offset+b.size], nil
}

// Unlock decrements the lock count of the block
func (h *Heap) Unlock(handle BlockHandle) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return err
	}

	if b.lockCount == 0 {
		return errors.Wrapf(ErrNotLocked, "handle %d", handle)
	}

	b.lockCount--
	return nil
}

// Reallocate changes the size or class of a block. A discarded block receives fresh storage. A block
// whose size changes is moved to new storage with its contents preserved up to the smaller of the two
// sizes. Passing NoAlloc releases the block's storage and records the new size.
func (h *Heap) Reallocate(handle BlockHandle, size int, flags AllocationFlags) error {
	h.logger.Debug("Heap::Reallocate", slog.Int("Handle", int(handle)), slog.Int("Size", size), slog.String("Flags", flags.String()))

	if !validateFlags(flags) {
		return errors.Wrapf(ErrInvalidFlags, "%s", flags)
	}
	if size < 0 || (size == 0 && flags&NoAlloc == 0) {
		return errors.Newf("invalid block size %d", size)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	err := h.reallocate(handle, size, flags)
	if err != nil {
		return err
	}

	memutils.DebugValidate(heapValidator{h})
	return nil
}

func (h *Heap) reallocate(handle BlockHandle, size int, flags AllocationFlags) error {
	b, err := h.getBlock(handle)
	if err != nil {
		return err
	}

	if (b.flags&Fixed != 0) != (flags&Fixed != 0) {
		return errors.Wrapf(ErrInvalidFlags, "cannot change block %d from %s to %s", handle, b.flags, flags)
	}

	if flags&NoAlloc != 0 {
		if b.lockCount > 0 {
			return errors.Wrapf(ErrBlockLocked, "handle %d", handle)
		}

		err = h.releaseStorage(b)
		if err != nil {
			return err
		}

		b.size = size
		b.flags = flags &^ NoAlloc
		return nil
	}

	if !b.hasStorage() {
		alloc, offset, err := h.allocateStorage(handle, size, metadata.AllocationStrategyMinMemory, math.MaxInt)
		if err != nil {
			return err
		}

		b.alloc = alloc
		b.offset = offset
		b.size = size
		b.flags = flags
		h.zero(b)
		return nil
	}

	if size != b.size {
		if b.lockCount > 0 || b.flags&Fixed != 0 {
			return errors.Wrapf(ErrBlockLocked, "cannot resize pinned block %d", handle)
		}

		alloc, offset, err := h.allocateStorage(handle, size, metadata.AllocationStrategyMinMemory, math.MaxInt)
		if err != nil {
			return err
		}

		copied := copy(h.arena[offset:offset+size], h.arena[b.offset:b.offset+b.size])
		if h.zeroFill && copied < size {
			clear(h.arena[offset+copied : offset+size])
		}

		err = h.releaseStorage(b)
		if err != nil {
			return err
		}

		b.alloc = alloc
		b.offset = offset
		b.size = size
	}

	b.flags = flags
	return nil
}

// Discard releases the storage of a Discardable block, keeping its descriptor. Discarding a block that
// has no storage is a no-op.
func (h *Heap) Discard(handle BlockHandle) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return err
	}

	return h.discard(handle, b)
}

func (h *Heap) discard(handle BlockHandle, b *block) error {
	if b.flags&Discardable == 0 {
		return errors.Wrapf(ErrNotDiscardable, "handle %d is %s", handle, b.flags)
	}
	if b.lockCount > 0 {
		return errors.Wrapf(ErrBlockLocked, "handle %d has %d locks", handle, b.lockCount)
	}

	h.logger.Debug("Heap::Discard", slog.Int("Handle", int(handle)), slog.Int("Size", b.size))

	return h.releaseStorage(b)
}

// Free releases the block's storage and its descriptor. The handle may be reused by a later Allocate.
func (h *Heap) Free(handle BlockHandle) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return err
	}

	if b.lockCount > 0 {
		return errors.Wrapf(ErrBlockLocked, "handle %d has %d locks", handle, b.lockCount)
	}

	err = h.releaseStorage(b)
	if err != nil {
		return err
	}

	*b = block{alloc: metadata.NoAllocation}
	h.freeSlots = append(h.freeSlots, handle)

	memutils.DebugValidate(heapValidator{h})
	return nil
}

// Touch records now as the block's last access time
func (h *Heap) Touch(handle BlockHandle, now uint32) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return err
	}

	b.lastAccess = now
	return nil
}

// LastAccess returns the time most recently passed to Touch for the block
func (h *Heap) LastAccess(handle BlockHandle) (uint32, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return 0, err
	}

	return b.lastAccess, nil
}

// IsDiscarded returns true if the block currently has no storage
func (h *Heap) IsDiscarded(handle BlockHandle) (bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return false, err
	}

	return !b.hasStorage(), nil
}

// Size returns the size in bytes of the block, whether or not it currently has storage
func (h *Heap) Size(handle BlockHandle) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return 0, err
	}

	return b.size, nil
}

// Flags returns the class of the block
func (h *Heap) Flags(handle BlockHandle) (AllocationFlags, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	b, err := h.getBlock(handle)
	if err != nil {
		return 0, err
	}

	return b.flags, nil
}

// AddStatistics sums the heap's usage into stats
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.metadata.AddStatistics(stats)
}

// Statistics sums the heap's detailed usage into stats
func (h *Heap) Statistics(stats *memutils.DetailedStatistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.metadata.AddDetailedStatistics(stats)
}

// Validate performs internal consistency checks on the heap. These checks are expensive.
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.validate()
}

// heapValidator runs the consistency checks on a heap whose mutex is already held
type heapValidator struct {
	h *Heap
}

func (v heapValidator) Validate() error {
	return v.h.validate()
}

func (h *Heap) validate() error {
	err := h.metadata.Validate()
	if err != nil {
		return err
	}

	allocCount := 0
	for i := range h.blocks {
		b := &h.blocks[i]
		if !b.live {
			if b.hasStorage() {
				return errors.Newf("freed block %d still owns storage", i)
			}
			continue
		}

		if !b.hasStorage() {
			if b.lockCount > 0 {
				return errors.Newf("block %d is locked but has no storage", i)
			}
			continue
		}

		allocCount++

		offset, err := h.metadata.AllocationOffset(b.alloc)
		if err != nil {
			return errors.Wrapf(err, "block %d", i)
		}
		if offset != b.offset {
			return errors.Newf("block %d records offset %d but its storage is at offset %d", i, b.offset, offset)
		}

		userData, err := h.metadata.AllocationUserData(b.alloc)
		if err != nil {
			return errors.Wrapf(err, "block %d", i)
		}
		if owner, ok := userData.(BlockHandle); !ok || int(owner) != i {
			return errors.Newf("storage of block %d is owned by %v", i, userData)
		}
	}

	if allocCount != h.metadata.AllocationCount() {
		return errors.Newf("%d blocks own storage but the arena holds %d allocations", allocCount, h.metadata.AllocationCount())
	}

	return h.metadata.CheckCorruption(h.arena)
}

// Close releases every block. Blocks that are still locked are logged.
func (h *Heap) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i := range h.blocks {
		b := &h.blocks[i]
		if b.live && b.lockCount > 0 {
			h.logger.Error("unreleased block", slog.Int("Handle", i), slog.Int("Size", b.size), slog.Int("LockCount", b.lockCount), slog.String("Flags", b.flags.String()))
		}
	}

	h.metadata.DebugLogAllAllocations(h.logger, func(log *slog.Logger, offset int, size int, userData any) {
		log.Debug("Heap::Close releasing storage", slog.Int("Offset", offset), slog.Int("Size", size), slog.Any("Handle", userData))
	})

	h.metadata.Clear()
	h.blocks = nil
	h.freeSlots = nil

	return nil
}
