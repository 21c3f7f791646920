package heap

import (
	"github.com/somaen/residual/memutils"
	"github.com/somaen/residual/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CompactStats describes the work done by a single Compact call
type CompactStats struct {
	BlocksMoved int
	BytesMoved  int
	// LargestFree is the size of the largest free region once compaction has finished
	LargestFree int
}

// Compact slides unlocked Moveable blocks toward the start of the arena so that free space gathers
// into as few regions as possible. Fixed blocks, Locked blocks and blocks with outstanding locks
// stay where they are.
func (h *Heap) Compact() (CompactStats, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var stats CompactStats
	var candidates []metadata.Suballocation

	err := h.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			return nil
		}

		candidates = append(candidates, metadata.Suballocation{Offset: offset, Size: size, UserData: userData})
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, candidate := range candidates {
		owner, ok := candidate.UserData.(BlockHandle)
		if !ok {
			continue
		}

		b := &h.blocks[owner]
		if !b.live || !b.hasStorage() || b.flags&Moveable == 0 || b.pinned() {
			continue
		}

		alloc, offset, err := h.allocateStorage(owner, b.size, metadata.AllocationStrategyMinOffset, candidate.Offset)
		if err != nil {
			// No free region below this block
			continue
		}

		copy(h.arena[offset:offset+b.size], h.arena[b.offset:b.offset+b.size])

		err = h.metadata.Free(b.alloc)
		if err != nil {
			return stats, err
		}

		b.alloc = alloc
		b.offset = offset

		stats.BlocksMoved++
		stats.BytesMoved += b.size
	}

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	h.metadata.AddDetailedStatistics(&detailed)
	stats.LargestFree = detailed.UnusedRangeSizeMax

	h.logger.Debug("Heap::Compact", slog.Int("BlocksMoved", stats.BlocksMoved), slog.Int("BytesMoved", stats.BytesMoved), slog.Int("LargestFree", stats.LargestFree))

	memutils.DebugValidate(heapValidator{h})

	return stats, nil
}
