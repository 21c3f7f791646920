package heap

import (
	"cmp"
	"math"
	"slices"

	"github.com/somaen/residual/memutils/metadata"
	"golang.org/x/exp/slog"
)

// DiscardLRU discards unlocked Discardable blocks, least recently touched first, until a request for
// need bytes could be satisfied or no candidates remain. It returns the number of bytes released.
// The heap never calls this on its own; owners decide when memory pressure justifies a sweep.
func (h *Heap) DiscardLRU(need int) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.logger.Debug("Heap::DiscardLRU", slog.Int("Need", need))

	var candidates []BlockHandle
	for i := range h.blocks {
		b := &h.blocks[i]
		if b.live && b.hasStorage() && b.flags&Discardable != 0 && !b.pinned() {
			candidates = append(candidates, BlockHandle(i))
		}
	}

	slices.SortStableFunc(candidates, func(left, right BlockHandle) int {
		return cmp.Compare(h.blocks[left].lastAccess, h.blocks[right].lastAccess)
	})

	released := 0
	for _, handle := range candidates {
		if h.fits(need) {
			break
		}

		b := &h.blocks[handle]
		size := b.size
		err := h.discard(handle, b)
		if err != nil {
			return released, err
		}

		released += size
	}

	return released, nil
}

func (h *Heap) fits(need int) bool {
	if need <= 0 {
		return true
	}

	success, _, err := h.metadata.CreateAllocationRequest(need, h.alignment, metadata.AllocationStrategyMinTime, math.MaxInt)
	return err == nil && success
}
