//go:build debug_mem_utils

package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutationsValidateInDebugBuilds(t *testing.T) {
	h, err := New(Options{Budget: 256})
	require.NoError(t, err)

	block, err := h.Allocate(Moveable, 32)
	require.NoError(t, err)
	require.NotPanics(t, func() {
		require.NoError(t, h.Reallocate(block, 48, Moveable|Discardable))
	})

	h.blocks[block].offset += 8

	require.Panics(t, func() {
		_, _ = h.Allocate(Fixed, 16)
	})
}
