package memutils

import (
	"math/bits"
	"strings"
)

// Flags is any bitmask enum whose individual bits can be named
type Flags interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int32
}

// FlagStringMapping names the individual bits of a bitmask enum so that combined values can
// be printed as "A|B|C"
type FlagStringMapping[T Flags] struct {
	names map[T]string
}

func NewFlagStringMapping[T Flags]() *FlagStringMapping[T] {
	return &FlagStringMapping[T]{names: make(map[T]string)}
}

func (m *FlagStringMapping[T]) Register(value T, name string) {
	m.names[value] = name
}

func (m *FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var sb strings.Builder
	remaining := uint64(value)
	for remaining != 0 {
		bit := uint64(1) << bits.TrailingZeros64(remaining)
		remaining &^= bit

		if sb.Len() > 0 {
			sb.WriteByte('|')
		}

		name, ok := m.names[T(bit)]
		if !ok {
			sb.WriteString("Unknown")
			continue
		}
		sb.WriteString(name)
	}

	return sb.String()
}
