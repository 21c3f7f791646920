package decompression

import (
	"bufio"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
)

// ExplodeFlags are the info bits stored alongside imploded data
type ExplodeFlags uint8

const (
	// ExplodeLargeWindow selects an 8K window with 7 low distance bits instead of a 4K window with 6
	ExplodeLargeWindow ExplodeFlags = 0x02
	// ExplodeLiteralTree indicates that literals are coded with a tree and that matches are at least 3 bytes
	ExplodeLiteralTree ExplodeFlags = 0x04
)

const maxCodeLength = 16

// lsbReader reads bits least significant bit first
type lsbReader struct {
	r      io.ByteReader
	buffer uint32
	count  uint
}

func (b *lsbReader) need(n uint) error {
	for b.count < n {
		c, err := b.r.ReadByte()
		if err != nil {
			return err
		}
		b.buffer |= uint32(c) << b.count
		b.count += 8
	}
	return nil
}

func (b *lsbReader) bits(n uint) (int, error) {
	if err := b.need(n); err != nil {
		return 0, err
	}

	value := int(b.buffer & (1<<n - 1))
	b.buffer >>= n
	b.count -= n
	return value, nil
}

// codeTree decodes Shannon-Fano codes. The codes for a complete set of bit lengths are assigned from
// the longest length down, which makes every code the complement of the canonical code for the same
// lengths.
type codeTree struct {
	counts  [maxCodeLength + 1]int
	symbols []int
}

func newCodeTree(lengths []int) (*codeTree, error) {
	t := &codeTree{symbols: make([]int, 0, len(lengths))}

	for _, length := range lengths {
		if length < 1 || length > maxCodeLength {
			return nil, errors.Wrapf(ErrCorruptStream, "invalid code length %d", length)
		}
		t.counts[length]++
	}

	left := 1
	for length := 1; length <= maxCodeLength; length++ {
		left <<= 1
		left -= t.counts[length]
		if left < 0 {
			return nil, errors.Wrap(ErrCorruptStream, "over-subscribed code lengths")
		}
	}

	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return lengths[a] - lengths[b]
	})
	t.symbols = append(t.symbols, order...)

	return t, nil
}

func (t *codeTree) decode(br *lsbReader) (int, error) {
	code, first, index := 0, 0, 0

	for length := 1; length <= maxCodeLength; length++ {
		bit, err := br.bits(1)
		if err != nil {
			return 0, err
		}
		code |= bit ^ 1

		count := t.counts[length]
		if code-first < count {
			return t.symbols[index+code-first], nil
		}

		index += count
		first += count
		first <<= 1
		code <<= 1
	}

	return 0, errors.Wrapf(ErrCorruptStream, "code exceeds %d bits", maxCodeLength)
}

// readCodeLengths expands a run-length coded bit length table. The first byte holds the number of
// following bytes minus one; each following byte holds a repeat count minus one in its high nibble
// and a bit length minus one in its low nibble.
func readCodeLengths(r io.ByteReader, symbols int) ([]int, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	lengths := make([]int, 0, symbols)
	for i := 0; i <= int(count); i++ {
		packed, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		repeat := int(packed>>4) + 1
		length := int(packed&0x0f) + 1
		for ; repeat > 0; repeat-- {
			lengths = append(lengths, length)
		}
	}

	if len(lengths) != symbols {
		return nil, errors.Wrapf(ErrCorruptStream, "tree describes %d codes, expected %d", len(lengths), symbols)
	}

	return lengths, nil
}

func readCodeTree(r io.ByteReader, symbols int) (*codeTree, error) {
	lengths, err := readCodeLengths(r, symbols)
	if err != nil {
		return nil, err
	}
	return newCodeTree(lengths)
}

// NewExploder returns a Decompressor for imploded data
func NewExploder(flags ExplodeFlags) Decompressor {
	return func(src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error) {
		return explode(src, dst, compressedSize, flags)
	}
}

func explode(src io.Reader, dst []byte, compressedSize int, flags ExplodeFlags) (int, error) {
	r := bufio.NewReader(io.LimitReader(src, int64(compressedSize)))

	var literals *codeTree
	var err error
	minMatch := 2
	if flags&ExplodeLiteralTree != 0 {
		literals, err = readCodeTree(r, 256)
		if err != nil {
			return 0, errors.Wrap(err, "literal tree")
		}
		minMatch = 3
	}

	lengths, err := readCodeTree(r, 64)
	if err != nil {
		return 0, errors.Wrap(err, "length tree")
	}

	distances, err := readCodeTree(r, 64)
	if err != nil {
		return 0, errors.Wrap(err, "distance tree")
	}

	lowDistanceBits := uint(6)
	if flags&ExplodeLargeWindow != 0 {
		lowDistanceBits = 7
	}

	br := &lsbReader{r: r}
	n := 0

	for n < len(dst) {
		flag, err := br.bits(1)
		if isEndOfInput(err) {
			return n, nil
		} else if err != nil {
			return n, err
		}

		if flag == 1 {
			var literal int
			if literals != nil {
				literal, err = literals.decode(br)
			} else {
				literal, err = br.bits(8)
			}
			if isEndOfInput(err) {
				return n, nil
			} else if err != nil {
				return n, err
			}

			dst[n] = byte(literal)
			n++
			continue
		}

		low, err := br.bits(lowDistanceBits)
		if err != nil {
			return n, endOfMatch(err)
		}
		high, err := distances.decode(br)
		if err != nil {
			return n, endOfMatch(err)
		}
		distance := (high<<lowDistanceBits | low) + 1

		length, err := lengths.decode(br)
		if err != nil {
			return n, endOfMatch(err)
		}
		if length == 63 {
			extra, err := br.bits(8)
			if err != nil {
				return n, endOfMatch(err)
			}
			length += extra
		}
		length += minMatch

		if n+length > len(dst) {
			return n, errors.Wrapf(ErrCorruptStream, "match of %d bytes at %d overruns %d byte output", length, n, len(dst))
		}

		// Positions before the start of the output read as zero
		for ; length > 0; length-- {
			if n >= distance {
				dst[n] = dst[n-distance]
			} else {
				dst[n] = 0
			}
			n++
		}
	}

	return n, nil
}

func endOfMatch(err error) error {
	if isEndOfInput(err) {
		return errors.Wrap(ErrCorruptStream, "stream ends inside a match")
	}
	return err
}
