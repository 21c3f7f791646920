package decompression

import (
	"bytes"
	"compress/flate"
	"math/bits"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

type lsbWriter struct {
	out   []byte
	acc   uint32
	count uint
}

func (w *lsbWriter) bits(value int, n uint) {
	for i := uint(0); i < n; i++ {
		w.acc |= uint32((value>>i)&1) << w.count
		w.count++
		if w.count == 8 {
			w.out = append(w.out, byte(w.acc))
			w.acc = 0
			w.count = 0
		}
	}
}

func (w *lsbWriter) code(codes [][2]int, symbol int) {
	w.bits(codes[symbol][0], uint(codes[symbol][1]))
}

func (w *lsbWriter) bytes() []byte {
	if w.count > 0 {
		w.out = append(w.out, byte(w.acc))
		w.acc = 0
		w.count = 0
	}
	return w.out
}

// shannonFanoCodes assigns implode codes the way PKZIP does: symbols are ordered by bit length and
// codes are handed out from the last symbol back to the first in steps of 1<<(16-length). Each entry
// holds the code as written to the stream, least significant bit first, and its length.
func shannonFanoCodes(lengths []int) [][2]int {
	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return lengths[a] - lengths[b]
	})

	codes := make([][2]int, len(lengths))
	code, increment, last := 0, 0, 0
	for i := len(order) - 1; i >= 0; i-- {
		symbol := order[i]
		code += increment
		if lengths[symbol] != last {
			last = lengths[symbol]
			increment = 1 << (16 - last)
		}
		codes[symbol] = [2]int{int(bits.Reverse16(uint16(code))) & (1<<last - 1), last}
	}
	return codes
}

func runLengths(lengths []int) []byte {
	var packed []byte
	for i := 0; i < len(lengths); {
		run := 1
		for i+run < len(lengths) && lengths[i+run] == lengths[i] && run < 16 {
			run++
		}
		packed = append(packed, byte((run-1)<<4|(lengths[i]-1)))
		i += run
	}
	return append([]byte{byte(len(packed) - 1)}, packed...)
}

func uniformLengths(count, length int) []int {
	lengths := make([]int, count)
	for i := range lengths {
		lengths[i] = length
	}
	return lengths
}

type implodeEncoder struct {
	flags    ExplodeFlags
	literals [][2]int
	lengths  [][2]int
	dists    [][2]int
	header   []byte
	w        lsbWriter
}

func newImplodeEncoder(flags ExplodeFlags) *implodeEncoder {
	lengthLengths := append([]int{2, 2, 6, 6}, uniformLengths(60, 7)...)
	return newImplodeEncoderWithTrees(flags, uniformLengths(256, 8), lengthLengths, uniformLengths(64, 6))
}

func newImplodeEncoderWithTrees(flags ExplodeFlags, literalLengths, lengthLengths, distLengths []int) *implodeEncoder {
	e := &implodeEncoder{flags: flags}
	if flags&ExplodeLiteralTree != 0 {
		e.literals = shannonFanoCodes(literalLengths)
		e.header = append(e.header, runLengths(literalLengths)...)
	}
	e.lengths = shannonFanoCodes(lengthLengths)
	e.header = append(e.header, runLengths(lengthLengths)...)
	e.dists = shannonFanoCodes(distLengths)
	e.header = append(e.header, runLengths(distLengths)...)
	return e
}

func (e *implodeEncoder) literal(c byte) {
	e.w.bits(1, 1)
	if e.literals != nil {
		e.w.code(e.literals, int(c))
	} else {
		e.w.bits(int(c), 8)
	}
}

func (e *implodeEncoder) match(distance, length int) {
	lowBits := uint(6)
	if e.flags&ExplodeLargeWindow != 0 {
		lowBits = 7
	}
	minMatch := 2
	if e.flags&ExplodeLiteralTree != 0 {
		minMatch = 3
	}

	e.w.bits(0, 1)
	distance--
	e.w.bits(distance&(1<<lowBits-1), lowBits)
	e.w.code(e.dists, distance>>lowBits)

	length -= minMatch
	if length >= 63 {
		e.w.code(e.lengths, 63)
		e.w.bits(length-63, 8)
	} else {
		e.w.code(e.lengths, length)
	}
}

func (e *implodeEncoder) bytes() []byte {
	return append(append([]byte{}, e.header...), e.w.bytes()...)
}

func TestLZSSKnownBuffer(t *testing.T) {
	compressed := []byte{0xA0, 0xD0, 0xA8, 0x60, 0x01, 0x70, 0x00, 0x00}

	dst := make([]byte, 12)
	n, err := Decompress(LZSS, bytes.NewReader(compressed), dst, len(compressed), 12)
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.Equal(t, []byte("ABCABCABCABC"), dst)
}

func TestLZSSEndOfInputTerminates(t *testing.T) {
	// Three literals with no terminator
	compressed := []byte{0xA0, 0xD0, 0xA8, 0x60}

	dst := make([]byte, 3)
	n, err := DecompressLZSS(bytes.NewReader(compressed), dst, len(compressed), 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("ABC"), dst)
}

func TestLZSSOverrun(t *testing.T) {
	compressed := []byte{0xA0, 0xD0, 0xA8, 0x60, 0x01, 0x70, 0x00, 0x00}

	dst := make([]byte, 8)
	_, err := Decompress(LZSS, bytes.NewReader(compressed), dst, len(compressed), 8)
	require.ErrorIs(t, err, ErrCorruptStream)
}

func TestExplode(t *testing.T) {
	for _, flags := range []ExplodeFlags{0, ExplodeLargeWindow, ExplodeLiteralTree, ExplodeLargeWindow | ExplodeLiteralTree} {
		e := newImplodeEncoder(flags)
		e.literal('a')
		e.literal('b')
		e.literal('c')
		e.match(3, 9)
		e.literal('z')
		e.match(1, 80)
		e.match(90, 4)

		expected := []byte("abcabcabcabcz")
		expected = append(expected, bytes.Repeat([]byte("z"), 80)...)
		expected = append(expected, expected[len(expected)-90:len(expected)-86]...)

		compressed := e.bytes()
		dst := make([]byte, len(expected))
		n, err := PakLUT(byte(flags)).Decompress(Explode, bytes.NewReader(compressed), dst, len(compressed), len(expected))
		require.NoError(t, err, "flags %d", flags)
		require.Equal(t, len(expected), n)
		require.Equal(t, expected, dst)
	}
}

func TestExplodeMixedCodeLengths(t *testing.T) {
	// Short codes sit on symbols in the middle and at the end of each table so that code assignment
	// has to follow the sorted bit lengths rather than symbol order. Every table is a complete code set.
	literalLengths := uniformLengths(256, 9)
	for _, c := range []byte("abcz") {
		literalLengths[c] = 3
	}
	for _, c := range []byte("0123") {
		literalLengths[c] = 8
	}

	lengthLengths := uniformLengths(64, 7)
	for _, symbol := range []int{6, 63} {
		lengthLengths[symbol] = 3
	}
	for _, symbol := range []int{1, 40} {
		lengthLengths[symbol] = 4
	}
	for symbol := 10; symbol < 30; symbol++ {
		lengthLengths[symbol] = 6
	}

	distLengths := uniformLengths(64, 7)
	for _, symbol := range []int{0, 1, 2, 63} {
		distLengths[symbol] = 3
	}
	for _, symbol := range []int{30, 31, 32, 33} {
		distLengths[symbol] = 6
	}

	for _, flags := range []ExplodeFlags{ExplodeLiteralTree, ExplodeLargeWindow | ExplodeLiteralTree} {
		e := newImplodeEncoderWithTrees(flags, literalLengths, lengthLengths, distLengths)
		e.literal('a')
		e.literal('b')
		e.literal('c')
		e.match(3, 9)
		e.literal('z')
		e.literal('q')
		e.literal('2')
		e.match(1, 80)
		e.match(90, 4)

		expected := []byte("abcabcabcabczq2")
		expected = append(expected, bytes.Repeat([]byte("2"), 80)...)
		expected = append(expected, expected[len(expected)-90:len(expected)-86]...)

		compressed := e.bytes()
		dst := make([]byte, len(expected))
		n, err := PakLUT(byte(flags)).Decompress(Explode, bytes.NewReader(compressed), dst, len(compressed), len(expected))
		require.NoError(t, err, "flags %d", flags)
		require.Equal(t, len(expected), n)
		require.Equal(t, expected, dst)
	}
}

func TestExplodeDistanceBeforeStartReadsZero(t *testing.T) {
	e := newImplodeEncoder(0)
	e.literal('x')
	e.match(3, 4)

	compressed := e.bytes()
	dst := make([]byte, 5)
	n, err := Decompress(Explode, bytes.NewReader(compressed), dst, len(compressed), 5)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte{'x', 0, 0, 'x', 0}, dst)
}

func TestExplodeBadTree(t *testing.T) {
	// A single run of 16 codes cannot describe a 64 entry tree
	compressed := []byte{0x00, 0xF5}

	dst := make([]byte, 4)
	_, err := Decompress(Explode, bytes.NewReader(compressed), dst, len(compressed), 4)
	require.ErrorIs(t, err, ErrCorruptStream)
}

func TestDeflate(t *testing.T) {
	expected := bytes.Repeat([]byte("resource manager "), 40)

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = fw.Write(expected)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	dst := make([]byte, len(expected))
	n, err := Decompress(Deflate, bytes.NewReader(buf.Bytes()), dst, buf.Len(), len(expected))
	require.NoError(t, err)
	require.Equal(t, len(expected), n)
	require.Equal(t, expected, dst)
}

func TestShortOutput(t *testing.T) {
	dst := make([]byte, 10)
	n, err := Decompress(None, bytes.NewReader([]byte{1, 2, 3, 4, 5}), dst, 5, 10)
	require.ErrorIs(t, err, ErrShortOutput)
	require.Equal(t, 5, n)
	require.Contains(t, err.Error(), "expected 10 bytes got 5 bytes")
}

func TestUnknownMethod(t *testing.T) {
	_, err := Decompress(Method(42), bytes.NewReader(nil), nil, 0, 0)
	require.ErrorIs(t, err, ErrUnknownMethod)
	require.Equal(t, "Unknown", Method(42).String())

	_, ok := PakMethod(2)
	require.False(t, ok)

	method, ok := PakMethod(4)
	require.True(t, ok)
	require.Equal(t, Deflate, method)
}
