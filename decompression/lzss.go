package decompression

import (
	"bufio"
	"io"

	"github.com/32bitkid/bitreader"
	"github.com/cockroachdb/errors"
)

const (
	lzssWindowSize = 4096
	lzssWindowMask = lzssWindowSize - 1
)

func isEndOfInput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// DecompressLZSS decodes the LZSS variant used by compressed handle table entries. Flags and fields
// are read most significant bit first. A set flag is followed by an 8-bit literal; a clear flag by a
// 12-bit window position and a 4-bit length that copies length+2 bytes out of the window. A window
// position of zero, or the end of the input, terminates the stream.
func DecompressLZSS(src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error) {
	br := bitreader.NewReader(bufio.NewReader(io.LimitReader(src, int64(compressedSize))))

	var window [lzssWindowSize]byte
	nextChar := 1
	n := 0

	put := func(c byte) error {
		if n >= len(dst) {
			return errors.Wrapf(ErrCorruptStream, "lzss output exceeds %d bytes", len(dst))
		}
		dst[n] = c
		n++
		window[nextChar] = c
		nextChar = (nextChar + 1) & lzssWindowMask
		return nil
	}

	for {
		literal, err := br.Read1()
		if isEndOfInput(err) {
			return n, nil
		} else if err != nil {
			return n, err
		}

		if literal {
			c, err := br.Read8(8)
			if isEndOfInput(err) {
				return n, nil
			} else if err != nil {
				return n, err
			}

			if err := put(c); err != nil {
				return n, err
			}
			continue
		}

		offset, err := br.Read16(12)
		if isEndOfInput(err) {
			return n, nil
		} else if err != nil {
			return n, err
		}
		if offset == 0 {
			return n, nil
		}

		length, err := br.Read8(4)
		if isEndOfInput(err) {
			return n, nil
		} else if err != nil {
			return n, err
		}

		for i := 0; i <= int(length)+1; i++ {
			if err := put(window[(int(offset)+i)&lzssWindowMask]); err != nil {
				return n, err
			}
		}
	}
}
