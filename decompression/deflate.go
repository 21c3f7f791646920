package decompression

import (
	"compress/flate"
	"io"
)

// DecompressDeflate decodes a raw DEFLATE stream with no zlib or gzip framing
func DecompressDeflate(src io.Reader, dst []byte, compressedSize, decompressedSize int) (int, error) {
	fr := flate.NewReader(io.LimitReader(src, int64(compressedSize)))
	defer fr.Close()

	n, err := io.ReadFull(fr, dst)
	if isEndOfInput(err) {
		return n, nil
	}
	return n, err
}
