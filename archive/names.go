package archive

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/charmap"
)

// NameSize is the size in bytes of a zero-padded DOS file name field
const NameSize = 12

// DecodeName converts a zero-padded code page 437 name field to a string, stopping at the first zero
func DecodeName(raw []byte) (string, error) {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}

	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errors.Wrapf(err, "decode name %q", raw)
	}
	return string(decoded), nil
}

// EncodeName converts name to a zero-padded code page 437 name field
func EncodeName(name string) ([NameSize]byte, error) {
	var field [NameSize]byte

	encoded, err := charmap.CodePage437.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return field, errors.Wrapf(err, "encode name %q", name)
	}
	if len(encoded) > NameSize {
		return field, errors.Newf("name %q is longer than %d bytes", name, NameSize)
	}

	copy(field[:], encoded)
	return field, nil
}
