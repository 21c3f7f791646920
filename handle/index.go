package handle

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/somaen/residual/archive"
	"github.com/somaen/residual/heap"
)

// ReadIndex parses size bytes of index records from r. The index must hold at least one record and
// its size must be a multiple of the format's record size. The Loaded flag is runtime state and is
// cleared on every descriptor.
func ReadIndex(r io.Reader, size int64, format IndexFormat) ([]Descriptor, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrCorruptIndex, "index is empty")
	}
	if size%int64(format.RecordSize) != 0 {
		return nil, errors.Wrapf(ErrCorruptIndex, "index size %d is not a multiple of the %s record size %d", size, format.Name, format.RecordSize)
	}

	count := int(size / int64(format.RecordSize))
	descriptors := make([]Descriptor, count)
	record := make([]byte, format.RecordSize)

	for i := range descriptors {
		_, err := io.ReadFull(r, record)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptIndex, "record %d: %v", i, err)
		}

		err = decodeRecord(record, format, &descriptors[i])
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
	}

	return descriptors, nil
}

func decodeRecord(record []byte, format IndexFormat, d *Descriptor) error {
	name, err := archive.DecodeName(record[:archive.NameSize])
	if err != nil {
		return errors.Wrapf(ErrCorruptIndex, "name: %v", err)
	}

	sizeWord := binary.LittleEndian.Uint32(record[12:16])
	var flagsWord uint32
	if format.hasFlagsWord() {
		flagsWord = binary.LittleEndian.Uint32(record[20:24])
	}

	d.Name = name
	d.Size = sizeWord & format.SizeMask
	d.block = heap.NoBlock

	if format.ExtendedFlags {
		d.Flags = Flags(flagsWord)
	} else {
		d.Flags = Flags(sizeWord&^format.SizeMask) | Flags(flagsWord)&CDMask
	}
	d.Flags &^= FlagLoaded

	return nil
}

// WriteIndex encodes descriptors as index records in the given format
func WriteIndex(w io.Writer, descriptors []Descriptor, format IndexFormat) error {
	record := make([]byte, format.RecordSize)

	for i := range descriptors {
		d := &descriptors[i]
		if d.Size&^format.SizeMask != 0 {
			return errors.Newf("descriptor %d: size %d does not fit the %s size field", i, d.Size, format.Name)
		}

		name, err := archive.EncodeName(d.Name)
		if err != nil {
			return errors.Wrapf(err, "descriptor %d", i)
		}

		clear(record)
		copy(record, name[:])

		flags := d.Flags & fileFlagsMask
		if format.ExtendedFlags {
			binary.LittleEndian.PutUint32(record[12:16], d.Size)
			binary.LittleEndian.PutUint32(record[20:24], uint32(flags))
		} else {
			binary.LittleEndian.PutUint32(record[12:16], d.Size|uint32(flags&^CDMask))
			if format.hasFlagsWord() {
				binary.LittleEndian.PutUint32(record[20:24], uint32(flags&CDMask))
			}
		}

		_, err = w.Write(record)
		if err != nil {
			return err
		}
	}

	return nil
}
