package handle_test

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"testing"
	"testing/fstest"

	"github.com/somaen/residual/handle"
	"github.com/stretchr/testify/require"
)

type pakFixture struct {
	name        string
	compression byte
	data        []byte
}

func deflated(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// buildPak lays out an archive: a leading word, one offset per entry, a trailing offset word, then
// each entry's header, name and data
func buildPak(t *testing.T, entries ...pakFixture) []byte {
	tableSize := (len(entries) + 2) * 4
	var body bytes.Buffer
	offsets := make([]uint32, len(entries)+1)

	for i, entry := range entries {
		offsets[i] = uint32(tableSize + body.Len())

		stored := entry.data
		if entry.compression == 4 {
			stored = deflated(t, entry.data)
		}

		name := append([]byte{0, 0}, entry.name...)
		name = append(name, 0)

		header := binary.LittleEndian.AppendUint32(nil, 0)
		header = binary.LittleEndian.AppendUint32(header, uint32(len(stored)))
		header = binary.LittleEndian.AppendUint32(header, uint32(len(entry.data)))
		header = append(header, entry.compression, 0)
		header = binary.LittleEndian.AppendUint16(header, uint16(len(name)))

		body.Write(header)
		body.Write(name)
		body.Write(stored)
	}
	offsets[len(entries)] = uint32(tableSize + body.Len())

	out := binary.LittleEndian.AppendUint32(nil, 0)
	for _, offset := range offsets {
		out = binary.LittleEndian.AppendUint32(out, offset)
	}
	return append(out, body.Bytes()...)
}

func TestPakArchive(t *testing.T) {
	text := bytes.Repeat([]byte("LISTBODY "), 40)
	fsys := fstest.MapFS{
		"LISTBOD2.PAK": {Data: buildPak(t,
			pakFixture{name: "hero.bin", data: pattern(4, 64)},
			pakFixture{name: "text.bin", compression: 4, data: text},
			pakFixture{name: "tiny.bin", data: []byte{42}},
		)},
	}

	count, err := handle.PakCount(fsys, "LISTBOD2")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	entry, err := handle.ReadPakEntry(fsys, "LISTBOD2", 1)
	require.NoError(t, err)
	require.Equal(t, "text.bin", entry.Name)
	require.Equal(t, byte(4), entry.Compression)
	require.Equal(t, uint32(len(text)), entry.Size())
	require.Less(t, entry.DiscSize, entry.UncompressedSize)

	descriptors, err := handle.PakDescriptors(fsys, "LISTBOD2")
	require.NoError(t, err)
	require.Len(t, descriptors, 3)
	require.Equal(t, "LISTBOD2:1", descriptors[1].Name)
	require.Equal(t, handle.FlagDiscard|handle.FlagCompressed, descriptors[1].Flags)
	require.Equal(t, handle.FlagDiscard, descriptors[2].Flags)

	m := newManager(t, handle.Options{Descriptors: descriptors, Loader: handle.NewPakLoader(fsys)})

	data, err := m.Resolve(m.Handle(0, 0))
	require.NoError(t, err)
	require.Equal(t, pattern(4, 64), data)

	data, err = m.Resolve(m.Handle(1, 9))
	require.NoError(t, err)
	require.Equal(t, text[9:], data)

	data, err = m.Resolve(m.Handle(2, 0))
	require.NoError(t, err)
	require.Equal(t, []byte{42}, data)

	index, ok := m.HandleIndex("LISTBOD2:2")
	require.True(t, ok)
	require.Equal(t, 2, index)
}

func TestPakErrors(t *testing.T) {
	fsys := fstest.MapFS{}

	_, err := handle.PakCount(fsys, "MISSING")
	require.ErrorIs(t, err, handle.ErrMissingArchive)

	loader := handle.NewPakLoader(fsys)
	_, err = loader.Load(&handle.Descriptor{Name: "not-a-pak-name"}, make([]byte, 4))
	require.ErrorIs(t, err, handle.ErrFileMissing)

	archiveName, index, ok := handle.ParsePakName(handle.PakName("CAMERA", 12))
	require.True(t, ok)
	require.Equal(t, "CAMERA", archiveName)
	require.Equal(t, 12, index)

	_, _, ok = handle.ParsePakName("CAMERA:-1")
	require.False(t, ok)
}
