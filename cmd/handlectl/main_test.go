package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/somaen/residual/handle"
	"github.com/somaen/residual/heap"
	"github.com/stretchr/testify/require"
)

// writeGame lays out a small resource directory and returns its path
func writeGame(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var index bytes.Buffer
	require.NoError(t, handle.WriteIndex(&index, []handle.Descriptor{
		{Name: "FONT.FNT", Size: 16, Flags: handle.FlagPreload},
		{Name: "PAD", Size: 8},
		{Name: "TITLE.SCN", Size: 32, Flags: handle.FlagDiscard},
	}, handle.FormatV1))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index"), index.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "FONT.FNT"), bytes.Repeat([]byte{'F'}, 16), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "title.scn"), bytes.Repeat([]byte{'T'}, 32), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dataDir, indexName, format, budget = ".", handle.DefaultIndexName, "v1", heap.DefaultBudget
	mapped, verbose, jsonOut = false, false, false
	dumpOffset, dumpOut, statsLoadAll = 0, "", false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	dir := writeGame(t)

	out, err := run(t, "list", "--dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "FONT.FNT")
	require.Contains(t, out, "PAD (placeholder)")
	require.Contains(t, out, "Preload|Loaded")

	out, err = run(t, "list", "--dir", dir, "--json", "--mmap")
	require.NoError(t, err)

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	require.True(t, entries[1].Placeholder)
	require.Equal(t, "TITLE.SCN", entries[2].Name)
	require.Equal(t, 1, entries[2].CD)
}

func TestDumpCommand(t *testing.T) {
	dir := writeGame(t)

	out, err := run(t, "dump", "--dir", dir, "TITLE.SCN")
	require.NoError(t, err)
	require.Contains(t, out, "54 54 54 54")

	target := filepath.Join(t.TempDir(), "font.bin")
	_, err = run(t, "dump", "--dir", dir, "0", "--offset", "4", "-o", target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{'F'}, 12), data)

	_, err = run(t, "dump", "--dir", dir, "MISSING")
	require.Error(t, err)

	_, err = run(t, "dump", "--dir", dir, "1")
	require.ErrorIs(t, err, handle.ErrInvalidHandle)
}

func TestStatsCommand(t *testing.T) {
	dir := writeGame(t)

	out, err := run(t, "stats", "--dir", dir, "--load")
	require.NoError(t, err)
	require.Contains(t, out, "Handles:      3")
	require.Contains(t, out, "Allocations:  2 (48 bytes)")

	out, err = run(t, "stats", "--dir", dir, "--json")
	require.NoError(t, err)

	var dump struct {
		Format  string
		Handles []json.RawMessage
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	require.Equal(t, "V1", dump.Format)
	require.Len(t, dump.Handles, 3)

	_, err = run(t, "stats", "--dir", dir, "--format", "v9")
	require.Error(t, err)
}

// writePak writes a two entry archive: a stored entry and a deflate entry whose sizes differ
func writePak(t *testing.T, dir string) {
	t.Helper()

	type entry struct {
		name        string
		compression byte
		stored      []byte
		size        int
	}
	entries := []entry{
		{name: "hero.bin", stored: bytes.Repeat([]byte{'H'}, 24), size: 24},
		{name: "text.bin", compression: 4, stored: []byte{0x4b, 0x04, 0x00}, size: 90},
	}

	tableSize := (len(entries) + 2) * 4
	var body bytes.Buffer
	var offsets []uint32
	for _, e := range entries {
		offsets = append(offsets, uint32(tableSize+body.Len()))

		name := append([]byte{0, 0}, e.name...)
		name = append(name, 0)

		header := binary.LittleEndian.AppendUint32(nil, 0)
		header = binary.LittleEndian.AppendUint32(header, uint32(len(e.stored)))
		header = binary.LittleEndian.AppendUint32(header, uint32(e.size))
		header = append(header, e.compression, 0)
		header = binary.LittleEndian.AppendUint16(header, uint16(len(name)))

		body.Write(header)
		body.Write(name)
		body.Write(e.stored)
	}
	offsets = append(offsets, uint32(tableSize+body.Len()))

	out := binary.LittleEndian.AppendUint32(nil, 0)
	for _, offset := range offsets {
		out = binary.LittleEndian.AppendUint32(out, offset)
	}
	out = append(out, body.Bytes()...)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "LISTBOD2.PAK"), out, 0o644))
}

func TestPakCommand(t *testing.T) {
	dir := t.TempDir()
	writePak(t, dir)

	out, err := run(t, "pak", "--dir", dir, "LISTBOD2")
	require.NoError(t, err)
	require.Contains(t, out, "hero.bin")
	require.Contains(t, out, "Deflate")

	out, err = run(t, "pak", "--dir", dir, "--json", "LISTBOD2")
	require.NoError(t, err)

	var entries []pakListEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, "hero.bin", entries[0].Name)
	require.Equal(t, uint32(24), entries[0].UncompressedSize)
	require.Equal(t, "None", entries[0].Method)
	require.Equal(t, "text.bin", entries[1].Name)
	require.Equal(t, uint32(3), entries[1].DiscSize)
	require.Equal(t, uint32(90), entries[1].UncompressedSize)
	require.Equal(t, "Deflate", entries[1].Method)

	_, err = run(t, "pak", "--dir", dir, "MISSING")
	require.Error(t, err)
}
