package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/somaen/residual/handle"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPakCmd())
}

func newPakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pak <archive>",
		Short: "List the entries of a PAK archive",
		Long: `The pak command lists every entry of a PAK archive with its stored size,
decoded size and compression. The archive name is given without the .PAK extension.

Example:
  handlectl pak --dir fitd/ LISTBOD2`,
		Args: cobra.ExactArgs(1),
		RunE: runPak,
	}
}

type pakListEntry struct {
	Index            int    `json:"index"`
	Name             string `json:"name"`
	DiscSize         uint32 `json:"discSize"`
	UncompressedSize uint32 `json:"size"`
	Method           string `json:"method"`
}

func runPak(cmd *cobra.Command, args []string) error {
	fsys := dataFS()
	archiveName := args[0]

	count, err := handle.PakCount(fsys, archiveName)
	if err != nil {
		return err
	}

	entries := make([]pakListEntry, 0, count)
	for i := 0; i < count; i++ {
		entry, err := handle.ReadPakEntry(fsys, archiveName, i)
		if err != nil {
			return err
		}

		method := fmt.Sprintf("flag %d", entry.Compression)
		if m, err := entry.Method(); err == nil {
			method = m.String()
		}

		entries = append(entries, pakListEntry{
			Index:            i,
			Name:             entry.Name,
			DiscSize:         entry.DiscSize,
			UncompressedSize: entry.Size(),
			Method:           method,
		})
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tSTORED\tSIZE\tMETHOD")
	for _, entry := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", entry.Index, entry.Name, entry.DiscSize, entry.UncompressedSize, entry.Method)
	}
	return w.Flush()
}
