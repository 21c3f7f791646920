package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the entries of the index",
		Long: `The list command prints every entry of the handle table with its size,
flags and disc number. Placeholder entries are marked.

Example:
  handlectl list --dir game/
  handlectl list --dir game/ --format v3 --json`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
}

type listEntry struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Size        uint32 `json:"size"`
	Flags       string `json:"flags"`
	CD          int    `json:"cd"`
	Placeholder bool   `json:"placeholder"`
}

func runList(cmd *cobra.Command, args []string) error {
	m, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	entries := make([]listEntry, 0, m.NumHandles())
	for i := 0; i < m.NumHandles(); i++ {
		d, err := m.Descriptor(i)
		if err != nil {
			return err
		}

		cd, err := m.CDNumber(m.Handle(i, 0))
		if err != nil {
			return err
		}

		entries = append(entries, listEntry{
			Index:       i,
			Name:        d.Name,
			Size:        d.Size,
			Flags:       d.Flags.String(),
			CD:          cd,
			Placeholder: d.IsPlaceholder(),
		})
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tSIZE\tCD\tFLAGS")
	for _, entry := range entries {
		name := entry.Name
		if entry.Placeholder {
			name += " (placeholder)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", entry.Index, name, entry.Size, entry.CD, entry.Flags)
	}
	return w.Flush()
}
