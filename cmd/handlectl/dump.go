package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dumpOffset uint32
	dumpOut    string
)

func init() {
	cmd := newDumpCmd()
	cmd.Flags().Uint32Var(&dumpOffset, "offset", 0, "Byte offset into the resource")
	cmd.Flags().StringVarP(&dumpOut, "out", "o", "", "Write the raw bytes to a file instead of a hex dump")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <name|index>",
		Short: "Resolve a resource and print its bytes",
		Long: `The dump command resolves a resource by name or table index, loading and
decompressing it as the engine would, and prints a hex dump of its bytes.

Example:
  handlectl dump --dir game/ TITLE.SCN
  handlectl dump --dir game/ 12 --offset 64 -o sprite.bin`,
		Args: cobra.ExactArgs(1),
		RunE: runDump,
	}
}

func runDump(cmd *cobra.Command, args []string) error {
	m, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	index, err := lookupHandle(m, args[0])
	if err != nil {
		return err
	}

	data, err := m.Resolve(m.Handle(index, dumpOffset))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}

	if dumpOut != "" {
		return os.WriteFile(dumpOut, data, 0o644)
	}

	dumper := hex.Dumper(cmd.OutOrStdout())
	_, err = dumper.Write(data)
	if err != nil {
		return err
	}
	return dumper.Close()
}
