package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/somaen/residual/archive"
	"github.com/somaen/residual/handle"
	"github.com/somaen/residual/heap"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	dataDir   string
	indexName string
	format    string
	budget    int
	mapped    bool
	verbose   bool
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "handlectl",
	Short: "Inspect handle-indexed resource tables",
	Long: `handlectl reads the index file of a resource directory, resolves resources
through the same bounded heap the engine uses and reports on the table and the heap.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", ".", "Directory holding the index and resource files")
	rootCmd.PersistentFlags().StringVar(&indexName, "index", handle.DefaultIndexName, "Name of the index file")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "v1", "Index format: v1, v2 or v3")
	rootCmd.PersistentFlags().IntVar(&budget, "budget", heap.DefaultBudget, "Heap size in bytes")
	rootCmd.PersistentFlags().BoolVar(&mapped, "mmap", false, "Memory-map resource files instead of reading them")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFormat(name string) (handle.IndexFormat, error) {
	switch strings.ToLower(name) {
	case "v1":
		return handle.FormatV1, nil
	case "v2":
		return handle.FormatV2, nil
	case "v3":
		return handle.FormatV3, nil
	}
	return handle.IndexFormat{}, fmt.Errorf("unknown index format %q", name)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(w))
}

func dataFS() fs.FS {
	if mapped {
		return archive.NewMappedFS(dataDir)
	}
	return os.DirFS(dataDir)
}

// openManager builds a manager from the global flags
func openManager(cmd *cobra.Command) (*handle.Manager, error) {
	indexFormat, err := parseFormat(format)
	if err != nil {
		return nil, err
	}

	return handle.New(handle.Options{
		FS:        dataFS(),
		IndexName: indexName,
		Format:    indexFormat,
		Heap:      heap.Options{Budget: budget},
		Logger:    newLogger(cmd.ErrOrStderr()),
	})
}

// lookupHandle accepts either a table index or a resource name
func lookupHandle(m *handle.Manager, ref string) (int, error) {
	if index, err := strconv.Atoi(ref); err == nil {
		if index < 0 || index >= m.NumHandles() {
			return 0, fmt.Errorf("index %d is outside a table of %d entries", index, m.NumHandles())
		}
		return index, nil
	}

	index, ok := m.HandleIndex(ref)
	if !ok {
		return 0, fmt.Errorf("no resource named %q", ref)
	}
	return index, nil
}
