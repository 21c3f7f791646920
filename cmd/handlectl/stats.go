package main

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/somaen/residual/handle"
	"github.com/somaen/residual/memutils"
	"github.com/spf13/cobra"
)

var statsLoadAll bool

func init() {
	cmd := newStatsCmd()
	cmd.Flags().BoolVar(&statsLoadAll, "load", false, "Resolve every resource before reporting")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show heap usage for the table",
		Long: `The stats command builds the table, optionally resolves every resource and
reports how the heap is used. With --json the full table and heap map is printed.

Example:
  handlectl stats --dir game/
  handlectl stats --dir game/ --load --budget 1048576 --json`,
		Args: cobra.NoArgs,
		RunE: runStats,
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	m, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	failures := 0
	if statsLoadAll {
		for i := 0; i < m.NumHandles(); i++ {
			h := m.Handle(i, 0)
			if !m.IsValidHandle(h) {
				continue
			}

			_, err = m.Resolve(h)
			if err != nil {
				failures++
				fmt.Fprintf(cmd.ErrOrStderr(), "entry %d: %s: %v\n", i, handle.KindOf(err), err)
			}
		}
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		writer := jwriter.NewWriter()
		m.PrintDetailedMap(&writer)
		if err := writer.Error(); err != nil {
			return err
		}
		_, err = out.Write(append(writer.Bytes(), '\n'))
		return err
	}

	var stats memutils.DetailedStatistics
	stats.Clear()
	m.Statistics(&stats)

	fmt.Fprintf(out, "Handles:      %d\n", m.NumHandles())
	fmt.Fprintf(out, "Blocks:       %d\n", stats.BlockCount)
	fmt.Fprintf(out, "Allocations:  %d (%d bytes)\n", stats.AllocationCount, stats.AllocationBytes)
	fmt.Fprintf(out, "Free ranges:  %d\n", stats.UnusedRangeCount)
	fmt.Fprintf(out, "Arena:        %d bytes\n", stats.BlockBytes)
	if stats.AllocationCount > 0 {
		fmt.Fprintf(out, "Largest:      %d bytes\n", stats.AllocationSizeMax)
	}
	if failures > 0 {
		return fmt.Errorf("%d resources failed to load", failures)
	}
	return nil
}
