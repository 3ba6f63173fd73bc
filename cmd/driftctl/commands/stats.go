package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cluster statistics",
	Long: `Show cluster-wide counters: files, chunks, nodes, space, open
upload sessions, and active leases.

Examples:
  # Show statistics as table
  driftctl stats

  # Show as JSON
  driftctl stats -o json`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	c := cmdutil.GetClient()
	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	pairs := [][2]string{
		{"Files", strconv.Itoa(stats.Files)},
		{"Chunks", strconv.Itoa(stats.Chunks)},
		{"Total nodes", strconv.Itoa(stats.TotalNodes)},
		{"Active nodes", strconv.Itoa(stats.ActiveNodes)},
		{"Total space", cmdutil.FormatBytes(stats.TotalSpace)},
		{"Free space", cmdutil.FormatBytes(stats.FreeSpace)},
		{"Used space", cmdutil.FormatBytes(stats.UsedSpace)},
		{"Open sessions", strconv.Itoa(stats.OpenSessions)},
		{"Active leases", strconv.Itoa(stats.ActiveLeases)},
	}
	return cmdutil.PrintResource(os.Stdout, stats, pairs)
}
