package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
	"github.com/driftfs/driftfs/internal/cli/timeutil"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show cluster health",
	Long: `Show the coordinator's view of cluster health: node counts and
whether the configured replication factor is currently satisfiable.

Examples:
  # Show health as table
  driftctl health

  # Show as JSON
  driftctl health -o json`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	c := cmdutil.GetClient()
	health, err := c.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch health: %w", err)
	}

	pairs := [][2]string{
		{"Status", health.Status},
		{"Timestamp", timeutil.FormatTime(health.Timestamp)},
		{"Total nodes", strconv.Itoa(health.Details.TotalNodes)},
		{"Active nodes", strconv.Itoa(health.Details.ActiveNodes)},
		{"Replication factor", strconv.Itoa(health.Details.ReplicationFactor)},
	}
	return cmdutil.PrintResource(os.Stdout, health, pairs)
}
