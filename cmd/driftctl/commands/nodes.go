package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
	"github.com/driftfs/driftfs/internal/cli/timeutil"
	"github.com/driftfs/driftfs/pkg/model"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List storage workers",
	Long: `List the storage workers known to the coordinator, with their
liveness state, capacity, and last heartbeat.

Examples:
  # List workers as table
  driftctl nodes

  # List as JSON
  driftctl nodes -o json`,
	RunE: runNodes,
}

// NodeList renders worker records as a table.
type NodeList []model.WorkerRecord

// Headers implements TableRenderer.
func (nl NodeList) Headers() []string {
	return []string{"NODE", "STATE", "ADDRESS", "RACK", "FREE", "TOTAL", "CHUNKS", "LAST HEARTBEAT"}
}

// Rows implements TableRenderer.
func (nl NodeList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(nl))
	for _, n := range nl {
		rows = append(rows, []string{
			n.ID,
			string(n.State),
			fmt.Sprintf("%s:%d", n.Host, n.Port),
			cmdutil.EmptyOr(n.Rack, "-"),
			cmdutil.FormatBytes(n.FreeSpace),
			cmdutil.FormatBytes(n.TotalSpace),
			strconv.Itoa(n.ChunkCount),
			timeutil.FormatAge(n.LastHeartbeat, now),
		})
	}
	return rows
}

func runNodes(cmd *cobra.Command, args []string) error {
	c := cmdutil.GetClient()
	nodes, err := c.Nodes(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, nodes, len(nodes) == 0, "No nodes registered.", NodeList(nodes))
}
