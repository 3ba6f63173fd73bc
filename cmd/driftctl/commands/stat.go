package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
	"github.com/driftfs/driftfs/internal/cli/timeutil"
)

var statCmd = &cobra.Command{
	Use:   "stat <remote-path>",
	Short: "Show file metadata",
	Long: `Show the metadata of a committed file, including its chunk layout.

Examples:
  # Show file metadata
  driftctl stat /docs/report.pdf

  # Full chunk layout as JSON
  driftctl stat /docs/report.pdf -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStat,
}

func runStat(cmd *cobra.Command, args []string) error {
	c := cmdutil.GetClient()
	file, err := c.Stat(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	replicas := 0
	for _, chunk := range file.Chunks {
		replicas += len(chunk.Replicas)
	}

	pairs := [][2]string{
		{"Path", file.Path},
		{"File ID", file.ID},
		{"Size", cmdutil.FormatBytes(file.Size)},
		{"Chunks", strconv.Itoa(len(file.Chunks))},
		{"Replicas", strconv.Itoa(replicas)},
		{"Created", timeutil.FormatTime(file.CreatedAt)},
		{"Modified", timeutil.FormatTime(file.ModifiedAt)},
	}
	return cmdutil.PrintResource(os.Stdout, file, pairs)
}
