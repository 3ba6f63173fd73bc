package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
	"github.com/driftfs/driftfs/internal/cli/timeutil"
	"github.com/driftfs/driftfs/pkg/model"
)

var (
	lsLimit  int
	lsOffset int
)

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List files",
	Long: `List committed files, optionally filtered by path prefix.

Examples:
  # List everything
  driftctl ls

  # List files under /docs
  driftctl ls /docs

  # Page through a large listing
  driftctl ls --limit 50 --offset 100

  # List as JSON
  driftctl ls -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().IntVar(&lsLimit, "limit", 0, "Maximum number of files to return (0 = no limit)")
	lsCmd.Flags().IntVar(&lsOffset, "offset", 0, "Number of files to skip")
}

// FileList renders file records as a table.
type FileList []model.FileRecord

// Headers implements TableRenderer.
func (fl FileList) Headers() []string {
	return []string{"PATH", "SIZE", "CHUNKS", "MODIFIED"}
}

// Rows implements TableRenderer.
func (fl FileList) Rows() [][]string {
	rows := make([][]string, 0, len(fl))
	for _, f := range fl {
		rows = append(rows, []string{
			f.Path,
			cmdutil.FormatBytes(f.Size),
			strconv.Itoa(len(f.Chunks)),
			timeutil.FormatTime(f.ModifiedAt),
		})
	}
	return rows
}

func runLs(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	c := cmdutil.GetClient()
	files, err := c.List(cmd.Context(), prefix, lsLimit, lsOffset)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, files, len(files) == 0, "No files found.", FileList(files))
}
