package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
	"github.com/driftfs/driftfs/internal/cli/prompt"
)

var (
	rmPermanent bool
	rmYes       bool
)

var rmCmd = &cobra.Command{
	Use:   "rm <remote-path>",
	Short: "Delete a file",
	Long: `Delete a file from the cluster.

By default the file is soft-deleted: it disappears from listings but its
chunks survive until the garbage collection grace period expires. With
--permanent the metadata and chunks are removed immediately.

Examples:
  # Soft-delete with confirmation
  driftctl rm /docs/report.pdf

  # Soft-delete without confirmation
  driftctl rm /docs/report.pdf --yes

  # Remove immediately, no grace period
  driftctl rm /docs/report.pdf --permanent`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().BoolVar(&rmPermanent, "permanent", false, "Remove metadata and chunks immediately")
	rmCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "Skip confirmation prompt")
}

func runRm(cmd *cobra.Command, args []string) error {
	path := args[0]

	var confirmed bool
	var err error
	if rmPermanent && !rmYes {
		// Permanent deletion skips the grace period, so ask for the path back.
		confirmed, err = prompt.ConfirmDanger(fmt.Sprintf("Permanently delete '%s'?", path), path)
	} else {
		confirmed, err = prompt.ConfirmWithForce(fmt.Sprintf("Delete '%s'?", path), rmYes)
	}
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("\nAborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	c := cmdutil.GetClient()
	resp, err := c.Delete(cmd.Context(), path, rmPermanent)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	fmt.Printf("Deleted %s (%s)\n", resp.Path, resp.Status)
	return nil
}
