package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
	"github.com/driftfs/driftfs/pkg/client"
)

var uploadOverwrite bool

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> <remote-path>",
	Short: "Upload a file",
	Long: `Upload a local file to the cluster.

The file is split into fixed-size chunks, each chunk is pushed to its
planned workers in parallel, and the upload is committed once every chunk
is safely stored.

Examples:
  # Upload a file
  driftctl upload ./report.pdf /docs/report.pdf

  # Replace an existing file at the same path
  driftctl upload ./report.pdf /docs/report.pdf --overwrite

  # Upload through the coordinator (workers not directly reachable)
  driftctl upload ./report.pdf /docs/report.pdf --proxy`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadOverwrite, "overwrite", false, "Replace an existing file at the remote path")
}

func runUpload(cmd *cobra.Command, args []string) error {
	localPath, remotePath := args[0], args[1]

	c := cmdutil.GetClient()
	resp, err := c.UploadFile(cmd.Context(), localPath, remotePath, client.UploadOptions{
		Overwrite: uploadOverwrite,
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Printf("Uploaded %s to %s (file id %s)\n", localPath, remotePath, resp.FileID)
	return nil
}
