package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
)

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path> <local-file>",
	Short: "Download a file",
	Long: `Download a file from the cluster.

Chunks are fetched from replicas in parallel and every chunk is verified
against its committed checksum before the download succeeds.

Examples:
  # Download a file
  driftctl download /docs/report.pdf ./report.pdf

  # Download through the coordinator
  driftctl download /docs/report.pdf ./report.pdf --proxy`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	remotePath, localPath := args[0], args[1]

	c := cmdutil.GetClient()
	file, err := c.DownloadFile(cmd.Context(), remotePath, localPath)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	fmt.Printf("Downloaded %s to %s (%s)\n", remotePath, localPath, cmdutil.FormatBytes(file.Size))
	return nil
}
