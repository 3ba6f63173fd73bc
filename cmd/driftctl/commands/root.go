// Package commands implements the CLI commands for the driftctl client.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/driftfs/driftfs/cmd/driftctl/cmdutil"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "driftctl",
	Short: "DriftFS client - Upload, download, and manage files",
	Long: `driftctl is the command-line client for a DriftFS cluster.

It talks to the coordinator for metadata and directly to storage workers
for chunk bytes. Use --proxy when workers are not directly reachable.

Use "driftctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.CoordinatorURL, _ = cmd.Flags().GetString("coordinator")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.UseProxy, _ = cmd.Flags().GetBool("proxy")
	},
}

// ExecuteContext runs the root command with the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("coordinator", "", "Coordinator URL (default: $DRIFTFS_COORDINATOR_URL or "+cmdutil.DefaultCoordinatorURL+")")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("proxy", false, "Route chunk bytes through the coordinator")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
}
