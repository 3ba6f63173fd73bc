// Package cmdutil provides shared utilities for driftctl commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/driftfs/driftfs/internal/bytesize"
	"github.com/driftfs/driftfs/internal/cli/output"
	"github.com/driftfs/driftfs/pkg/client"
)

// DefaultCoordinatorURL is used when neither the flag nor the environment
// variable names a coordinator.
const DefaultCoordinatorURL = "http://localhost:8000"

// EnvCoordinatorURL overrides the default coordinator URL.
const EnvCoordinatorURL = "DRIFTFS_COORDINATOR_URL"

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	CoordinatorURL string
	Output         string
	UseProxy       bool
}

// CoordinatorURL resolves the coordinator base URL from the flag, the
// environment, or the default, in that order.
func CoordinatorURL() string {
	if Flags.CoordinatorURL != "" {
		return Flags.CoordinatorURL
	}
	if url := os.Getenv(EnvCoordinatorURL); url != "" {
		return url
	}
	return DefaultCoordinatorURL
}

// GetClient returns a DriftFS client configured from the global flags.
func GetClient() *client.Client {
	opts := client.DefaultOptions()
	opts.UseProxy = Flags.UseProxy
	return client.NewWithOptions(CoordinatorURL(), opts)
}

// GetOutputFormat returns the parsed output format.
func GetOutputFormat() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintOutput prints data in the selected format. For table format it
// displays emptyMsg when the data set is empty, otherwise renders the table.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, renderer output.TableRenderer) error {
	format, err := GetOutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatTable && isEmpty {
		_, _ = fmt.Fprintln(w, emptyMsg)
		return nil
	}
	return output.Print(w, format, data, renderer)
}

// PrintResource prints a single resource in the selected format, rendering
// field/value pairs in table mode.
func PrintResource(w io.Writer, data any, pairs [][2]string) error {
	format, err := GetOutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		return output.PrintKeyValues(w, pairs)
	}
	return output.Print(w, format, data, nil)
}

// FormatBytes renders a byte count in human-readable units.
func FormatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return bytesize.ByteSize(uint64(n)).String()
}

// EmptyOr returns the value if not empty, otherwise the fallback.
// Useful for table cells where empty fields should show "-".
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
