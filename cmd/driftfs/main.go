package main

import (
	"os"

	"github.com/driftfs/driftfs/cmd/driftfs/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
