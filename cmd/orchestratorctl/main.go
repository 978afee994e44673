package main

import (
	"os"

	"orchestrator/cmd/orchestratorctl/commands"
)

// Build metadata, set via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
