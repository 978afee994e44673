package commands

import (
	"github.com/spf13/cobra"

	"orchestrator/internal/printer"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause all agents",
	Long:  `pause sets the running orchestrator's global pause flag; active workers stop being dispatched new work until "resume" is run.`,
	RunE:  runPause,
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}

func runPause(_ *cobra.Command, _ []string) error {
	if err := postJSON("/control/pause", nil, nil); err != nil {
		return printer.Error("Failed to pause agents", err.Error(), []string{
			"check that \"orchestratorctl serve\" is running and reachable at --server",
		})
	}
	printer.Success("all agents paused\n")
	return nil
}
