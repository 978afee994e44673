package commands

import (
	"github.com/spf13/cobra"

	"orchestrator/internal/printer"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume all agents",
	Long:  `resume clears the running orchestrator's global pause flag. It fails once the orchestrator has been emergency-stopped, which is an absorbing terminal state.`,
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(_ *cobra.Command, _ []string) error {
	if err := postJSON("/control/resume", nil, nil); err != nil {
		return printer.Error("Failed to resume agents", err.Error(), []string{
			"an emergency-stopped orchestrator cannot be resumed; restart \"orchestratorctl serve\" instead",
		})
	}
	printer.Success("all agents resumed\n")
	return nil
}
