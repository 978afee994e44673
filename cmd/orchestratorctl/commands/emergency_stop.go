package commands

import (
	"github.com/spf13/cobra"

	"orchestrator/internal/printer"
)

var emergencyStopCmd = &cobra.Command{
	Use:   "emergency-stop",
	Short: "Force-terminate every in-flight workflow and halt the orchestrator",
	Long: `emergency-stop is the absorbing terminal control-plane action: every tracked
WorkflowEngine is force-terminated, and no future submit or resume call succeeds
against this orchestrator process, regardless of call order.`,
	RunE: runEmergencyStop,
}

func init() {
	rootCmd.AddCommand(emergencyStopCmd)
}

func runEmergencyStop(_ *cobra.Command, _ []string) error {
	if err := postJSON("/control/emergency-stop", nil, nil); err != nil {
		return printer.Error("Failed to emergency-stop", err.Error(), []string{
			"check that \"orchestratorctl serve\" is running and reachable at --server",
		})
	}
	printer.Warning("emergency stop engaged; all workflows force-terminated\n")
	return nil
}
