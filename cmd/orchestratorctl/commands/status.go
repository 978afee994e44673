package commands

import (
	"github.com/spf13/cobra"

	"orchestrator/internal/printer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List active workers and their current status",
	Long:  `status prints the worker pool's current snapshot as a table, with every worker's status shown as "paused" while the global pause flag is set, and as "terminated" once the orchestrator has been emergency-stopped.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	var resp statusResponse
	if err := getJSON("/agents", &resp); err != nil {
		return printer.Error("Failed to fetch status", err.Error(), []string{
			"check that \"orchestratorctl serve\" is running and reachable at --server",
		})
	}

	if resp.EmergencyStopped {
		printer.Warning("orchestrator is emergency-stopped\n")
	}

	rows := make([]printer.AgentStatusRow, 0, len(resp.Agents))
	for _, a := range resp.Agents {
		rows = append(rows, printer.AgentStatusRow{WorkerID: a.WorkerID, WorkerType: a.WorkerType, Status: a.Status})
	}
	printer.AgentTable(rows)
	return nil
}
