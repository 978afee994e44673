package commands

import (
	"github.com/spf13/cobra"

	"orchestrator/internal/printer"
)

var submitProjectID string

var submitCmd = &cobra.Command{
	Use:   "submit <instruction>",
	Short: "Submit a new task instruction to the orchestrator",
	Long:  `submit hands an instruction to a running "orchestratorctl serve" process and prints the generated taskId. The task runs asynchronously; use "status" to follow its progress.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitProjectID, "project", "p", "", "project ID the task's ticket hierarchy belongs to (required)")
	_ = submitCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var resp submitResponse
	err := postJSON("/tasks", submitRequest{Instruction: args[0], ProjectID: submitProjectID}, &resp)
	if err != nil {
		return printer.Error("Task submission rejected", err.Error(), []string{
			"check that \"orchestratorctl serve\" is running and reachable at --server",
			"check that the orchestrator has not been emergency-stopped",
		})
	}

	printer.Success("submitted task %s\n", resp.TaskID)
	cmd.Println(resp.TaskID)
	return nil
}
