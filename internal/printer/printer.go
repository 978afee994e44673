// Package printer formats orchestratorctl's terminal output: colored status
// lines and tabular run/agent listings, kept separate from the command
// tree so every subcommand renders output the same way.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

func init() {
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "!") {
		yellow.Printf("! %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Step prints an in-progress step message in cyan.
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Error formats a title/explanation/suggestions error to stderr in red and
// returns a plain error for cobra to propagate (rootCmd.SilenceErrors means
// cobra never prints it itself).
func Error(title, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		for _, s := range suggestions {
			fmt.Fprintf(os.Stderr, "  - %s\n", s)
		}
	}
	return fmt.Errorf("%s", title)
}

// AgentStatusRow is one row of the "status" table: workerId, type, and the
// plain status string; AgentTable color-codes it via StatusColor.
type AgentStatusRow struct {
	WorkerID   string
	WorkerType string
	Status     string
}

// StatusColor renders a raw status string in its conventional color: green
// for working states, yellow for idle/paused, red for failed/terminated.
func StatusColor(status string) string {
	switch status {
	case "working", "running", "completed":
		return green.Sprint(status)
	case "idle", "paused", "waiting_approval":
		return yellow.Sprint(status)
	case "failed", "terminated":
		return red.Sprint(status)
	default:
		return status
	}
}

// AgentTable renders rows as a bordered table to stdout, matching the
// worker-pool snapshot layout operators expect from "orchestratorctl status".
func AgentTable(rows []AgentStatusRow) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("WORKER ID", "TYPE", "STATUS")
	for _, r := range rows {
		_ = table.Append([]string{r.WorkerID, r.WorkerType, StatusColor(r.Status)})
	}
	_ = table.Render()
}
