package tools

import "context"

// TaskCompleteTool implements task_complete(summary, artifacts?), the
// explicit signal that terminates a WorkerAgent's conversation loop (spec
// §4.5). Execute never errors: the loop's caller inspects the ToolCallRecord
// name to detect completion, not this tool's return value.
type TaskCompleteTool struct{}

func (t *TaskCompleteTool) Definition() Definition {
	return Definition{
		Name:        "task_complete",
		Description: "Signal that the assigned ticket is complete. Ends the conversation loop.",
		Schema: schemaObject(map[string]any{
			"summary":   stringProp("a summary of the work performed"),
			"artifacts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "paths of files created or modified"},
		}, []string{"summary"}),
	}
}

func (t *TaskCompleteTool) Execute(_ context.Context, args map[string]any) (any, error) {
	summary, _ := args["summary"].(string)
	var artifacts []string
	if raw, ok := args["artifacts"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				artifacts = append(artifacts, s)
			}
		}
	}
	return map[string]any{"summary": summary, "artifacts": artifacts}, nil
}
