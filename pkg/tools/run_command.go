package tools

import (
	"context"
	"time"

	"orchestrator/pkg/containerrt"
)

// RunCommandTool implements run_command(command, timeout?) ->
// {stdout, stderr, exitCode, timedOut}, dispatching through the same
// containerrt.Runtime that owns the worker's container, so the command
// string validation of spec §4.1 applies uniformly.
type RunCommandTool struct {
	Runtime        containerrt.Runtime
	DefaultTimeout time.Duration
}

func (t *RunCommandTool) Definition() Definition {
	return Definition{
		Name:        "run_command",
		Description: "Execute a shell command against the worker's container runtime.",
		Schema: schemaObject(map[string]any{
			"command": stringProp("the full command string to execute"),
			"timeout": map[string]any{"type": "integer", "description": "timeout in seconds, optional"},
		}, []string{"command"}),
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	timeout := t.DefaultTimeout
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	result, err := t.Runtime.RunCommand(ctx, command, timeout)
	if err != nil {
		return map[string]any{
			"stdout":   result.Stdout,
			"stderr":   err.Error(),
			"exitCode": result.ExitCode,
			"timedOut": result.TimedOut,
		}, nil
	}
	return map[string]any{
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"exitCode": result.ExitCode,
		"timedOut": result.TimedOut,
	}, nil
}
