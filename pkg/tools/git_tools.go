package tools

import (
	"context"

	"orchestrator/pkg/gitdriver"
)

// GitCommitTool implements git_commit(message, files?) -> {commitHash?, error?}.
type GitCommitTool struct {
	Driver *gitdriver.Driver
}

func (t *GitCommitTool) Definition() Definition {
	return Definition{
		Name:        "git_commit",
		Description: "Stage and commit changes in the workspace's git repository.",
		Schema: schemaObject(map[string]any{
			"message": stringProp("commit message"),
			"files":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "specific files to stage; omit to stage everything"},
		}, []string{"message"}),
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	var files []string
	if raw, ok := args["files"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				files = append(files, s)
			}
		}
	}
	result := t.Driver.Commit(ctx, message, files)
	if result.Error != "" {
		return map[string]any{"error": result.Error}, nil
	}
	return map[string]any{"commitHash": result.CommitHash}, nil
}

// GitStatusTool implements git_status() -> {branch, modified[], staged[], untracked[]}.
type GitStatusTool struct {
	Driver *gitdriver.Driver
}

func (t *GitStatusTool) Definition() Definition {
	return Definition{
		Name:        "git_status",
		Description: "Report the working tree status of the workspace's git repository.",
		Schema:      schemaObject(map[string]any{}, nil),
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, _ map[string]any) (any, error) {
	status, err := t.Driver.Status(ctx)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	return map[string]any{
		"branch":    status.Branch,
		"modified":  status.Modified,
		"staged":    status.Staged,
		"untracked": status.Untracked,
	}, nil
}
