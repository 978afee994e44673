package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func schemaObject(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// workspaceJoin resolves path relative to root and rejects any attempt to
// escape the workspace via "..".
func workspaceJoin(root, path string) (string, error) {
	cleaned := filepath.Join(root, path)
	if !strings.HasPrefix(cleaned, filepath.Clean(root)+string(filepath.Separator)) && cleaned != filepath.Clean(root) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return cleaned, nil
}

// ReadFileTool implements read_file(path) -> {content, error?}.
type ReadFileTool struct {
	WorkspaceRoot string
}

func (t *ReadFileTool) Definition() Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read the full contents of a file in the workspace.",
		Schema:      schemaObject(map[string]any{"path": stringProp("relative path within the workspace")}, []string{"path"}),
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	full, err := workspaceJoin(t.WorkspaceRoot, path)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	return map[string]any{"content": string(data)}, nil
}

// WriteFileTool implements write_file(path, content) -> {success, error?}.
type WriteFileTool struct {
	WorkspaceRoot string
}

func (t *WriteFileTool) Definition() Definition {
	return Definition{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace with the given content.",
		Schema: schemaObject(map[string]any{
			"path":    stringProp("relative path within the workspace"),
			"content": stringProp("full file content to write"),
		}, []string{"path", "content"}),
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	full, err := workspaceJoin(t.WorkspaceRoot, path)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true}, nil
}

// Edit is a single find-and-replace edit within edit_file's edits[] array.
type Edit struct {
	OldText string
	NewText string
}

// EditFileTool implements edit_file(path, edits[]) -> {success, error?}.
type EditFileTool struct {
	WorkspaceRoot string
}

func (t *EditFileTool) Definition() Definition {
	return Definition{
		Name:        "edit_file",
		Description: "Apply one or more exact find-and-replace edits to an existing file.",
		Schema: schemaObject(map[string]any{
			"path": stringProp("relative path within the workspace"),
			"edits": map[string]any{
				"type": "array",
				"items": schemaObject(map[string]any{
					"old_text": stringProp("exact text to find"),
					"new_text": stringProp("replacement text"),
				}, []string{"old_text", "new_text"}),
			},
		}, []string{"path", "edits"}),
	}
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	full, err := workspaceJoin(t.WorkspaceRoot, path)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	content := string(data)

	rawEdits, _ := args["edits"].([]any)
	for _, raw := range rawEdits {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		oldText, _ := m["old_text"].(string)
		newText, _ := m["new_text"].(string)
		if !strings.Contains(content, oldText) {
			return map[string]any{"success": false, "error": fmt.Sprintf("old_text not found: %q", oldText)}, nil
		}
		content = strings.Replace(content, oldText, newText, 1)
	}

	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true}, nil
}

// ListDirectoryTool implements list_directory(path) -> {entries[], error?}.
type ListDirectoryTool struct {
	WorkspaceRoot string
}

func (t *ListDirectoryTool) Definition() Definition {
	return Definition{
		Name:        "list_directory",
		Description: "List the entries of a directory in the workspace.",
		Schema:      schemaObject(map[string]any{"path": stringProp("relative path within the workspace")}, []string{"path"}),
	}
}

func (t *ListDirectoryTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	full, err := workspaceJoin(t.WorkspaceRoot, path)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]any{"entries": names}, nil
}
