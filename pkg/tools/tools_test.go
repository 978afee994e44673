package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"orchestrator/pkg/taxonomy"
)

func TestReadWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	write := &WriteFileTool{WorkspaceRoot: root}
	read := &ReadFileTool{WorkspaceRoot: root}

	if _, err := write.Execute(context.Background(), map[string]any{"path": "a/b.txt", "content": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := read.Execute(context.Background(), map[string]any{"path": "a/b.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m := out.(map[string]any)
	if m["content"] != "hello" {
		t.Errorf("got %v, want hello", m["content"])
	}
}

func TestWorkspaceJoinRejectsEscape(t *testing.T) {
	root := t.TempDir()
	if _, err := workspaceJoin(root, "../../etc/passwd"); err == nil {
		t.Fatal("expected rejection for path escaping the workspace")
	}
}

func TestEditFileAppliesSequentialEdits(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc old() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	edit := &EditFileTool{WorkspaceRoot: root}
	out, err := edit.Execute(context.Background(), map[string]any{
		"path": "file.go",
		"edits": []any{
			map[string]any{"old_text": "old", "new_text": "renamed"},
		},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if success, _ := out.(map[string]any)["success"].(bool); !success {
		t.Fatalf("expected success, got %+v", out)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "package main\n\nfunc renamed() {}\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestEditFileReportsMissingOldText(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.go")
	_ = os.WriteFile(path, []byte("content"), 0o644)
	edit := &EditFileTool{WorkspaceRoot: root}
	out, _ := edit.Execute(context.Background(), map[string]any{
		"path":  "file.go",
		"edits": []any{map[string]any{"old_text": "not-there", "new_text": "x"}},
	})
	m := out.(map[string]any)
	if success, _ := m["success"].(bool); success {
		t.Fatal("expected failure for missing old_text")
	}
}

func TestListDirectorySortsEntries(t *testing.T) {
	root := t.TempDir()
	_ = os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(root, "sub"), 0o755)

	list := &ListDirectoryTool{WorkspaceRoot: root}
	out, err := list.Execute(context.Background(), map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries := out.(map[string]any)["entries"].([]string)
	want := []string{"a.txt", "b.txt", "sub/"}
	if len(entries) != len(want) {
		t.Fatalf("got %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i], want[i])
		}
	}
}

func TestTaskCompleteEchoesSummaryAndArtifacts(t *testing.T) {
	tc := &TaskCompleteTool{}
	out, err := tc.Execute(context.Background(), map[string]any{
		"summary":   "did the work",
		"artifacts": []any{"main.go"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := out.(map[string]any)
	if m["summary"] != "did the work" {
		t.Errorf("summary = %v", m["summary"])
	}
}

func TestRegistryDispatchRejectsInvalidArguments(t *testing.T) {
	root := t.TempDir()
	r, err := NewRegistry(&ReadFileTool{WorkspaceRoot: root})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	_, err = r.Dispatch(context.Background(), "read_file", map[string]any{})
	if !errors.Is(err, taxonomy.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing required path, got %v", err)
	}
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	r, err := NewRegistry(&TaskCompleteTool{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	_, err = r.Dispatch(context.Background(), "bogus_tool", map[string]any{})
	if !errors.Is(err, taxonomy.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryDispatchRunsValidCall(t *testing.T) {
	root := t.TempDir()
	_ = os.WriteFile(filepath.Join(root, "f.txt"), []byte("data"), 0o644)
	r, err := NewRegistry(&ReadFileTool{WorkspaceRoot: root})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	out, err := r.Dispatch(context.Background(), "read_file", map[string]any{"path": "f.txt"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.(map[string]any)["content"] != "data" {
		t.Errorf("unexpected output: %+v", out)
	}
}
