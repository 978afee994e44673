package workeragent

import (
	"context"
	"testing"

	"orchestrator/pkg/aiadapter"
	"orchestrator/pkg/tools"
)

type fakeAdapter struct {
	responses []aiadapter.ChatResponse
	calls     int
}

func (f *fakeAdapter) Chat(_ context.Context, _ aiadapter.ChatRequest) (aiadapter.ChatResponse, error) {
	if f.calls >= len(f.responses) {
		return aiadapter.ChatResponse{Content: "DONE", IsComplete: true}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}
func (f *fakeAdapter) Name() string         { return "fake" }
func (f *fakeAdapter) DefaultModel() string { return "fake-model" }

func newRegistry(t *testing.T, root string) *tools.Registry {
	t.Helper()
	r, err := tools.NewRegistry(
		&tools.WriteFileTool{WorkspaceRoot: root},
		&tools.EditFileTool{WorkspaceRoot: root},
		&tools.TaskCompleteTool{},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRunCompletesOnTaskCompleteToolCall(t *testing.T) {
	root := t.TempDir()
	adapter := &fakeAdapter{responses: []aiadapter.ChatResponse{
		{
			Content: "working on it",
			ToolCalls: []aiadapter.ToolCall{
				{ID: "1", Name: "write_file", Arguments: map[string]any{"path": "out.txt", "content": "hi"}},
				{ID: "2", Name: "task_complete", Arguments: map[string]any{"summary": "done", "artifacts": []any{"out.txt"}}},
			},
		},
	}}
	agent := New("w1", "run1", adapter, newRegistry(t, root), nil, nil, nil)

	result, err := agent.Run(context.Background(), TicketContext{TicketID: "t1", Title: "Do thing"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Summary != "done" {
		t.Errorf("summary = %q, want done", result.Summary)
	}
	if result.Artifacts["out.txt"] != ArtifactCreated {
		t.Errorf("artifacts = %+v", result.Artifacts)
	}
}

func TestRunCompletesOnCompletionSignalSubstring(t *testing.T) {
	root := t.TempDir()
	adapter := &fakeAdapter{responses: []aiadapter.ChatResponse{
		{Content: "All done here. TASK_COMPLETE"},
	}}
	agent := New("w1", "run1", adapter, newRegistry(t, root), nil, nil, nil)

	result, err := agent.Run(context.Background(), TicketContext{TicketID: "t1", Title: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
}

func TestRunHitsIterationCapReturnsPartialNotError(t *testing.T) {
	root := t.TempDir()
	responses := make([]aiadapter.ChatResponse, 0, MaxIterations+1)
	for i := 0; i < MaxIterations+1; i++ {
		responses = append(responses, aiadapter.ChatResponse{Content: "still working, no signal here"})
	}
	adapter := &fakeAdapter{responses: responses}
	agent := New("w1", "run1", adapter, newRegistry(t, root), nil, nil, nil)

	result, err := agent.Run(context.Background(), TicketContext{TicketID: "t1", Title: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", result.Status)
	}
	if result.Iteration != MaxIterations {
		t.Errorf("iteration = %d, want %d", result.Iteration, MaxIterations)
	}
}

func TestEditFileTracksModifiedArtifact(t *testing.T) {
	root := t.TempDir()
	adapter := &fakeAdapter{responses: []aiadapter.ChatResponse{
		{
			ToolCalls: []aiadapter.ToolCall{
				{ID: "1", Name: "write_file", Arguments: map[string]any{"path": "a.txt", "content": "x"}},
			},
		},
		{
			ToolCalls: []aiadapter.ToolCall{
				{ID: "2", Name: "edit_file", Arguments: map[string]any{
					"path":  "a.txt",
					"edits": []any{map[string]any{"old_text": "x", "new_text": "y"}},
				}},
				{ID: "3", Name: "task_complete", Arguments: map[string]any{"summary": "done"}},
			},
		},
	}}
	agent := New("w1", "run1", adapter, newRegistry(t, root), nil, nil, nil)

	result, err := agent.Run(context.Background(), TicketContext{TicketID: "t1", Title: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Artifacts["a.txt"] != ArtifactModified {
		t.Errorf("artifacts = %+v, want a.txt modified (last action wins)", result.Artifacts)
	}
}
