package manager

import (
	"context"
	"errors"
	"testing"

	"orchestrator/pkg/aiadapter"
)

type fakeAdapter struct {
	response aiadapter.ChatResponse
	err      error
	lastReq  aiadapter.ChatRequest
}

func (f *fakeAdapter) Chat(_ context.Context, req aiadapter.ChatRequest) (aiadapter.ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return aiadapter.ChatResponse{}, f.err
	}
	return f.response, nil
}
func (f *fakeAdapter) Name() string         { return "fake" }
func (f *fakeAdapter) DefaultModel() string { return "fake-model" }

func TestDecomposeTaskParsesJSONArray(t *testing.T) {
	adapter := &fakeAdapter{response: aiadapter.ChatResponse{
		Content: `Here is the plan:
[
  {"title": "Add login form", "description": "build the UI", "workerType": "developer", "acceptanceCriteria": ["form renders", "submits credentials"]},
  {"title": "Write tests", "description": "cover the login flow", "workerType": "test", "acceptanceCriteria": ["happy path covered"]}
]
Let me know if changes are needed.`,
	}}
	m := NewAIManager(adapter, nil, nil)

	subtasks, err := m.DecomposeTask(context.Background(), "build a login page")
	if err != nil {
		t.Fatalf("DecomposeTask: %v", err)
	}
	if len(subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d: %+v", len(subtasks), subtasks)
	}
	if subtasks[0].Title != "Add login form" || subtasks[0].WorkerType != "developer" {
		t.Errorf("unexpected first subtask: %+v", subtasks[0])
	}
	if len(subtasks[1].AcceptanceCriteria) != 1 {
		t.Errorf("expected 1 acceptance criterion for second subtask, got %+v", subtasks[1].AcceptanceCriteria)
	}
	if adapter.lastReq.SystemPrompt == "" {
		t.Error("expected a non-empty decomposition system prompt")
	}
}

func TestDecomposeTaskWrapsAdapterError(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	adapter := &fakeAdapter{err: wantErr}
	m := NewAIManager(adapter, nil, nil)

	_, err := m.DecomposeTask(context.Background(), "build a login page")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestDecomposeTaskRejectsMalformedJSON(t *testing.T) {
	adapter := &fakeAdapter{response: aiadapter.ChatResponse{Content: "not json at all"}}
	m := NewAIManager(adapter, nil, nil)

	if _, err := m.DecomposeTask(context.Background(), "build a login page"); err == nil {
		t.Fatal("expected an error parsing malformed JSON")
	}
}

func TestAssignTaskInvokesAssigner(t *testing.T) {
	var assigned []SubTask
	m := NewAIManager(&fakeAdapter{}, nil, func(_ context.Context, st SubTask) error {
		assigned = append(assigned, st)
		return nil
	})

	subtask := SubTask{Title: "Add login form", WorkerType: "developer"}
	if err := m.AssignTask(context.Background(), subtask); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if len(assigned) != 1 || assigned[0].Title != "Add login form" {
		t.Fatalf("assigner did not receive subtask: %+v", assigned)
	}
}

func TestAssignTaskWithoutAssignerReturnsError(t *testing.T) {
	m := NewAIManager(&fakeAdapter{}, nil, nil)
	if err := m.AssignTask(context.Background(), SubTask{Title: "x"}); err == nil {
		t.Fatal("expected an error when no assigner is configured")
	}
}

// compile-time check that AIManager satisfies the Manager contract.
var _ Manager = (*AIManager)(nil)
