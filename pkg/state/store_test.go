package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"orchestrator/pkg/convo"
	"orchestrator/pkg/taxonomy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadTicketsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	type fakeHierarchy struct {
		ProjectID string `json:"projectId"`
		Count     int    `json:"count"`
	}
	in := fakeHierarchy{ProjectID: "proj-001", Count: 3}
	if err := s.SaveTickets("proj-001", in); err != nil {
		t.Fatalf("SaveTickets: %v", err)
	}
	var out fakeHierarchy
	present, err := s.LoadTickets("proj-001", &out)
	if err != nil || !present {
		t.Fatalf("LoadTickets: present=%v err=%v", present, err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestLoadTicketsAbsentIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	var out map[string]any
	present, err := s.LoadTickets("never-saved", &out)
	if err != nil {
		t.Fatalf("expected nil error for absent file, got %v", err)
	}
	if present {
		t.Errorf("expected present=false for never-saved project")
	}
}

func TestExecutionStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rs := &RunState{
		RunID:    "run-001",
		TicketID: "proj-001-0001",
		Status:   RunRunning,
		WorkerStates: map[string]WorkerState{
			"worker-1": {WorkerID: "worker-1", Status: "working"},
		},
	}
	if err := s.SaveExecutionState(rs); err != nil {
		t.Fatalf("SaveExecutionState: %v", err)
	}
	loaded, present, err := s.LoadExecutionState("run-001")
	if err != nil || !present {
		t.Fatalf("LoadExecutionState: present=%v err=%v", present, err)
	}
	if loaded.Status != RunRunning || loaded.WorkerStates["worker-1"].Status != "working" {
		t.Errorf("unexpected loaded state: %+v", loaded)
	}
}

func TestPauseExecutionIsIdempotentWhenAlreadyPaused(t *testing.T) {
	s := newTestStore(t)
	rs := &RunState{RunID: "run-002", Status: RunPaused}
	if err := s.SaveExecutionState(rs); err != nil {
		t.Fatal(err)
	}
	if err := s.PauseExecution("run-002"); err != nil {
		t.Errorf("pausing an already-paused run should be a no-op, got %v", err)
	}
}

func TestPauseExecutionRejectsTerminalStates(t *testing.T) {
	s := newTestStore(t)
	for _, status := range []RunStatus{RunCompleted, RunFailed} {
		rs := &RunState{RunID: "run-" + string(status), Status: status}
		if err := s.SaveExecutionState(rs); err != nil {
			t.Fatal(err)
		}
		err := s.PauseExecution("run-" + string(status))
		if !errors.Is(err, taxonomy.ErrInvalidState) {
			t.Errorf("pausing a %s run: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestResumeExecutionRequiresPaused(t *testing.T) {
	s := newTestStore(t)
	rs := &RunState{RunID: "run-003", Status: RunRunning}
	if err := s.SaveExecutionState(rs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ResumeExecution("run-003"); !errors.Is(err, taxonomy.ErrInvalidState) {
		t.Errorf("resuming a running run: expected ErrInvalidState, got %v", err)
	}
}

func TestResumeExecutionReturnsWorkerIDs(t *testing.T) {
	s := newTestStore(t)
	rs := &RunState{
		RunID:  "run-004",
		Status: RunPaused,
		WorkerStates: map[string]WorkerState{
			"worker-a": {WorkerID: "worker-a"},
			"worker-b": {WorkerID: "worker-b"},
		},
	}
	if err := s.SaveExecutionState(rs); err != nil {
		t.Fatal(err)
	}
	ids, err := s.ResumeExecution("run-004")
	if err != nil {
		t.Fatalf("ResumeExecution: %v", err)
	}
	if len(ids) != 2 || ids[0] != "worker-a" || ids[1] != "worker-b" {
		t.Errorf("unexpected worker IDs: %v", ids)
	}
	reloaded, _, _ := s.LoadExecutionState("run-004")
	if reloaded.Status != RunRunning {
		t.Errorf("expected run status running after resume, got %s", reloaded.Status)
	}
}

func TestConversationRoundTripPerWorker(t *testing.T) {
	s := newTestStore(t)
	h := &convo.History{}
	h.AddMessage(convo.RoleUser, "do the thing")
	h.AddTokens(42)

	if err := s.SaveConversation("run-005", "worker-1", h); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	all, present, err := s.LoadConversations("run-005")
	if err != nil || !present {
		t.Fatalf("LoadConversations: present=%v err=%v", present, err)
	}
	got, ok := all["worker-1"]
	if !ok || got.TotalTokens != 42 || len(got.Messages) != 1 {
		t.Errorf("unexpected conversation: %+v", got)
	}
}

func TestFindInProgressExecutionsOrdersByLastUpdatedDescending(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := nowFunc
	defer func() { nowFunc = restore }()

	nowFunc = func() time.Time { return base }
	if err := s.SaveExecutionState(&RunState{RunID: "old", Status: RunRunning}); err != nil {
		t.Fatal(err)
	}
	nowFunc = func() time.Time { return base.Add(time.Hour) }
	if err := s.SaveExecutionState(&RunState{RunID: "new", Status: RunPaused}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveExecutionState(&RunState{RunID: "done", Status: RunCompleted}); err != nil {
		t.Fatal(err)
	}

	results, err := s.FindInProgressExecutions()
	if err != nil {
		t.Fatalf("FindInProgressExecutions: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 in-progress runs, got %d: %v", len(results), results)
	}
	if results[0].RunID != "new" || results[1].RunID != "old" {
		t.Errorf("expected [new, old] order, got [%s, %s]", results[0].RunID, results[1].RunID)
	}
}

func TestCleanupOldRunsRemovesOnlyStaleTerminalRuns(t *testing.T) {
	s := newTestStore(t)
	restore := nowFunc
	defer func() { nowFunc = restore }()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return old }
	if err := s.SaveExecutionState(&RunState{RunID: "stale-completed", Status: RunCompleted}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveExecutionState(&RunState{RunID: "stale-paused", Status: RunPaused}); err != nil {
		t.Fatal(err)
	}

	recent := old.Add(6 * 24 * time.Hour)
	nowFunc = func() time.Time { return recent }
	if err := s.SaveExecutionState(&RunState{RunID: "fresh-completed", Status: RunCompleted}); err != nil {
		t.Fatal(err)
	}

	nowFunc = func() time.Time { return old.Add(8 * 24 * time.Hour) }
	removed, err := s.CleanupOldRuns(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldRuns: %v", err)
	}
	if len(removed) != 1 || removed[0] != "stale-completed" {
		t.Errorf("expected only stale-completed removed, got %v", removed)
	}

	if _, present, _ := s.LoadExecutionState("stale-paused"); !present {
		t.Errorf("paused run must survive cleanup regardless of age")
	}
	if _, present, _ := s.LoadExecutionState("fresh-completed"); !present {
		t.Errorf("recently completed run must survive cleanup")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	type fakeConfig struct {
		MaxWorkers int `json:"maxWorkers"`
	}
	if err := s.SaveConfig(fakeConfig{MaxWorkers: 5}); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	var out fakeConfig
	present, err := s.LoadConfig(&out)
	if err != nil || !present || out.MaxWorkers != 5 {
		t.Errorf("LoadConfig round trip failed: present=%v err=%v out=%+v", present, err, out)
	}
}
