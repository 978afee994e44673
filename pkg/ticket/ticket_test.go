package ticket

import (
	"testing"
)

func TestIDLevelClassifiesExactlyOneLevel(t *testing.T) {
	cases := map[string]Level{
		"proj-001-0001":         LevelParent,
		"proj-001-0001-01":      LevelChild,
		"proj-001-0001-01-001":  LevelGrandchild,
		"not-an-id":             LevelUnknown,
	}
	for id, want := range cases {
		if got := IDLevel(id); got != want {
			t.Errorf("IDLevel(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestHierarchyCreateAndPropagate(t *testing.T) {
	h, err := NewHierarchy("proj-001")
	if err != nil {
		t.Fatalf("NewHierarchy: %v", err)
	}
	parent, err := h.AddParent("build feature X", "Feature X")
	if err != nil {
		t.Fatalf("AddParent: %v", err)
	}
	child, err := h.AddChild(parent.ID, "implement backend", WorkerDeveloper)
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	grand, err := h.AddGrandchild(child.ID, "write handler", []string{"A", "B"})
	if err != nil {
		t.Fatalf("AddGrandchild: %v", err)
	}

	if IDLevel(parent.ID) != LevelParent || IDLevel(child.ID) != LevelChild || IDLevel(grand.ID) != LevelGrandchild {
		t.Fatalf("generated IDs do not match their expected levels: %s %s %s", parent.ID, child.ID, grand.ID)
	}

	if err := h.UpdateTicketStatus(grand.ID, StatusCompleted); err != nil {
		t.Fatalf("UpdateTicketStatus: %v", err)
	}

	updatedChild, ok := h.FindChild(child.ID)
	if !ok || updatedChild.Status != StatusCompleted {
		t.Fatalf("expected child status completed, got %+v", updatedChild)
	}
	updatedParent, ok := h.FindParent(parent.ID)
	if !ok || updatedParent.Status != StatusCompleted {
		t.Fatalf("expected parent status completed, got %+v", updatedParent)
	}
}

func TestDerivedStatusRules(t *testing.T) {
	cases := []struct {
		name   string
		in     []Status
		want   Status
		wantOK bool
	}{
		{"all completed", []Status{StatusCompleted, StatusCompleted}, StatusCompleted, true},
		{"any failed wins", []Status{StatusCompleted, StatusFailed, StatusInProgress}, StatusFailed, true},
		{"any in progress", []Status{StatusPending, StatusInProgress}, StatusInProgress, true},
		{"any review requested counts as in progress", []Status{StatusPending, StatusReviewRequested}, StatusInProgress, true},
		{"any decomposing", []Status{StatusPending, StatusDecomposing}, StatusDecomposing, true},
		{"all pending, no rule matches", []Status{StatusPending, StatusPending}, "", false},
		{"empty", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := derivedStatus(tc.in)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("derivedStatus(%v) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestPropagationIsIdempotent(t *testing.T) {
	h, _ := NewHierarchy("proj-002")
	parent, _ := h.AddParent("instr", "title")
	child, _ := h.AddChild(parent.ID, "child", WorkerDeveloper)
	grand, _ := h.AddGrandchild(child.ID, "leaf", nil)

	if err := h.UpdateTicketStatus(grand.ID, StatusCompleted); err != nil {
		t.Fatal(err)
	}
	beforeParent, _ := h.FindParent(parent.ID)
	beforeStatus := beforeParent.Status
	beforeUpdated := beforeParent.UpdatedAt

	// A second propagation on an already-consistent tree must change nothing.
	if err := h.PropagateStatusToParent(child.ID); err != nil {
		t.Fatal(err)
	}
	afterParent, _ := h.FindParent(parent.ID)
	if afterParent.Status != beforeStatus {
		t.Errorf("second propagation changed status: %v -> %v", beforeStatus, afterParent.Status)
	}
	if !afterParent.UpdatedAt.Equal(beforeUpdated) {
		t.Errorf("second propagation touched UpdatedAt though nothing changed")
	}
}

func TestPropagateStatusToParentResolvesGrandchildID(t *testing.T) {
	h, _ := NewHierarchy("proj-003")
	parent, _ := h.AddParent("instr", "title")
	child, _ := h.AddChild(parent.ID, "child", WorkerDeveloper)
	grand, _ := h.AddGrandchild(child.ID, "leaf", nil)

	// Set the grandchild's status directly (bypassing UpdateTicketStatus's
	// own recomputeChildStatus step) so PropagateStatusToParent, called with
	// the raw grandchild ID, is the only thing resolving it up to the child.
	updatedGrand, ok := h.FindGrandchild(grand.ID)
	if !ok {
		t.Fatalf("FindGrandchild(%s) not found", grand.ID)
	}
	updatedGrand.Status = StatusCompleted
	updatedChild, ok := h.FindChild(child.ID)
	if !ok {
		t.Fatalf("FindChild(%s) not found", child.ID)
	}
	updatedChild.Status = StatusCompleted

	if err := h.PropagateStatusToParent(grand.ID); err != nil {
		t.Fatalf("PropagateStatusToParent(grandchildID): %v", err)
	}
	updatedParent, ok := h.FindParent(parent.ID)
	if !ok || updatedParent.Status != StatusCompleted {
		t.Fatalf("expected parent status completed via grandchild-ID resolution, got %+v", updatedParent)
	}
}

func TestAddChildRejectsInvalidWorkerType(t *testing.T) {
	h, _ := NewHierarchy("proj-003")
	parent, _ := h.AddParent("instr", "title")
	if _, err := h.AddChild(parent.ID, "child", WorkerType("not-a-real-type")); err == nil {
		t.Fatal("expected error for invalid worker type")
	}
}

func TestAddParentRejectsEmptyFields(t *testing.T) {
	h, _ := NewHierarchy("proj-004")
	if _, err := h.AddParent("", "title"); err == nil {
		t.Fatal("expected error for empty instruction")
	}
	if _, err := h.AddParent("instr", ""); err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestSequenceNumbersAreZeroPaddedAndMonotonic(t *testing.T) {
	h, _ := NewHierarchy("proj-005")
	parent, _ := h.AddParent("instr", "title")
	for i := 0; i < 3; i++ {
		if _, err := h.AddChild(parent.ID, "child", WorkerDeveloper); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"proj-005-0001-01", "proj-005-0001-02", "proj-005-0001-03"}
	for i, c := range parent.ChildTickets {
		if c.ID != want[i] {
			t.Errorf("child[%d].ID = %s, want %s", i, c.ID, want[i])
		}
	}
}
