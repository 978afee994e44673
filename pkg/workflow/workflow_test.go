package workflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"orchestrator/pkg/containerrt"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/manager"
	"orchestrator/pkg/pool"
	"orchestrator/pkg/qualitygate"
	"orchestrator/pkg/state"
	"orchestrator/pkg/ticket"
)

// failingLintRuntime fails every command it runs, so a gate configured with
// it always reports a lint failure without needing a real container backend.
type failingLintRuntime struct{}

func (failingLintRuntime) CreateContainer(context.Context, containerrt.CreateOpts) (string, error) {
	return "", nil
}
func (failingLintRuntime) StopContainer(context.Context, string) error   { return nil }
func (failingLintRuntime) RemoveContainer(context.Context, string) error { return nil }
func (failingLintRuntime) GetContainerLogs(context.Context, string, containerrt.LogsOpts) (string, error) {
	return "", nil
}
func (failingLintRuntime) InspectContainer(context.Context, string) (map[string]any, error) {
	return nil, nil
}
func (failingLintRuntime) Mode() containerrt.Mode { return containerrt.ModeHostSocket }
func (failingLintRuntime) RunCommand(context.Context, string, time.Duration) (containerrt.CommandResult, error) {
	return containerrt.CommandResult{ExitCode: 1, Stderr: "lint errors found"}, nil
}

type fakeManager struct {
	subtasks []manager.SubTask
}

func (m *fakeManager) ReceiveTask(context.Context, string) error { return nil }
func (m *fakeManager) DecomposeTask(context.Context, string) ([]manager.SubTask, error) {
	return m.subtasks, nil
}
func (m *fakeManager) AssignTask(context.Context, manager.SubTask) error  { return nil }
func (m *fakeManager) StartProgressMonitoring(context.Context) error { return nil }

func testFactory() pool.Factory {
	var counter int64
	return func(_ context.Context, workerType string, _ []string) (string, error) {
		n := atomic.AddInt64(&counter, 1)
		return fmt.Sprintf("%s-worker-%d", workerType, n), nil
	}
}

func newTestPool() *pool.Pool {
	registry := pool.NewTypeRegistry(map[string]pool.TypeProfile{
		"developer": {Capabilities: []string{"developer"}},
		"test":      {Capabilities: []string{"test"}},
	})
	return pool.New(pool.Config{MaxWorkers: 4, Factory: testFactory(), TypeRegistry: registry}, logx.NewLogger("test"))
}

func newTestEngine(t *testing.T, exec Executor) (*Engine, *ticket.Hierarchy) {
	t.Helper()
	hierarchy, err := ticket.NewHierarchy("proj-1")
	if err != nil {
		t.Fatalf("NewHierarchy: %v", err)
	}
	mgr := &fakeManager{subtasks: []manager.SubTask{
		{Title: "build feature", WorkerType: "developer"},
		{Title: "write tests", WorkerType: "test"},
	}}
	e, err := New(Config{
		RunID:     "run-1",
		ProjectID: "proj-1",
		Manager:   mgr,
		Pool:      newTestPool(),
		Hierarchy: hierarchy,
		Executor:  exec,
		Gate:      qualitygate.Config{SkipLint: true, SkipTest: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, hierarchy
}

func succeedingExecutor(_ context.Context, _ *pool.WorkerInfo, child ticket.ChildTicket) (DevelopmentResult, error) {
	return DevelopmentResult{Success: true, Artifacts: []string{child.ID + "/out.txt"}}, nil
}

func TestProposeAdvancesToApprovalAndCreatesChildTickets(t *testing.T) {
	e, hierarchy := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()

	if err := e.Propose(ctx, "build a login page", "Login page"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if e.Phase() != PhaseApproval {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseApproval)
	}
	if e.Status() != state.RunWaitingApproval {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunWaitingApproval)
	}
	parents := hierarchy.ListParents()
	if len(parents) != 1 || len(parents[0].ChildTickets) != 2 {
		t.Fatalf("expected 1 parent with 2 children, got %+v", parents)
	}
}

func TestApproveAdvancesToDevelopment(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)

	if err := e.SubmitApprovalDecision(ctx, ApprovalDecision{Action: ActionApprove, DecidedBy: "alice"}); err != nil {
		t.Fatalf("SubmitApprovalDecision: %v", err)
	}
	if e.Phase() != PhaseDevelopment {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseDevelopment)
	}
	if e.Status() != state.RunRunning {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunRunning)
	}
}

func TestRejectTerminatesWorkflow(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)

	if err := e.SubmitApprovalDecision(ctx, ApprovalDecision{Action: ActionReject, DecidedBy: "alice"}); err != nil {
		t.Fatalf("SubmitApprovalDecision: %v", err)
	}
	if e.Status() != state.RunTerminated {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunTerminated)
	}
}

func TestRequestChangesReturnsToProposal(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)

	if err := e.SubmitApprovalDecision(ctx, ApprovalDecision{Action: ActionRequestChange, DecidedBy: "alice"}); err != nil {
		t.Fatalf("SubmitApprovalDecision: %v", err)
	}
	if e.Phase() != PhaseProposal {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseProposal)
	}
}

func TestRunDevelopmentAwaitsAllWorkersBeforeAdvancing(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	mustApprove(t, e, ctx)

	if err := e.RunDevelopment(ctx, time.Second); err != nil {
		t.Fatalf("RunDevelopment: %v", err)
	}
	if e.Phase() != PhaseQualityAssurance {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseQualityAssurance)
	}
	if e.Status() != state.RunRunning {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunRunning)
	}
}

func TestRunDevelopmentAnyWorkerFailureFailsWorkflowWithoutAbortingSiblings(t *testing.T) {
	var calls int32
	exec := func(_ context.Context, _ *pool.WorkerInfo, child ticket.ChildTicket) (DevelopmentResult, error) {
		atomic.AddInt32(&calls, 1)
		if child.WorkerType == ticket.WorkerTest {
			return DevelopmentResult{Success: false}, nil
		}
		return DevelopmentResult{Success: true}, nil
	}
	e, _ := newTestEngine(t, exec)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	mustApprove(t, e, ctx)

	if err := e.RunDevelopment(ctx, time.Second); err != nil {
		t.Fatalf("RunDevelopment: %v", err)
	}
	if e.Status() != state.RunFailed {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunFailed)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected both siblings to run to completion, got %d calls", calls)
	}
}

func TestRunQualityAssuranceAdvancesToDeliveryWhenGatePasses(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	mustApprove(t, e, ctx)
	if err := e.RunDevelopment(ctx, time.Second); err != nil {
		t.Fatalf("RunDevelopment: %v", err)
	}

	if err := e.RunQualityAssurance(ctx); err != nil {
		t.Fatalf("RunQualityAssurance: %v", err)
	}
	if e.Phase() != PhaseDelivery {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseDelivery)
	}
	if e.Status() != state.RunWaitingApproval {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunWaitingApproval)
	}
}

func TestRunQualityAssuranceRoutesLintFailureBackToDevelopment(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	mustApprove(t, e, ctx)
	if err := e.RunDevelopment(ctx, time.Second); err != nil {
		t.Fatalf("RunDevelopment: %v", err)
	}
	e.gate = qualitygate.Config{SkipLint: false, SkipTest: true, LintCommand: "lint", Runtime: failingLintRuntime{}}

	if err := e.RunQualityAssurance(ctx); err != nil {
		t.Fatalf("RunQualityAssurance: %v", err)
	}
	if e.Phase() != PhaseDevelopment {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseDevelopment)
	}

	parent, ok := e.hierarchy.FindParent(e.ticketID)
	if !ok {
		t.Fatalf("parent ticket %q not found", e.ticketID)
	}
	for _, c := range parent.ChildTickets {
		if c.Status != ticket.StatusRevisionRequired {
			t.Fatalf("child %s status = %s, want %s", c.ID, c.Status, ticket.StatusRevisionRequired)
		}
	}

	// A revision_required child must be re-picked-up on the next
	// RunDevelopment pass, not silently skipped.
	e.gate = qualitygate.Config{SkipLint: true, SkipTest: true}
	if err := e.RunDevelopment(ctx, time.Second); err != nil {
		t.Fatalf("RunDevelopment (revision pass): %v", err)
	}
	if e.Phase() != PhaseQualityAssurance {
		t.Fatalf("phase after revision pass = %s, want %s", e.Phase(), PhaseQualityAssurance)
	}
	parent, ok = e.hierarchy.FindParent(e.ticketID)
	if !ok {
		t.Fatalf("parent ticket %q not found", e.ticketID)
	}
	for _, c := range parent.ChildTickets {
		if c.Status != ticket.StatusCompleted {
			t.Fatalf("child %s status after revision pass = %s, want %s", c.ID, c.Status, ticket.StatusCompleted)
		}
	}
}

func TestDeliveryApprovalCompletesWorkflow(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	mustApprove(t, e, ctx)
	if err := e.RunDevelopment(ctx, time.Second); err != nil {
		t.Fatalf("RunDevelopment: %v", err)
	}
	if err := e.RunQualityAssurance(ctx); err != nil {
		t.Fatalf("RunQualityAssurance: %v", err)
	}

	if err := e.SubmitApprovalDecision(ctx, ApprovalDecision{Action: ActionApprove, DecidedBy: "alice"}); err != nil {
		t.Fatalf("SubmitApprovalDecision: %v", err)
	}
	if e.Status() != state.RunCompleted {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunCompleted)
	}
}

func TestHandleEscalationRetryResetsTicketAndClearsEscalation(t *testing.T) {
	e, hierarchy := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	parents := hierarchy.ListParents()
	childID := parents[0].ChildTickets[0].ID

	e.escalation = &state.Escalation{TicketID: childID, FailureDetails: "needs revision"}
	if err := e.HandleEscalation(ctx, ActionRetry); err != nil {
		t.Fatalf("HandleEscalation: %v", err)
	}
	if e.Escalation() != nil {
		t.Fatal("expected escalation to be cleared")
	}
	child, ok := hierarchy.FindChild(childID)
	if !ok || child.Status != ticket.StatusPending {
		t.Fatalf("expected ticket reset to pending, got %+v", child)
	}
	if e.Status() != state.RunRunning {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunRunning)
	}
}

func TestHandleEscalationSkipMarksTicketSkipped(t *testing.T) {
	e, hierarchy := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	childID := hierarchy.ListParents()[0].ChildTickets[0].ID

	e.escalation = &state.Escalation{TicketID: childID}
	if err := e.HandleEscalation(ctx, ActionSkip); err != nil {
		t.Fatalf("HandleEscalation: %v", err)
	}
	child, ok := hierarchy.FindChild(childID)
	if !ok || child.Status != ticket.StatusSkipped {
		t.Fatalf("expected ticket skipped, got %+v", child)
	}
}

func TestHandleEscalationAbortTerminatesWorkflow(t *testing.T) {
	e, hierarchy := newTestEngine(t, succeedingExecutor)
	ctx := context.Background()
	mustPropose(t, e, ctx)
	childID := hierarchy.ListParents()[0].ChildTickets[0].ID

	e.escalation = &state.Escalation{TicketID: childID}
	if err := e.HandleEscalation(ctx, ActionAbort); err != nil {
		t.Fatalf("HandleEscalation: %v", err)
	}
	if e.Status() != state.RunTerminated {
		t.Fatalf("status = %s, want %s", e.Status(), state.RunTerminated)
	}
}

func TestHandleEscalationWithoutPendingEscalationFails(t *testing.T) {
	e, _ := newTestEngine(t, succeedingExecutor)
	if err := e.HandleEscalation(context.Background(), ActionRetry); err == nil {
		t.Fatal("expected an error when no escalation is pending")
	}
}

func mustPropose(t *testing.T, e *Engine, ctx context.Context) {
	t.Helper()
	if err := e.Propose(ctx, "build a login page", "Login page"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
}

func mustApprove(t *testing.T, e *Engine, ctx context.Context) {
	t.Helper()
	if err := e.SubmitApprovalDecision(ctx, ApprovalDecision{Action: ActionApprove, DecidedBy: "alice"}); err != nil {
		t.Fatalf("SubmitApprovalDecision: %v", err)
	}
}
