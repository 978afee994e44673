// Package workflow implements WorkflowEngine (C9): the per-run phase state
// machine (proposal -> approval -> development -> quality_assurance ->
// delivery) with an orthogonal running/waiting_approval/completed/
// terminated/failed status, approval gates, and escalation re-entry, per
// spec §4.9.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orchestrator/pkg/manager"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/pool"
	"orchestrator/pkg/qualitygate"
	"orchestrator/pkg/state"
	"orchestrator/pkg/taxonomy"
	"orchestrator/pkg/ticket"

	"go.opentelemetry.io/otel/attribute"
)

// Phase is one of the five currentPhase values a workflow passes through.
type Phase string

const (
	PhaseProposal          Phase = "proposal"
	PhaseApproval          Phase = "approval"
	PhaseDevelopment       Phase = "development"
	PhaseQualityAssurance  Phase = "quality_assurance"
	PhaseDelivery          Phase = "delivery"
)

// ApprovalAction is one of the six decision verbs spec §6 recognizes for
// submitApprovalDecision / handleEscalation.
type ApprovalAction string

const (
	ActionApprove       ApprovalAction = "approve"
	ActionReject        ApprovalAction = "reject"
	ActionRequestChange ApprovalAction = "request_changes"
	ActionRetry         ApprovalAction = "retry"
	ActionSkip          ApprovalAction = "skip"
	ActionAbort         ApprovalAction = "abort"
)

// ApprovalDecision records who decided what and when, per spec §6.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ApprovalDecision struct {
	Action    ApprovalAction
	DecidedBy string
	DecidedAt time.Time
	Reason    string
}

// DevelopmentResult is what an Executor reports back for one child ticket's
// allocated worker run.
//
//nolint:govet // fieldalignment: logical grouping preferred
type DevelopmentResult struct {
	Success   bool
	Artifacts []string
	GitBranch string
	Error     *taxonomy.TaskError
}

// Executor drives one child ticket's worker to completion. WorkflowEngine
// only consumes the result; construction of the WorkerAgent/WorkerContainer
// pair is the caller's concern (normally pkg/orchestrator, via the same
// closure-based decoupling pkg/pool uses for worker creation).
type Executor func(ctx context.Context, worker *pool.WorkerInfo, child ticket.ChildTicket) (DevelopmentResult, error)

// Reviewer optionally evaluates a completed subtree and returns a verdict,
// "APPROVED" or "NEEDS_REVISION" per spec §4.9's quality_assurance phase.
type Reviewer func(ctx context.Context, child ticket.ChildTicket) (verdict string, notes string, err error)

// Config wires one Engine instance to its collaborators.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Config struct {
	RunID     string
	ProjectID string
	Manager   manager.Manager
	Pool      *pool.Pool
	Hierarchy *ticket.Hierarchy
	Store     *state.Store
	Gate      qualitygate.Config
	Executor  Executor
	Reviewer  Reviewer // optional; nil disables the reviewer step
	Recorder  *metrics.Recorder
}

// Engine is one workflow instance, owning the run's phase/status and the
// parent ticket it was submitted against.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Engine struct {
	mu sync.Mutex

	runID     string
	projectID string
	ticketID  string // parent ticket ID this workflow drives

	phase      Phase
	status     state.RunStatus
	escalation *state.Escalation
	approvals  []ApprovalDecision

	manager   manager.Manager
	pool      *pool.Pool
	hierarchy *ticket.Hierarchy
	store     *state.Store
	gate      qualitygate.Config
	executor  Executor
	reviewer  Reviewer
	recorder  *metrics.Recorder
}

// New constructs an Engine in the proposal phase with status=running,
// validating the identifiers and collaborators the state machine cannot
// run without.
func New(cfg Config) (*Engine, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("%w: runID must not be empty", taxonomy.ErrInvalidInput)
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: projectID must not be empty", taxonomy.ErrInvalidInput)
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("%w: manager must not be nil", taxonomy.ErrInvalidInput)
	}
	if cfg.Hierarchy == nil {
		return nil, fmt.Errorf("%w: hierarchy must not be nil", taxonomy.ErrInvalidInput)
	}
	return &Engine{
		runID:     cfg.RunID,
		projectID: cfg.ProjectID,
		phase:     PhaseProposal,
		status:    state.RunRunning,
		manager:   cfg.Manager,
		pool:      cfg.Pool,
		hierarchy: cfg.Hierarchy,
		store:     cfg.Store,
		gate:      cfg.Gate,
		executor:  cfg.Executor,
		reviewer:  cfg.Reviewer,
		recorder:  cfg.Recorder,
	}, nil
}

// Phase returns the workflow's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Status returns the workflow's current status.
func (e *Engine) Status() state.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Escalation returns the active escalation, if any.
func (e *Engine) Escalation() *state.Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escalation
}

// transition moves the engine to newPhase, recording the metric/span pair
// spec §4.9 requires and persisting the new run state.
func (e *Engine) transition(ctx context.Context, newPhase Phase) {
	from := e.phase
	_, span := metrics.StartSpan(ctx, "workflow.phase."+string(newPhase),
		attribute.String("runId", e.runID), attribute.String("fromPhase", string(from)))
	defer span.End()
	e.recorder.ObservePhaseTransition(string(from), string(newPhase))
	e.phase = newPhase
	e.persist()
}

func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	rs := &state.RunState{
		RunID:      e.runID,
		TicketID:   e.ticketID,
		Status:     e.status,
		Phase:      string(e.phase),
		Escalation: e.escalation,
	}
	_ = e.store.SaveExecutionState(rs)
}

// ForceTerminate moves the workflow straight to terminated regardless of
// its current phase, for Orchestrator's emergencyStop absorbing sink
// (spec invariant 10) which must force-unwind every in-flight workflow.
func (e *Engine) ForceTerminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = state.RunTerminated
	e.persist()
}

// Propose asks the Manager to decompose the top-level instruction into
// subtasks, materializes them as child tickets under a freshly created
// parent ticket, and advances to the approval phase per spec §4.9.
func (e *Engine) Propose(ctx context.Context, instruction, title string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseProposal {
		return fmt.Errorf("%w: propose called outside proposal phase (currently %s)", taxonomy.ErrInvalidState, e.phase)
	}

	if err := e.manager.ReceiveTask(ctx, instruction); err != nil {
		return fmt.Errorf("receive task: %w", err)
	}
	subtasks, err := e.manager.DecomposeTask(ctx, instruction)
	if err != nil {
		return fmt.Errorf("decompose task: %w", err)
	}

	parent, err := e.hierarchy.AddParent(instruction, title)
	if err != nil {
		return fmt.Errorf("create parent ticket: %w", err)
	}
	e.ticketID = parent.ID
	for _, st := range subtasks {
		if _, err := e.hierarchy.AddChild(parent.ID, st.Title, ticket.WorkerType(st.WorkerType)); err != nil {
			return fmt.Errorf("create child ticket for %q: %w", st.Title, err)
		}
	}

	e.status = state.RunWaitingApproval
	e.transition(ctx, PhaseApproval)
	return nil
}

// SubmitApprovalDecision applies an approval-gate decision. It is valid in
// the approval phase (approve/reject/request_changes) and the delivery
// phase (approve/reject), per spec §4.9's two approval gates.
func (e *Engine) SubmitApprovalDecision(ctx context.Context, decision ApprovalDecision) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approvals = append(e.approvals, decision)

	switch e.phase {
	case PhaseApproval:
		switch decision.Action {
		case ActionApprove:
			e.status = state.RunRunning
			e.transition(ctx, PhaseDevelopment)
			return nil
		case ActionReject:
			e.status = state.RunTerminated
			e.persist()
			return nil
		case ActionRequestChange:
			e.status = state.RunRunning
			e.transition(ctx, PhaseProposal)
			return nil
		default:
			return fmt.Errorf("%w: action %q invalid in approval phase", taxonomy.ErrInvalidInput, decision.Action)
		}
	case PhaseDelivery:
		switch decision.Action {
		case ActionApprove:
			e.status = state.RunCompleted
			e.persist()
			return nil
		case ActionReject:
			e.status = state.RunTerminated
			e.persist()
			return nil
		default:
			return fmt.Errorf("%w: action %q invalid in delivery phase", taxonomy.ErrInvalidInput, decision.Action)
		}
	default:
		return fmt.Errorf("%w: no approval gate open in phase %s", taxonomy.ErrInvalidState, e.phase)
	}
}

// RunDevelopment allocates a worker for every pending child ticket of the
// workflow's parent and awaits all of their results before advancing,
// honoring the "finalize strictly after all worker results resolve"
// ordering guarantee of spec §5. Any single worker failure marks the
// workflow failed without aborting its in-flight siblings.
func (e *Engine) RunDevelopment(ctx context.Context, acquireTimeout time.Duration) error {
	e.mu.Lock()
	if e.phase != PhaseDevelopment {
		e.mu.Unlock()
		return fmt.Errorf("%w: runDevelopment called outside development phase (currently %s)", taxonomy.ErrInvalidState, e.phase)
	}
	parent, ok := e.hierarchy.FindParent(e.ticketID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: parent ticket %q", taxonomy.ErrNotFound, e.ticketID)
	}
	children := make([]ticket.ChildTicket, 0, len(parent.ChildTickets))
	for _, c := range parent.ChildTickets {
		if c.Status == ticket.StatusPending || c.Status == ticket.StatusRevisionRequired {
			children = append(children, c)
		}
	}
	e.mu.Unlock()

	type outcome struct {
		childID string
		res     DevelopmentResult
		err     error
	}
	results := make(chan outcome, len(children))
	var wg sync.WaitGroup
	for _, child := range children {
		wg.Add(1)
		go func(child ticket.ChildTicket) {
			defer wg.Done()
			res, err := e.runOneChild(ctx, child, acquireTimeout)
			results <- outcome{childID: child.ID, res: res, err: err}
		}(child)
	}
	wg.Wait()
	close(results)

	e.mu.Lock()
	defer e.mu.Unlock()

	anyFailed := false
	for o := range results {
		if o.err != nil || !o.res.Success {
			anyFailed = true
			_ = e.hierarchy.UpdateTicketStatus(o.childID, ticket.StatusFailed)
			continue
		}
		_ = e.hierarchy.UpdateTicketStatus(o.childID, ticket.StatusCompleted)
	}

	if anyFailed {
		e.status = state.RunFailed
		e.persist()
		return nil
	}
	e.transition(ctx, PhaseQualityAssurance)
	return nil
}

func (e *Engine) runOneChild(ctx context.Context, child ticket.ChildTicket, acquireTimeout time.Duration) (DevelopmentResult, error) {
	if e.executor == nil {
		return DevelopmentResult{}, fmt.Errorf("%w: no executor configured", taxonomy.ErrInvalidState)
	}
	if e.pool == nil {
		return DevelopmentResult{}, fmt.Errorf("%w: no pool configured", taxonomy.ErrInvalidState)
	}
	worker, _, err := e.pool.GetWorkerByType(ctx, string(child.WorkerType), acquireTimeout)
	if err != nil {
		return DevelopmentResult{}, fmt.Errorf("acquire worker for %s: %w", child.ID, err)
	}
	res, err := e.executor(ctx, worker, child)
	if _, relErr := e.pool.ReleaseWorker(ctx, worker.WorkerID); relErr != nil {
		// Release failures don't change the development outcome; the pool
		// still owns recovering worker bookkeeping.
		_ = relErr
	}
	return res, err
}

// RunQualityAssurance runs QualityGate against the run's changed subtree. A
// lint failure routes the workflow back to development as revision_required
// instead of advancing; an optional reviewer's NEEDS_REVISION verdict
// raises an escalation.
func (e *Engine) RunQualityAssurance(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseQualityAssurance {
		return fmt.Errorf("%w: runQualityAssurance called outside QA phase (currently %s)", taxonomy.ErrInvalidState, e.phase)
	}

	result := qualitygate.Execute(ctx, e.runID, e.gate)
	if e.store != nil {
		_ = e.store.SaveQualityResult(qualitygate.ToStateResult(e.runID, result, time.Now()))
	}
	if !result.Success {
		parent, ok := e.hierarchy.FindParent(e.ticketID)
		if ok {
			for i := range parent.ChildTickets {
				if parent.ChildTickets[i].Status == ticket.StatusCompleted {
					_ = e.hierarchy.UpdateTicketStatus(parent.ChildTickets[i].ID, ticket.StatusRevisionRequired)
				}
			}
		}
		e.status = state.RunRunning
		e.transition(ctx, PhaseDevelopment)
		return nil
	}

	if e.reviewer != nil {
		parent, ok := e.hierarchy.FindParent(e.ticketID)
		if ok {
			for _, c := range parent.ChildTickets {
				verdict, notes, err := e.reviewer(ctx, c)
				if err != nil {
					continue
				}
				if verdict == "NEEDS_REVISION" {
					e.escalation = &state.Escalation{
						TicketID:       c.ID,
						FailureDetails: notes,
						CreatedAt:      time.Now(),
					}
					e.status = state.RunWaitingApproval
					e.persist()
					return nil
				}
			}
		}
	}

	e.status = state.RunWaitingApproval
	e.transition(ctx, PhaseDelivery)
	return nil
}

// HandleEscalation resolves a pending escalation per spec §4.9's three
// action mappings. Phase re-execution after "retry" is the caller's
// responsibility; the engine only resets state.
func (e *Engine) HandleEscalation(ctx context.Context, action ApprovalAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.escalation == nil {
		return fmt.Errorf("%w: no escalation is pending", taxonomy.ErrInvalidState)
	}
	ticketID := e.escalation.TicketID

	switch action {
	case ActionRetry:
		e.escalation = nil
		if err := e.hierarchy.UpdateTicketStatus(ticketID, ticket.StatusPending); err != nil {
			return fmt.Errorf("reset ticket %s to pending: %w", ticketID, err)
		}
		e.status = state.RunRunning
		e.persist()
		return nil
	case ActionSkip:
		e.escalation = nil
		if err := e.hierarchy.UpdateTicketStatus(ticketID, ticket.StatusSkipped); err != nil {
			return fmt.Errorf("mark ticket %s skipped: %w", ticketID, err)
		}
		e.status = state.RunRunning
		e.persist()
		return nil
	case ActionAbort:
		e.status = state.RunTerminated
		e.persist()
		return nil
	default:
		return fmt.Errorf("%w: action %q invalid for escalation handling", taxonomy.ErrInvalidInput, action)
	}
}
