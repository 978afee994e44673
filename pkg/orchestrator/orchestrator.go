// Package orchestrator implements the Orchestrator (C8): the top-level
// façade holding one Manager agent and one WorkflowEngine per in-flight
// task, plus the shared singletons every workflow draws on (worker pool,
// state store, quality-gate config, metrics recorder), the global
// pause/resume/emergency-stop control plane, and the executeWithRetry /
// executeWithFallback helpers, per spec §4.8.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/aihealth"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/manager"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/pool"
	"orchestrator/pkg/qualitygate"
	"orchestrator/pkg/state"
	"orchestrator/pkg/taxonomy"
	"orchestrator/pkg/ticket"
	"orchestrator/pkg/workflow"
)

// AgentStatus is one entry of getActiveAgents()'s report.
//
//nolint:govet // fieldalignment: logical grouping preferred
type AgentStatus struct {
	WorkerID   string
	WorkerType string
	Status     string
}

// Config wires an Orchestrator to its shared singletons. Gate and
// Executor are threaded into every workflow this Orchestrator creates.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Config struct {
	Manager  manager.Manager
	Pool     *pool.Pool
	Store    *state.Store
	Gate     qualitygate.Config
	Executor workflow.Executor
	Reviewer workflow.Reviewer
	Recorder *metrics.Recorder
	Health   *aihealth.Status // AI reachability singleton; New() creates one if nil
	Logger   *logx.Logger
}

// Orchestrator is the façade. The zero value is not usable; use New.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Orchestrator struct {
	mu                sync.Mutex
	paused            bool
	emergencyStopped  bool
	manager           manager.Manager
	pool              *pool.Pool
	store             *state.Store
	gate              qualitygate.Config
	executor          workflow.Executor
	reviewer          workflow.Reviewer
	recorder          *metrics.Recorder
	health            *aihealth.Status
	logger            *logx.Logger
	hierarchies       map[string]*ticket.Hierarchy // keyed by projectID
	engines           map[string]*workflow.Engine  // keyed by taskID
}

// New constructs an Orchestrator. Manager and Pool are required; a nil
// Logger is replaced by a logger named "orchestrator" and a nil Health by a
// fresh aihealth.Status. Gate is used as given: its zero value skips
// neither lint nor test.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("%w: manager must not be nil", taxonomy.ErrInvalidInput)
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("%w: pool must not be nil", taxonomy.ErrInvalidInput)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logx.NewLogger("orchestrator")
	}
	health := cfg.Health
	if health == nil {
		health = aihealth.New()
	}
	return &Orchestrator{
		manager:     cfg.Manager,
		pool:        cfg.Pool,
		store:       cfg.Store,
		gate:        cfg.Gate,
		executor:    cfg.Executor,
		reviewer:    cfg.Reviewer,
		recorder:    cfg.Recorder,
		health:      health,
		logger:      logger,
		hierarchies: make(map[string]*ticket.Hierarchy),
		engines:     make(map[string]*workflow.Engine),
	}, nil
}

// HealthStatus reports the shared AI-backend reachability signal every
// WorkerAgent this Orchestrator creates records into, per spec §4.8's
// AI_UNAVAILABLE graceful-degradation contract.
func (o *Orchestrator) HealthStatus() aihealth.Report {
	return o.health.Snapshot()
}

func generateTaskID() (string, error) {
	return "task-" + uuid.New().String(), nil
}

// SubmitTask validates instruction/projectID, rejects while emergency-
// stopped, generates a taskId, persists a run-directory descriptor, and
// hands off asynchronously to a new WorkflowEngine for that task. It
// returns the taskId immediately without waiting for proposal to finish,
// per spec §4.8.
func (o *Orchestrator) SubmitTask(ctx context.Context, instruction, projectID string) (string, error) {
	if instruction == "" {
		return "", fmt.Errorf("%w: instruction must not be empty", taxonomy.ErrInvalidInput)
	}
	if projectID == "" {
		return "", fmt.Errorf("%w: projectID must not be empty", taxonomy.ErrInvalidInput)
	}

	o.mu.Lock()
	if o.emergencyStopped {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: orchestrator is emergency-stopped", taxonomy.ErrInvalidState)
	}

	taskID, err := generateTaskID()
	if err != nil {
		o.mu.Unlock()
		return "", err
	}

	hierarchy, err := o.hierarchyFor(projectID)
	if err != nil {
		o.mu.Unlock()
		return "", err
	}

	engine, err := workflow.New(workflow.Config{
		RunID:     taskID,
		ProjectID: projectID,
		Manager:   o.manager,
		Pool:      o.pool,
		Hierarchy: hierarchy,
		Store:     o.store,
		Gate:      o.gate,
		Executor:  o.executor,
		Reviewer:  o.reviewer,
		Recorder:  o.recorder,
	})
	if err != nil {
		o.mu.Unlock()
		return "", fmt.Errorf("create workflow engine: %w", err)
	}
	o.engines[taskID] = engine
	o.mu.Unlock()

	if o.store != nil {
		descriptor := &state.TaskDescriptor{
			TaskID:      taskID,
			ProjectID:   projectID,
			Instruction: instruction,
			Status:      "pending",
			CreatedAt:   time.Now(),
		}
		if err := o.store.SaveTaskDescriptor(descriptor); err != nil {
			return "", fmt.Errorf("persist task descriptor: %w", err)
		}
	}

	go func() {
		if err := engine.Propose(ctx, instruction, instruction); err != nil {
			o.logger.Error("proposal failed for %s: %v", taskID, err)
		}
	}()

	return taskID, nil
}

// hierarchyFor returns the in-memory ticket hierarchy for projectID,
// loading it from the store on first use and creating a fresh one if none
// was ever persisted. Callers must hold o.mu.
func (o *Orchestrator) hierarchyFor(projectID string) (*ticket.Hierarchy, error) {
	if h, ok := o.hierarchies[projectID]; ok {
		return h, nil
	}
	if o.store != nil {
		var loaded ticket.Hierarchy
		present, err := o.store.LoadTickets(projectID, &loaded)
		if err != nil {
			return nil, fmt.Errorf("load ticket hierarchy: %w", err)
		}
		if present {
			o.hierarchies[projectID] = &loaded
			return &loaded, nil
		}
	}
	h, err := ticket.NewHierarchy(projectID)
	if err != nil {
		return nil, err
	}
	o.hierarchies[projectID] = h
	return h, nil
}

// Engine returns the WorkflowEngine driving taskID, if it exists.
func (o *Orchestrator) Engine(taskID string) (*workflow.Engine, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.engines[taskID]
	return e, ok
}

// PauseAllAgents sets the global paused flag; active agents subsequently
// report status "paused" via GetActiveAgents.
func (o *Orchestrator) PauseAllAgents() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
}

// ResumeAllAgents clears the paused flag. It fails once the orchestrator
// has been emergency-stopped, which is an absorbing terminal state.
func (o *Orchestrator) ResumeAllAgents() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.emergencyStopped {
		return fmt.Errorf("%w: orchestrator is emergency-stopped", taxonomy.ErrInvalidState)
	}
	o.paused = false
	return nil
}

// EmergencyStop is the terminal sink of spec invariant 10: paused and
// emergencyStopped both become true, every tracked workflow is force-
// terminated, and no future SubmitTask or ResumeAllAgents call succeeds,
// regardless of call order.
func (o *Orchestrator) EmergencyStop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	o.emergencyStopped = true
	for _, e := range o.engines {
		e.ForceTerminate()
	}
	o.pool.TerminateAll()
}

// IsEmergencyStopped reports whether EmergencyStop has been called.
func (o *Orchestrator) IsEmergencyStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergencyStopped
}

// GetActiveAgents reports the pool's current worker snapshot. Once
// EmergencyStop has run, the pool itself has already marked every worker
// pool.StatusTerminated, so that status passes through unmodified; short
// of that, every status is overridden to "paused" while the global pause
// flag is set.
func (o *Orchestrator) GetActiveAgents() []AgentStatus {
	o.mu.Lock()
	paused := o.paused
	emergencyStopped := o.emergencyStopped
	o.mu.Unlock()

	snapshot := o.pool.Snapshot()
	out := make([]AgentStatus, 0, len(snapshot))
	for _, w := range snapshot {
		status := string(w.Status)
		switch {
		case emergencyStopped:
			status = string(pool.StatusTerminated)
		case paused:
			status = "paused"
		}
		out = append(out, AgentStatus{WorkerID: w.WorkerID, WorkerType: w.WorkerType, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}
