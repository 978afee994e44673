// Package pool implements WorkerPool (C7): capability-typed worker
// allocation bounded by maxWorkers, backed by a queue.PendingQueue for
// tasks that arrive while every worker is busy.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/queue"
	"orchestrator/pkg/taxonomy"
)

// Status is a worker's occupancy state within the pool.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusWorking    Status = "working"
	StatusTerminated Status = "terminated"
)

// WorkerInfo is what the pool tracks per worker. Construction of the actual
// WorkerAgent/WorkerContainer pair is delegated to Factory so this package
// stays agnostic of pkg/workeragent and pkg/workercontainer.
//
//nolint:govet // fieldalignment: logical grouping preferred
type WorkerInfo struct {
	WorkerID     string
	WorkerType   string
	Capabilities []string
	Status       Status
	CurrentTask  string
}

// TypeProfile is what WorkerTypeRegistry maps a workerType to: the
// capability set new workers of that type are created with, and the AI
// adapter/model preference getWorkerByType should honor.
type TypeProfile struct {
	Capabilities []string
	AIAdapter    string
	Model        string
}

// TypeRegistry maps workerType -> TypeProfile.
type TypeRegistry struct {
	mu       sync.RWMutex
	profiles map[string]TypeProfile
}

// NewTypeRegistry builds a registry seeded with profiles.
func NewTypeRegistry(profiles map[string]TypeProfile) *TypeRegistry {
	r := &TypeRegistry{profiles: make(map[string]TypeProfile, len(profiles))}
	for k, v := range profiles {
		r.profiles[k] = v
	}
	return r
}

// Get returns the profile registered for workerType.
func (r *TypeRegistry) Get(workerType string) (TypeProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[workerType]
	return p, ok
}

// Factory creates a new worker of workerType with the given capabilities,
// returning the workerID to track. Supplied by the caller (pkg/orchestrator)
// so this package never imports pkg/workeragent or pkg/workercontainer directly.
type Factory func(ctx context.Context, workerType string, capabilities []string) (workerID string, err error)

// Pool is the capability-typed worker allocator of spec §4.7.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Pool struct {
	mu             sync.Mutex
	workers        map[string]*WorkerInfo
	maxWorkers     int
	pending        queue.PendingQueue
	typeRegistry   *TypeRegistry
	factory        Factory
	allowFallback  bool
	logger         *logx.Logger
	pollInterval   time.Duration
	stopped        bool
}

// Config bundles Pool construction parameters.
type Config struct {
	MaxWorkers            int
	Pending               queue.PendingQueue
	TypeRegistry          *TypeRegistry
	Factory               Factory
	AllowFallbackOnRelease bool // gates the last-resort fallback reassignment; see DESIGN.md
	PollInterval          time.Duration
}

// New constructs a Pool. maxWorkers defaults to 3 (spec default) if cfg.MaxWorkers <= 0.
func New(cfg Config, logger *logx.Logger) *Pool {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	pending := cfg.Pending
	if pending == nil {
		pending = queue.NewMemoryQueue()
	}
	return &Pool{
		workers:       make(map[string]*WorkerInfo),
		maxWorkers:    maxWorkers,
		pending:       pending,
		typeRegistry:  cfg.TypeRegistry,
		factory:       cfg.Factory,
		allowFallback: cfg.AllowFallbackOnRelease,
		logger:        logger,
		pollInterval:  pollInterval,
	}
}

// getAvailableWorker implements spec §4.7's three-step algorithm without
// blocking: pick an idle worker whose capabilities are a superset of
// required; else create one if under maxWorkers; else return ok=false.
func (p *Pool) getAvailableWorker(ctx context.Context, required []string, workerType string) (*WorkerInfo, bool, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, false, fmt.Errorf("pool is stopped: %w", taxonomy.ErrInvalidState)
	}

	var idleIDs []string
	for id, w := range p.workers {
		if w.Status == StatusIdle {
			idleIDs = append(idleIDs, id)
		}
	}
	sort.Strings(idleIDs)
	for _, id := range idleIDs {
		w := p.workers[id]
		if hasAll(w.Capabilities, required) {
			w.Status = StatusWorking
			p.mu.Unlock()
			return w, true, nil
		}
	}

	if len(p.workers) >= p.maxWorkers {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.mu.Unlock()

	workerID, err := p.createWorker(ctx, workerType, required)
	if err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[workerID]
	w.Status = StatusWorking
	return w, true, nil
}

func (p *Pool) createWorker(ctx context.Context, workerType string, capabilities []string) (string, error) {
	if p.factory == nil {
		return "", fmt.Errorf("pool has no worker factory configured: %w", taxonomy.ErrInvalidState)
	}
	workerID, err := p.factory(ctx, workerType, capabilities)
	if errors.Is(err, taxonomy.ErrContainerError) {
		workerID, err = p.factory(ctx, workerType, capabilities)
	}
	if err != nil {
		return "", fmt.Errorf("create worker: %w", err)
	}
	p.mu.Lock()
	p.workers[workerID] = &WorkerInfo{
		WorkerID:     workerID,
		WorkerType:   workerType,
		Capabilities: capabilities,
		Status:       StatusIdle,
	}
	p.mu.Unlock()
	return workerID, nil
}

// acquireWorker polls getAvailableWorker at pollInterval until a worker is
// returned or timeout elapses.
func (p *Pool) acquireWorker(ctx context.Context, required []string, workerType string, timeout time.Duration) (*WorkerInfo, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		w, ok, err := p.getAvailableWorker(ctx, required, workerType)
		if err != nil {
			return nil, err
		}
		if ok {
			return w, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquireWorker timed out after %s: %w", timeout, taxonomy.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AcquireWorker is the exported entry point for spec §4.7's acquireWorker.
func (p *Pool) AcquireWorker(ctx context.Context, required []string, workerType string, timeout time.Duration) (*WorkerInfo, error) {
	return p.acquireWorker(ctx, required, workerType, timeout)
}

// ReleaseWorker implements spec §4.7's release algorithm: clear the
// worker's current task, then look for a pending task whose required
// capabilities are satisfied by the worker. If one is found it is
// reassigned immediately (worker stays working) and returned for the
// caller to execute; otherwise the worker goes idle, unless
// allowFallback is set and a pending task exists, in which case the first
// pending task is assigned as a last resort (see the pkg/pool notes in DESIGN.md).
func (p *Pool) ReleaseWorker(ctx context.Context, workerID string) (*queue.PendingTask, error) {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("unknown worker %s: %w", workerID, taxonomy.ErrNotFound)
	}
	w.CurrentTask = ""
	capabilities := append([]string(nil), w.Capabilities...)
	allowFallback := p.allowFallback
	p.mu.Unlock()

	task, ok, err := p.pending.PopMatching(ctx, capabilities, allowFallback)
	if err != nil {
		return nil, fmt.Errorf("pop pending task for release: %w", err)
	}
	if !ok {
		p.mu.Lock()
		w.Status = StatusIdle
		p.mu.Unlock()
		return nil, nil
	}

	p.mu.Lock()
	w.Status = StatusWorking
	w.CurrentTask = task.TaskID
	p.mu.Unlock()
	return &task, nil
}

// Submit enqueues a task for later assignment on release, when no worker
// is acquired synchronously for it.
func (p *Pool) Submit(ctx context.Context, task queue.PendingTask) error {
	return p.pending.Push(ctx, task)
}

// GetWorkerByType consults the TypeRegistry for workerType's capability set
// and AI preferences, then acquires (creating if necessary) a worker of
// that type.
func (p *Pool) GetWorkerByType(ctx context.Context, workerType string, timeout time.Duration) (*WorkerInfo, TypeProfile, error) {
	if p.typeRegistry == nil {
		return nil, TypeProfile{}, fmt.Errorf("pool has no type registry configured: %w", taxonomy.ErrInvalidState)
	}
	profile, ok := p.typeRegistry.Get(workerType)
	if !ok {
		return nil, TypeProfile{}, fmt.Errorf("unknown worker type %q: %w", workerType, taxonomy.ErrNotFound)
	}
	w, err := p.acquireWorker(ctx, profile.Capabilities, workerType, timeout)
	if err != nil {
		return nil, TypeProfile{}, err
	}
	return w, profile, nil
}

// Snapshot returns a stable-ordered copy of all tracked workers, for status
// reporting.
func (p *Pool) Snapshot() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// Stop marks the pool as no longer accepting new acquisitions. Existing
// workers are left for the caller to tear down explicitly.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

// TerminateAll marks every tracked worker Terminated and stops the pool
// from accepting new acquisitions, for spec §4.8's emergency-stop
// transition: agents report "terminated", not "paused", once the
// orchestrator has been emergency-stopped.
func (p *Pool) TerminateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for _, w := range p.workers {
		w.Status = StatusTerminated
		w.CurrentTask = ""
	}
}

// Reset clears all tracked workers, returning the pool to its initial
// empty state.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = make(map[string]*WorkerInfo)
	p.stopped = false
}

func hasAll(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}
