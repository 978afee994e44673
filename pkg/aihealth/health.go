// Package aihealth tracks AI-backend reachability behind one shared Status
// object for spec §4.8's graceful-degradation contract: task submission
// still succeeds while the AI backend is down, and execution reports the
// degradation through this object instead of failing outright.
//
// Grounded on the teacher's internal/supervisor pollAPIHealth /
// checkAllAPIsHealthy / broadcastRestore cycle: a background poller keeps
// probing a degraded backend and flips the shared signal back once it
// recovers, rather than leaving every future call to rediscover the outage
// on its own.
package aihealth

import (
	"context"
	"sync"
	"time"

	"orchestrator/pkg/aiadapter"
	"orchestrator/pkg/convo"
)

// Report is the point-in-time snapshot Status.Snapshot returns.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Report struct {
	Available           bool      `json:"available"`
	LastError           string    `json:"lastError"`
	LastCheckedAt        time.Time `json:"lastCheckedAt"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// Status is the shared AI_UNAVAILABLE degradation signal: every
// WorkerAgent run records its adapter outcome here instead of treating a
// chat failure as unconditionally fatal, and callers (status CLIs, health
// endpoints) read the current state back via Snapshot.
type Status struct {
	mu                  sync.RWMutex
	available           bool
	lastErr             error
	lastCheckedAt       time.Time
	consecutiveFailures int
}

// New returns a Status that starts optimistic (available) until the first
// recorded outcome says otherwise.
func New() *Status {
	return &Status{available: true}
}

// RecordSuccess marks the AI backend reachable again, clearing any streak
// of failures.
func (s *Status) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = true
	s.lastErr = nil
	s.consecutiveFailures = 0
	s.lastCheckedAt = time.Now()
}

// RecordFailure marks the AI backend unavailable and bumps the failure
// streak; err is retained for Snapshot's LastError.
func (s *Status) RecordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = false
	s.lastErr = err
	s.consecutiveFailures++
	s.lastCheckedAt = time.Now()
}

// Snapshot returns the current degradation state for reporting.
func (s *Status) Snapshot() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := ""
	if s.lastErr != nil {
		msg = s.lastErr.Error()
	}
	return Report{
		Available:           s.available,
		LastError:           msg,
		LastCheckedAt:       s.lastCheckedAt,
		ConsecutiveFailures: s.consecutiveFailures,
	}
}

// IsAvailable is a convenience accessor for Snapshot().Available.
func (s *Status) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// pingRequest is the minimal chat exchange Probe uses: cheap enough to run
// on an interval without perturbing a worker's own token budget.
var pingRequest = aiadapter.ChatRequest{
	Messages: []convo.Message{{Role: convo.RoleUser, Content: "ping"}},
}

// Probe makes one lightweight chat call against adapter and records the
// outcome into s.
func (s *Status) Probe(ctx context.Context, adapter aiadapter.Adapter) {
	if _, err := adapter.Chat(ctx, pingRequest); err != nil {
		s.RecordFailure(err)
		return
	}
	s.RecordSuccess()
}

// Poll runs Probe on interval until ctx is cancelled, the same polling
// shape as the teacher's pollAPIHealth loop. Callers normally start this
// once at startup with go Poll(...).
func Poll(ctx context.Context, s *Status, adapter aiadapter.Adapter, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx, adapter)
		}
	}
}
