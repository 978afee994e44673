// Package state implements the StateStore (C3): durable, file-backed
// persistence for the ticket hierarchy, per-run execution state, and system
// configuration, with pause/resume semantics and crash-restart recovery.
//
// Every mutation is serialized to pretty JSON and written with a
// write-temp-then-rename so a crash mid-write never corrupts the previous
// good copy (grounded on the teacher's own pkg/state atomic-write pattern,
// hardened to an actual atomic rename per spec §4.3's write discipline).
// A lightweight modernc.org/sqlite index mirrors runs/*/state.json's
// {runID, status, lastUpdated} so FindInProgressExecutions doesn't have to
// open every run directory to find running and paused runs — sqlite is a
// secondary index only, never the source of truth; the JSON files remain
// authoritative. SaveExecutionState fills the index; a missing index file
// is recreated empty and is not repopulated from existing run directories.
// CleanupOldRuns scans the run directories itself and drops their rows.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"orchestrator/pkg/convo"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/taxonomy"
)

// RunStatus is the execution-level status of one task run.
type RunStatus string

const (
	RunRunning         RunStatus = "running"
	RunPaused          RunStatus = "paused"
	RunWaitingApproval RunStatus = "waiting_approval"
	RunCompleted       RunStatus = "completed"
	RunTerminated      RunStatus = "terminated"
	RunFailed          RunStatus = "failed"
)

// Escalation records an irrecoverable development/QA failure awaiting a
// human decision, per spec §4.9.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Escalation struct {
	TicketID        string    `json:"ticketId"`
	FailureDetails  string    `json:"failureDetails"`
	CreatedAt       time.Time `json:"createdAt"`
}

// WorkerState is the persisted state of one worker within a run.
//
//nolint:govet // fieldalignment: logical grouping preferred
type WorkerState struct {
	WorkerID  string              `json:"workerId"`
	Status    string              `json:"status"`
	TicketID  string              `json:"ticketId,omitempty"`
	Errors    []taxonomy.TaskError `json:"errors,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// RunState is the execution persistence record at runs/<runId>/state.json.
//
//nolint:govet // fieldalignment: logical grouping preferred
type RunState struct {
	RunID                 string                     `json:"runId"`
	TicketID              string                     `json:"ticketId"`
	Status                RunStatus                  `json:"status"`
	Phase                 string                     `json:"phase,omitempty"`
	Escalation            *Escalation                `json:"escalation,omitempty"`
	WorkerStates          map[string]WorkerState     `json:"workerStates"`
	ConversationHistories map[string]*convo.History  `json:"conversationHistories"`
	GitBranches           map[string]string          `json:"gitBranches"`
	LastUpdated           time.Time                  `json:"lastUpdated"`
}

// QualityResult is the persisted gate result at runs/<runId>/quality.json.
//
//nolint:govet // fieldalignment: logical grouping preferred
type QualityResult struct {
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`
	Lint      CheckSummary `json:"lint"`
	Test      CheckSummary `json:"test"`
	Overall   bool      `json:"overall"`
}

// CheckSummary is the §6 shape for a single lint/test summary.
type CheckSummary struct {
	Passed       bool     `json:"passed"`
	Output       string   `json:"output"`
	ErrorCount   int      `json:"errorCount,omitempty"`
	WarningCount int      `json:"warningCount,omitempty"`
	FailedTests  []string `json:"failedTests,omitempty"`
}

// Store is the StateStore. The zero value is not usable; use New.
type Store struct {
	baseDir string
	logger  *logx.Logger

	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex

	db *sql.DB
}

// New creates a StateStore rooted at baseDir (spec default "runtime/state"),
// creating the directory tree and the sqlite index on demand.
func New(baseDir string) (*Store, error) {
	if baseDir == "" {
		baseDir = "runtime/state"
	}
	for _, sub := range []string{"", "tickets", "runs"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", sub, err)
		}
	}

	db, err := sql.Open("sqlite", filepath.Join(baseDir, "runs_index.db"))
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		last_updated TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create run index schema: %w", err)
	}

	return &Store{
		baseDir:  baseDir,
		logger:   logx.NewLogger("state-store"),
		runLocks: make(map[string]*sync.Mutex),
		db:       db,
	}, nil
}

// Close releases the sqlite index handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(runID string) *sync.Mutex {
	s.runLocksMu.Lock()
	defer s.runLocksMu.Unlock()
	m, ok := s.runLocks[runID]
	if !ok {
		m = &sync.Mutex{}
		s.runLocks[runID] = m
	}
	return m
}

// writeJSONAtomic serializes v as pretty JSON and replaces path atomically
// via write-temp-then-rename, so a crash never leaves a half-written file
// and the prior good copy survives any I/O failure.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename into %s: %w", path, err)
	}
	return nil
}

// readJSON reads and unmarshals path into v. A missing file reports
// present=false with a nil error (the "absent" sentinel of spec §4.3); any
// other I/O error, or a JSON parse failure, is returned as an error.
func readJSON(path string, v any) (present bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) ticketPath(projectID string) string {
	return filepath.Join(s.baseDir, "tickets", projectID+".json")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, "runs", runID)
}

func (s *Store) runStatePath(runID string) string {
	return filepath.Join(s.runDir(runID), "state.json")
}

func (s *Store) conversationPath(runID string) string {
	return filepath.Join(s.runDir(runID), "conversation.json")
}

func (s *Store) qualityPath(runID string) string {
	return filepath.Join(s.runDir(runID), "quality.json")
}

func (s *Store) configPath() string {
	return filepath.Join(s.baseDir, "config.json")
}

func (s *Store) taskDescriptorPath(runID string) string {
	return filepath.Join(s.runDir(runID), "task.json")
}

// TaskDescriptor is the run-directory admission record written by
// Orchestrator.SubmitTask, per spec §4.8/S1: one task.json per run,
// independent of the run's evolving execution state.
//
//nolint:govet // fieldalignment: logical grouping preferred
type TaskDescriptor struct {
	TaskID      string    `json:"taskId"`
	ProjectID   string    `json:"projectId"`
	Instruction string    `json:"instruction"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SaveTaskDescriptor persists a run's admission record.
func (s *Store) SaveTaskDescriptor(td *TaskDescriptor) error {
	if td == nil || td.TaskID == "" {
		return fmt.Errorf("save task descriptor: %w", taxonomy.ErrInvalidInput)
	}
	return writeJSONAtomic(s.taskDescriptorPath(td.TaskID), td)
}

// LoadTaskDescriptor loads a run's admission record, if any.
func (s *Store) LoadTaskDescriptor(runID string) (*TaskDescriptor, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("load task descriptor: %w", taxonomy.ErrInvalidInput)
	}
	td := &TaskDescriptor{}
	present, err := readJSON(s.taskDescriptorPath(runID), td)
	if err != nil || !present {
		return nil, present, err
	}
	return td, true, nil
}

// SaveTickets persists a project's ticket hierarchy to
// tickets/<projectId>.json, overwriting any prior snapshot.
func (s *Store) SaveTickets(projectID string, hierarchy any) error {
	if projectID == "" {
		return fmt.Errorf("save tickets: %w", taxonomy.ErrInvalidInput)
	}
	return writeJSONAtomic(s.ticketPath(projectID), hierarchy)
}

// LoadTickets loads a project's ticket hierarchy. present is false if no
// snapshot has ever been saved for projectID.
func (s *Store) LoadTickets(projectID string, out any) (present bool, err error) {
	if projectID == "" {
		return false, fmt.Errorf("load tickets: %w", taxonomy.ErrInvalidInput)
	}
	return readJSON(s.ticketPath(projectID), out)
}

// SaveExecutionState writes the run's state.json and mirrors its identity
// into the sqlite index used by FindInProgressExecutions.
func (s *Store) SaveExecutionState(rs *RunState) error {
	if rs == nil || rs.RunID == "" {
		return fmt.Errorf("save execution state: %w", taxonomy.ErrInvalidInput)
	}
	lock := s.lockFor(rs.RunID)
	lock.Lock()
	defer lock.Unlock()

	rs.LastUpdated = nowFunc()
	if err := writeJSONAtomic(s.runStatePath(rs.RunID), rs); err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT INTO runs(run_id, status, last_updated) VALUES(?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET status=excluded.status, last_updated=excluded.last_updated`,
		rs.RunID, string(rs.Status), rs.LastUpdated.Format(time.RFC3339Nano),
	); err != nil {
		s.logger.Warn("run index update failed for %s: %v", rs.RunID, err)
	}
	return nil
}

// LoadExecutionState loads runs/<runId>/state.json. present is false if the
// run has never been persisted.
func (s *Store) LoadExecutionState(runID string) (rs *RunState, present bool, err error) {
	if runID == "" {
		return nil, false, fmt.Errorf("load execution state: %w", taxonomy.ErrInvalidInput)
	}
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	rs = &RunState{}
	present, err = readJSON(s.runStatePath(runID), rs)
	if err != nil || !present {
		return nil, present, err
	}
	return rs, true, nil
}

// SaveConversation persists a single worker's conversation history for a run.
// Histories are stored keyed by workerID so a run's multiple workers don't
// clobber each other's files.
func (s *Store) SaveConversation(runID, workerID string, history *convo.History) error {
	if runID == "" || workerID == "" {
		return fmt.Errorf("save conversation: %w", taxonomy.ErrInvalidInput)
	}
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	all := map[string]*convo.History{}
	if _, err := readJSON(s.conversationPath(runID), &all); err != nil {
		return err
	}
	all[workerID] = history
	return writeJSONAtomic(s.conversationPath(runID), all)
}

// LoadConversations loads every worker's conversation history for a run.
func (s *Store) LoadConversations(runID string) (map[string]*convo.History, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("load conversations: %w", taxonomy.ErrInvalidInput)
	}
	all := map[string]*convo.History{}
	present, err := readJSON(s.conversationPath(runID), &all)
	if err != nil || !present {
		return nil, present, err
	}
	return all, true, nil
}

// SaveQualityResult persists the most recent QualityGate result for a run.
func (s *Store) SaveQualityResult(qr *QualityResult) error {
	if qr == nil || qr.RunID == "" {
		return fmt.Errorf("save quality result: %w", taxonomy.ErrInvalidInput)
	}
	lock := s.lockFor(qr.RunID)
	lock.Lock()
	defer lock.Unlock()
	return writeJSONAtomic(s.qualityPath(qr.RunID), qr)
}

// LoadQualityResult loads the persisted QualityGate result for a run, if any.
func (s *Store) LoadQualityResult(runID string) (*QualityResult, bool, error) {
	if runID == "" {
		return nil, false, fmt.Errorf("load quality result: %w", taxonomy.ErrInvalidInput)
	}
	qr := &QualityResult{}
	present, err := readJSON(s.qualityPath(runID), qr)
	if err != nil || !present {
		return nil, present, err
	}
	return qr, true, nil
}

// SaveConfig persists the active orchestrator configuration snapshot.
func (s *Store) SaveConfig(cfg any) error {
	return writeJSONAtomic(s.configPath(), cfg)
}

// LoadConfig loads the persisted configuration snapshot, if any.
func (s *Store) LoadConfig(out any) (present bool, err error) {
	return readJSON(s.configPath(), out)
}

// nowFunc is overridable in tests.
var nowFunc = time.Now

// PauseExecution transitions a run to paused. It is a no-op (returns nil)
// if the run is already paused, and fails with ErrInvalidState if the run
// is completed or failed — both terminal states cannot be paused.
func (s *Store) PauseExecution(runID string) error {
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	rs := &RunState{}
	present, err := readJSON(s.runStatePath(runID), rs)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("pause execution %s: %w", runID, taxonomy.ErrNotFound)
	}
	switch rs.Status {
	case RunPaused:
		return nil
	case RunCompleted, RunFailed:
		return fmt.Errorf("pause execution %s: run is %s: %w", runID, rs.Status, taxonomy.ErrInvalidState)
	}
	rs.Status = RunPaused
	rs.LastUpdated = nowFunc()
	return writeJSONAtomic(s.runStatePath(runID), rs)
}

// ResumeExecution transitions a paused run back to running and returns the
// worker and agent IDs that were active, so the caller can restart their
// conversation loops. It fails with ErrInvalidState unless the run is
// currently paused.
func (s *Store) ResumeExecution(runID string) (workerIDs []string, err error) {
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	rs := &RunState{}
	present, err := readJSON(s.runStatePath(runID), rs)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, fmt.Errorf("resume execution %s: %w", runID, taxonomy.ErrNotFound)
	}
	if rs.Status != RunPaused {
		return nil, fmt.Errorf("resume execution %s: run is %s: %w", runID, rs.Status, taxonomy.ErrInvalidState)
	}

	for id := range rs.WorkerStates {
		workerIDs = append(workerIDs, id)
	}
	sort.Strings(workerIDs)

	rs.Status = RunRunning
	rs.LastUpdated = nowFunc()
	if err := writeJSONAtomic(s.runStatePath(runID), rs); err != nil {
		return nil, err
	}
	return workerIDs, nil
}

// PauseTicket persists a worker's execution snapshot as part of pausing a
// single ticket's work, so the exact point of interruption (worker status,
// conversation history) survives a restart even if the rest of the run
// keeps going.
func (s *Store) PauseTicket(runID, ticketID, workerID string, ws WorkerState, history *convo.History) error {
	lock := s.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	rs := &RunState{}
	present, err := readJSON(s.runStatePath(runID), rs)
	if err != nil {
		return err
	}
	if !present {
		rs = &RunState{
			RunID:                 runID,
			TicketID:              ticketID,
			Status:                RunPaused,
			WorkerStates:          map[string]WorkerState{},
			ConversationHistories: map[string]*convo.History{},
			GitBranches:           map[string]string{},
		}
	}
	if rs.WorkerStates == nil {
		rs.WorkerStates = map[string]WorkerState{}
	}
	ws.UpdatedAt = nowFunc()
	rs.WorkerStates[workerID] = ws
	rs.LastUpdated = nowFunc()
	if err := writeJSONAtomic(s.runStatePath(runID), rs); err != nil {
		return err
	}

	if history != nil {
		lock.Unlock()
		err := s.SaveConversation(runID, workerID, history)
		lock.Lock()
		if err != nil {
			return err
		}
	}
	return nil
}

// FindInProgressExecutions returns every run currently running or paused,
// most-recently-updated first, for crash-restart recovery to pick up.
func (s *Store) FindInProgressExecutions() ([]*RunState, error) {
	rows, err := s.db.Query(
		`SELECT run_id FROM runs WHERE status IN (?, ?) ORDER BY last_updated DESC`,
		string(RunRunning), string(RunPaused),
	)
	if err != nil {
		return nil, fmt.Errorf("query run index: %w", err)
	}
	defer rows.Close()

	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run index row: %w", err)
		}
		runIDs = append(runIDs, id)
	}

	var results []*RunState
	for _, id := range runIDs {
		rs, present, err := s.LoadExecutionState(id)
		if err != nil {
			return nil, err
		}
		if !present {
			// Index and file disagree; trust the file and drop the stale entry.
			continue
		}
		if rs.Status == RunRunning || rs.Status == RunPaused {
			results = append(results, rs)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].LastUpdated.After(results[j].LastUpdated)
	})
	return results, nil
}

// CleanupOldRuns deletes runs/<runId> directories for completed or failed
// runs whose lastUpdated is older than the given retention window (spec
// default 7 days), returning the IDs it removed. Running and paused runs
// are never removed regardless of age.
func (s *Store) CleanupOldRuns(retention time.Duration) ([]string, error) {
	runsRoot := filepath.Join(s.baseDir, "runs")
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs directory: %w", err)
	}

	cutoff := nowFunc().Add(-retention)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		rs, present, err := s.LoadExecutionState(runID)
		if err != nil || !present {
			continue
		}
		if rs.Status != RunCompleted && rs.Status != RunFailed {
			continue
		}
		if rs.LastUpdated.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(runsRoot, runID)); err != nil {
			return removed, fmt.Errorf("remove run %s: %w", runID, err)
		}
		if _, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
			s.logger.Warn("run index delete failed for %s: %v", runID, err)
		}
		removed = append(removed, runID)
	}
	return removed, nil
}
