// Package workeragent implements WorkerAgent (C5): the single-leaf-ticket
// conversation loop that drives an AI adapter and a tool registry to
// completion or to the iteration cap.
//
// Grounded on the teacher's pkg/agent/toolloop algorithm (since deleted as
// dead weight once its LLMClient/ToolDefinition coupling no longer matched
// this tree's pkg/aiadapter and pkg/tools shapes): the iterate-call-dispatch-
// append loop, the iteration-limit-is-not-an-error contract, and the
// tool-result truncation before it is fed back to the model.
package workeragent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"orchestrator/pkg/aiadapter"
	"orchestrator/pkg/aihealth"
	"orchestrator/pkg/convo"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/state"
	"orchestrator/pkg/taxonomy"
	"orchestrator/pkg/tools"
)

// MaxIterations is the default conversation loop cap (spec §4.5).
const MaxIterations = 30

// maxToolResultChars truncates a tool result before it is appended to
// history as a user message, so one noisy command output cannot blow the
// context budget of a long-running conversation.
const maxToolResultChars = 2000

// completionSignals are case-insensitive substrings of an assistant
// message that terminate the loop without a tool call.
var completionSignals = []string{"TASK_COMPLETE", "タスク完了", "作業完了", "DONE", "完了しました"}

// Status is the terminal or in-flight state of one WorkerAgent run.
type Status string

const (
	StatusWorking   Status = "working"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ArtifactAction is how a path was last touched during the loop.
type ArtifactAction string

const (
	ArtifactCreated  ArtifactAction = "created"
	ArtifactModified ArtifactAction = "modified"
)

// TicketContext is what seeds the initial user prompt: the leaf ticket's
// title, description, and acceptance criteria.
type TicketContext struct {
	TicketID           string
	Title              string
	Description        string
	AcceptanceCriteria []string
}

// Result is what Run returns: the terminal status, a summary (from
// task_complete if one fired), and the artifact map in deterministic order.
type Result struct {
	Status    Status
	Summary   string
	Artifacts map[string]ArtifactAction
	Errors    []taxonomy.TaskError
	Iteration int
}

// Agent drives one ticket's conversation loop.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Agent struct {
	WorkerID string
	RunID    string
	Adapter  aiadapter.Adapter
	Tools    *tools.Registry
	Store    *state.Store
	Logger   *logx.Logger
	Health   *aihealth.Status // optional; nil disables AI_UNAVAILABLE reporting

	history   *convo.History
	artifacts map[string]ArtifactAction
	status    Status
	errors    []taxonomy.TaskError
}

// New constructs an Agent ready to Run. If history is nil a fresh one is
// started; pass a loaded history to resume a paused worker.
func New(workerID, runID string, adapter aiadapter.Adapter, toolRegistry *tools.Registry, store *state.Store, logger *logx.Logger, history *convo.History) *Agent {
	if history == nil {
		history = &convo.History{}
	}
	return &Agent{
		WorkerID:  workerID,
		RunID:     runID,
		Adapter:   adapter,
		Tools:     toolRegistry,
		Store:     store,
		Logger:    logger,
		history:   history,
		artifacts: make(map[string]ArtifactAction),
		status:    StatusIdle,
	}
}

// History exposes the conversation history for pause/resume handoff.
func (a *Agent) History() *convo.History { return a.history }

// Status reports the current occupancy state.
func (a *Agent) Status() Status { return a.status }

func toolSpecs(defs []tools.Definition) []aiadapter.ToolSpec {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	specs := make([]aiadapter.ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, aiadapter.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return specs
}

func systemPrompt() string {
	return "You are an autonomous coding worker. Use the provided tools to complete the assigned " +
		"ticket, then call task_complete with a summary of the work performed. " +
		"Signal completion explicitly; do not assume the conversation ends on its own."
}

func initialUserPrompt(tc TicketContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s: %s\n\n%s\n", tc.TicketID, tc.Title, tc.Description)
	if len(tc.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range tc.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func matchesCompletionSignal(content string) bool {
	upper := strings.ToUpper(content)
	for _, sig := range completionSignals {
		if strings.Contains(upper, strings.ToUpper(sig)) {
			return true
		}
	}
	return false
}

func formatToolResult(name string, result any, execErr error) string {
	var body string
	if execErr != nil {
		body = fmt.Sprintf("error: %s", execErr.Error())
	} else {
		encoded, err := json.Marshal(result)
		if err != nil {
			body = fmt.Sprintf("error: failed to encode result: %s", err.Error())
		} else {
			body = string(encoded)
		}
	}
	if len(body) > maxToolResultChars {
		body = body[:maxToolResultChars] + "...(truncated)"
	}
	return fmt.Sprintf("[%s] %s", name, body)
}

// recordArtifact applies the spec's artifact-tracking rule: write_file
// marks created, edit_file marks modified, task_complete.artifacts are
// created; duplicate paths collapse to the last action recorded.
func (a *Agent) recordArtifact(path string, action ArtifactAction) {
	if path == "" {
		return
	}
	a.artifacts[path] = action
}

func (a *Agent) trackArtifactsFromCall(call aiadapter.ToolCall) {
	path, _ := call.Arguments["path"].(string)
	switch call.Name {
	case "write_file":
		a.recordArtifact(path, ArtifactCreated)
	case "edit_file":
		a.recordArtifact(path, ArtifactModified)
	case "task_complete":
		if raw, ok := call.Arguments["artifacts"].([]any); ok {
			for _, item := range raw {
				if s, ok := item.(string); ok {
					a.recordArtifact(s, ArtifactCreated)
				}
			}
		}
	}
}

func (a *Agent) persist(ctx context.Context) {
	if a.Store == nil {
		return
	}
	if err := a.Store.SaveConversation(a.RunID, a.WorkerID, a.history); err != nil && a.Logger != nil {
		a.Logger.Error("persist conversation for worker %s: %v", a.WorkerID, err)
	}
	_ = ctx
}

// Run executes the conversation loop to completion, the iteration cap, or
// a fatal adapter/tool error. History is persisted before returning on
// every exit path, per spec §4.5.
func (a *Agent) Run(ctx context.Context, tc TicketContext) (Result, error) {
	a.status = StatusWorking
	defer a.persist(ctx)

	if len(a.history.Messages) == 0 {
		a.history.AddMessage(convo.RoleSystem, systemPrompt())
		a.history.AddMessage(convo.RoleUser, initialUserPrompt(tc))
	}

	defs := a.Tools.Definitions()
	specs := toolSpecs(defs)

	summary := ""
	iteration := 0
	for iteration = 1; iteration <= MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			a.status = StatusFailed
			return Result{Status: StatusFailed, Artifacts: a.artifacts, Iteration: iteration}, fmt.Errorf("conversation loop cancelled: %w", err)
		}

		resp, err := a.Adapter.Chat(ctx, aiadapter.ChatRequest{
			Messages: a.history.Messages,
			Tools:    specs,
		})
		if err != nil {
			if a.Health != nil {
				a.Health.RecordFailure(err)
			}
			if errors.Is(err, taxonomy.ErrAIUnavailable) {
				// Graceful degradation per spec §7: the worker fails this
				// run, but the caller gets a normal Result back, not a Go
				// error to special-case. Health.Snapshot() carries the
				// outage for status reporting.
				a.status = StatusFailed
				a.errors = append(a.errors, aiUnavailableError(iteration, err))
				return Result{Status: StatusFailed, Artifacts: a.artifacts, Errors: a.errors, Iteration: iteration}, nil
			}
			a.status = StatusFailed
			return Result{Status: StatusFailed, Artifacts: a.artifacts, Errors: a.errors, Iteration: iteration}, fmt.Errorf("AI chat failed on iteration %d: %w", iteration, err)
		}
		if a.Health != nil {
			a.Health.RecordSuccess()
		}
		a.history.AddMessage(convo.RoleAssistant, resp.Content)
		a.history.AddTokens(resp.InputTokens + resp.OutputTokens)

		if matchesCompletionSignal(resp.Content) {
			a.status = StatusCompleted
			break
		}

		if len(resp.ToolCalls) > 0 {
			completed, taskSummary := a.dispatchToolCalls(ctx, resp.ToolCalls)
			if completed {
				a.status = StatusCompleted
				summary = taskSummary
				break
			}
			continue
		}

		if resp.IsComplete {
			a.status = StatusCompleted
			break
		}
	}

	if iteration > MaxIterations {
		// The loop counter ends one past the cap when no iteration broke out.
		iteration = MaxIterations
	}
	if a.status != StatusCompleted {
		a.status = StatusPartial
	}

	return Result{Status: a.status, Summary: summary, Artifacts: a.artifacts, Errors: a.errors, Iteration: iteration}, nil
}

// aiUnavailableError builds the structured ExecutionResult.errors[] entry
// for an AI_UNAVAILABLE outcome, per spec §7.
func aiUnavailableError(iteration int, err error) taxonomy.TaskError {
	return taxonomy.TaskError{
		Code:        taxonomy.ErrAIUnavailable.Error(),
		Message:     fmt.Sprintf("AI backend unreachable on iteration %d: %s", iteration, err.Error()),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Recoverable: true,
	}
}

// dispatchToolCalls executes every call in response order (strictly
// sequential within one loop, per spec §5), appends one user message with
// the formatted results, and reports whether task_complete fired.
func (a *Agent) dispatchToolCalls(ctx context.Context, calls []aiadapter.ToolCall) (completed bool, summary string) {
	var results strings.Builder
	for _, call := range calls {
		start := time.Now()
		result, err := a.Tools.Dispatch(ctx, call.Name, call.Arguments)
		duration := time.Since(start)

		rec := convo.ToolCallRecord{
			ID:         call.ID,
			Name:       call.Name,
			Arguments:  call.Arguments,
			Timestamp:  start,
			DurationMs: duration.Milliseconds(),
		}
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Result = result
		}
		a.history.AddToolCall(rec, 0)
		results.WriteString(formatToolResult(call.Name, result, err))
		results.WriteString("\n")

		a.trackArtifactsFromCall(call)

		if call.Name == "task_complete" && err == nil {
			completed = true
			if m, ok := result.(map[string]any); ok {
				summary, _ = m["summary"].(string)
			}
		}
	}
	a.history.AddMessage(convo.RoleUser, results.String())
	return completed, summary
}

// Pause flips status to idle and persists history, per spec §4.5.
func (a *Agent) Pause(ctx context.Context) error {
	a.status = StatusIdle
	a.persist(ctx)
	return nil
}

// Resume requires a loaded history and flips status back to working.
func (a *Agent) Resume() error {
	if a.history == nil {
		return fmt.Errorf("cannot resume worker %s without a loaded history: %w", a.WorkerID, taxonomy.ErrInvalidState)
	}
	a.status = StatusWorking
	return nil
}
