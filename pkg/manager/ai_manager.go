package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"orchestrator/pkg/aiadapter"
	"orchestrator/pkg/convo"
	"orchestrator/pkg/logx"
)

// AIManager is the default Manager: it asks an AI adapter to propose a
// decomposition as a JSON array of subtasks, the way the teacher's
// ArchitectAgent turns an incoming instruction into dispatchable tasks
// (agents/architect.go's ProcessMessage), but driven by a chat call
// instead of a fixed story-file format.
type AIManager struct {
	Adapter  aiadapter.Adapter
	Logger   *logx.Logger
	Assigner func(ctx context.Context, subtask SubTask) error
}

// NewAIManager builds an AIManager. assigner is typically a closure that
// submits the subtask to WorkerPool via pkg/orchestrator.
func NewAIManager(adapter aiadapter.Adapter, logger *logx.Logger, assigner func(ctx context.Context, subtask SubTask) error) *AIManager {
	return &AIManager{Adapter: adapter, Logger: logger, Assigner: assigner}
}

func (m *AIManager) ReceiveTask(_ context.Context, instruction string) error {
	if m.Logger != nil {
		m.Logger.Info("manager received task: %s", instruction)
	}
	return nil
}

type rawSubTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	WorkerType         string   `json:"workerType"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

const decomposePrompt = "Break the following instruction into an ordered JSON array of subtasks. " +
	"Each element must have fields: title, description, workerType " +
	"(one of research, design, developer, test, reviewer, designer), acceptanceCriteria (array of strings). " +
	"Respond with only the JSON array."

func (m *AIManager) DecomposeTask(ctx context.Context, instruction string) ([]SubTask, error) {
	resp, err := m.Adapter.Chat(ctx, aiadapter.ChatRequest{
		SystemPrompt: decomposePrompt,
		Messages: []convo.Message{
			{Role: convo.RoleUser, Content: instruction},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decompose task: %w", err)
	}

	jsonText := extractJSONArray(resp.Content)
	var raw []rawSubTask
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}

	subtasks := make([]SubTask, 0, len(raw))
	for _, r := range raw {
		subtasks = append(subtasks, SubTask{
			Title:              r.Title,
			Description:        r.Description,
			WorkerType:         r.WorkerType,
			AcceptanceCriteria: r.AcceptanceCriteria,
		})
	}
	return subtasks, nil
}

// extractJSONArray trims any prose surrounding a model's JSON array
// response down to the array itself, tolerating the occasional
// "Here's the plan:\n[...]" wrapper a chat model adds despite instructions.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func (m *AIManager) AssignTask(ctx context.Context, subtask SubTask) error {
	if m.Assigner == nil {
		return fmt.Errorf("manager has no assigner configured")
	}
	return m.Assigner(ctx, subtask)
}

func (m *AIManager) StartProgressMonitoring(_ context.Context) error {
	return nil
}
