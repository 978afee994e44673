// Package manager defines the minimal Manager agent contract WorkflowEngine
// consumes opaquely (spec §4.10). Decomposition strategy is pluggable; the
// engine only consumes SubTask output.
package manager

import "context"

// SubTask is one unit of decomposed work the WorkflowEngine turns into a
// child ticket and hands to WorkerPool.
//
//nolint:govet // fieldalignment: logical grouping preferred
type SubTask struct {
	Title              string
	Description        string
	WorkerType         string
	AcceptanceCriteria []string
}

// Manager is the pluggable planning/decomposition surface. Implementations
// may call out to an AI adapter, a static rules engine, or a human review
// queue; WorkflowEngine treats decomposition as opaque.
type Manager interface {
	// ReceiveTask registers the top-level instruction the workflow was
	// submitted with.
	ReceiveTask(ctx context.Context, instruction string) error
	// DecomposeTask turns the instruction into an ordered set of subtasks.
	DecomposeTask(ctx context.Context, instruction string) ([]SubTask, error)
	// AssignTask hands one subtask off for execution (typically enqueuing
	// it with WorkerPool); the caller does not wait for completion here.
	AssignTask(ctx context.Context, subtask SubTask) error
	// StartProgressMonitoring begins whatever background observation the
	// manager performs (e.g. polling run state); implementations may no-op.
	StartProgressMonitoring(ctx context.Context) error
}
