// Package taxonomy defines the shared error-code vocabulary of spec §7.
// Codes are sentinel errors, not types: callers wrap them with fmt.Errorf's
// %w and classify failures with errors.Is, keeping the "operations that are
// recoverable by the caller return {ok|err} values" policy uniform across
// every component without a shared exception hierarchy.
package taxonomy

import "errors"

var (
	// ErrInvalidInput covers missing project/instruction/title/worker-type and
	// similarly malformed caller-supplied data.
	ErrInvalidInput = errors.New("INVALID_INPUT")

	// ErrNotFound covers ticket/run/state lookup failures.
	ErrNotFound = errors.New("NOT_FOUND")

	// ErrInvalidState covers operations forbidden in the current state machine
	// state (pause completed, resume running, create-over-existing).
	ErrInvalidState = errors.New("INVALID_STATE")

	// ErrDisallowedCommand covers a container command outside the allow set.
	ErrDisallowedCommand = errors.New("DISALLOWED_COMMAND")

	// ErrLintFailed and ErrTestFailed are recorded in QualityGate results,
	// never thrown as Go errors that unwind a call stack.
	ErrLintFailed = errors.New("LINT_FAILED")
	ErrTestFailed = errors.New("TEST_FAILED")

	// ErrTimeout covers any operation that exceeded its deadline.
	ErrTimeout = errors.New("TIMEOUT")

	// ErrAIUnavailable covers an unreachable AI backend; submission still
	// succeeds and execution reports degradation via a health-status object.
	ErrAIUnavailable = errors.New("AI_UNAVAILABLE")

	// ErrContainerError covers create/stop/remove failures, retried once by
	// the pool before being surfaced as a worker failure.
	ErrContainerError = errors.New("CONTAINER_ERROR")

	// ErrCancelled covers an operation that observed the cancellation signal.
	ErrCancelled = errors.New("CANCELLED")
)

// TaskError is the structured error record attached to ExecutionResult.errors[]
// per spec §7.
type TaskError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Recoverable bool   `json:"recoverable"`
}
