// Package qualitygate implements QualityGate (C6): the strict lint-then-test
// sequencer that gates a run's delivery on spec §4.6's ordering and
// skip-reason rules.
package qualitygate

import (
	"context"
	"errors"
	"strings"
	"time"

	"orchestrator/pkg/containerrt"
	"orchestrator/pkg/state"
	"orchestrator/pkg/taxonomy"
)

// Config is what execute(runId) needs about the workspace under test.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Config struct {
	Runtime        containerrt.Runtime
	LintCommand    string
	TestCommand    string
	SkipLint       bool
	SkipTest       bool
	HasTestFiles   bool // if false and !SkipTest, test is skipped with "no test files"
	CommandTimeout time.Duration
}

// CheckResult is one lint/test check's outcome, the §6 shape before it is
// folded into a state.CheckSummary for persistence.
//
//nolint:govet // fieldalignment: logical grouping preferred
type CheckResult struct {
	Executed   bool
	Passed     bool
	TimedOut   bool
	Output     string
	SkipReason string
	DurationMs int64
}

// Result is execute(runId)'s full return value.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Result struct {
	Success    bool
	Lint       CheckResult
	Test       CheckResult
	Errors     []taxonomy.TaskError
	DurationMs int64
}

const (
	skipReasonConfig      = "config skip"
	skipReasonLintFailed  = "lint failed"
	skipReasonNoTestFiles = "no test files"
)

// Execute runs the gate for runID against cfg, strictly sequencing lint
// before test per spec §4.6's four-step algorithm.
func Execute(ctx context.Context, runID string, cfg Config) Result {
	start := time.Now()
	var result Result

	result.Lint = runOrSkipLint(ctx, cfg)
	if !result.Lint.Executed && result.Lint.SkipReason == "" {
		result.Lint.SkipReason = skipReasonConfig
	}
	if result.Lint.Executed && !result.Lint.Passed {
		switch {
		case result.Lint.TimedOut:
			result.Errors = append(result.Errors, taskError(taxonomy.ErrTimeout, "lint command timed out"))
		default:
			result.Errors = append(result.Errors, taskError(taxonomy.ErrLintFailed, "lint command failed"))
		}
	}

	result.Test = runOrSkipTest(ctx, cfg, result.Lint)
	if result.Test.Executed && !result.Test.Passed {
		switch {
		case result.Test.TimedOut:
			result.Errors = append(result.Errors, taskError(taxonomy.ErrTimeout, "test command timed out"))
		default:
			result.Errors = append(result.Errors, taskError(taxonomy.ErrTestFailed, "test command failed"))
		}
	}

	result.Success = checkCountsAsPassed(result.Lint) && checkCountsAsPassed(result.Test)
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// checkCountsAsPassed implements step 3's nuance: a config-skip or
// no-test-files-skip counts as passed; a lint-failure-skip never does,
// and an executed-but-failed check never does.
func checkCountsAsPassed(c CheckResult) bool {
	if !c.Executed {
		return c.SkipReason == skipReasonConfig || c.SkipReason == skipReasonNoTestFiles
	}
	return c.Passed
}

func runOrSkipLint(ctx context.Context, cfg Config) CheckResult {
	if cfg.SkipLint {
		return CheckResult{Executed: false, SkipReason: skipReasonConfig}
	}
	return runCheck(ctx, cfg, cfg.LintCommand)
}

func runOrSkipTest(ctx context.Context, cfg Config, lint CheckResult) CheckResult {
	if cfg.SkipTest {
		return CheckResult{Executed: false, SkipReason: skipReasonConfig}
	}
	if lint.Executed && !lint.Passed {
		return CheckResult{Executed: false, SkipReason: skipReasonLintFailed}
	}
	if !cfg.HasTestFiles {
		return CheckResult{Executed: false, SkipReason: skipReasonNoTestFiles}
	}
	return runCheck(ctx, cfg, cfg.TestCommand)
}

func runCheck(ctx context.Context, cfg Config, command string) CheckResult {
	start := time.Now()
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	out, err := cfg.Runtime.RunCommand(ctx, command, timeout)
	duration := time.Since(start).Milliseconds()
	output := strings.TrimSpace(out.Stdout + "\n" + out.Stderr)
	if err != nil {
		timedOut := out.TimedOut || errors.Is(err, taxonomy.ErrTimeout)
		return CheckResult{Executed: true, Passed: false, TimedOut: timedOut, Output: output, DurationMs: duration}
	}
	return CheckResult{Executed: true, Passed: out.ExitCode == 0, Output: output, DurationMs: duration}
}

func taskError(code error, message string) taxonomy.TaskError {
	return taxonomy.TaskError{
		Code:        code.Error(),
		Message:     message,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Recoverable: true,
	}
}

// ToStateResult converts a Result into the state.QualityResult persisted
// record. Pure and idempotent: calling it twice on the same Result yields
// byte-identical output modulo the timestamp argument.
func ToStateResult(runID string, r Result, timestamp time.Time) *state.QualityResult {
	return &state.QualityResult{
		RunID:     runID,
		Timestamp: timestamp,
		Lint:      toCheckSummary(r.Lint),
		Test:      toCheckSummary(r.Test),
		Overall:   r.Success,
	}
}

func toCheckSummary(c CheckResult) state.CheckSummary {
	return state.CheckSummary{
		Passed: checkCountsAsPassed(c),
		Output: c.Output,
	}
}

// ExecuteAndPersist runs Execute and stores the result via store, returning
// both the in-memory Result (for immediate callers) and any persistence
// error (separate from gate failures, which are reported through Result
// itself rather than a Go error).
func ExecuteAndPersist(ctx context.Context, runID string, cfg Config, store *state.Store, now time.Time) (Result, error) {
	result := Execute(ctx, runID, cfg)
	if store == nil {
		return result, nil
	}
	if err := store.SaveQualityResult(ToStateResult(runID, result, now)); err != nil {
		return result, err
	}
	return result, nil
}
