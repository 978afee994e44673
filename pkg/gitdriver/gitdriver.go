// Package gitdriver provides the typed git operations a WorkerAgent's
// git_commit and git_status tools dispatch through, per spec §4.5/§6. Every
// operation shells out to the git binary inside the worker's own workspace;
// callers never construct raw command strings themselves.
package gitdriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"orchestrator/pkg/logx"
)

// Driver runs git commands rooted at one working directory.
type Driver struct {
	workDir string
	logger  *logx.Logger
}

// New returns a Driver operating inside workDir (typically /workspace
// inside a worker container).
func New(workDir string) *Driver {
	return &Driver{workDir: workDir, logger: logx.NewLogger("gitdriver")}
}

func (d *Driver) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// CommitResult is the data-returned outcome of Commit.
type CommitResult struct {
	CommitHash string
	Error      string
}

// Commit stages the given files (or everything, if files is empty) and
// commits with message. A commit with nothing staged is reported as an
// error, not a panic — git itself returns a non-zero exit code for it.
func (d *Driver) Commit(ctx context.Context, message string, files []string) CommitResult {
	if len(files) == 0 {
		if _, stderr, err := d.run(ctx, "add", "-A"); err != nil {
			return CommitResult{Error: fmt.Sprintf("git add -A: %v: %s", err, stderr)}
		}
	} else {
		args := append([]string{"add"}, files...)
		if _, stderr, err := d.run(ctx, args...); err != nil {
			return CommitResult{Error: fmt.Sprintf("git add: %v: %s", err, stderr)}
		}
	}

	if _, stderr, err := d.run(ctx, "commit", "-m", message); err != nil {
		return CommitResult{Error: fmt.Sprintf("git commit: %v: %s", err, stderr)}
	}

	stdout, stderr, err := d.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return CommitResult{Error: fmt.Sprintf("git rev-parse HEAD: %v: %s", err, stderr)}
	}
	return CommitResult{CommitHash: strings.TrimSpace(stdout)}
}

// StatusResult is the data-returned outcome of Status.
//
//nolint:govet // fieldalignment: logical grouping preferred
type StatusResult struct {
	Branch    string
	Modified  []string
	Staged    []string
	Untracked []string
}

// Status parses `git status --porcelain=v1 -b` into the three file buckets
// the git_status tool exposes.
func (d *Driver) Status(ctx context.Context) (StatusResult, error) {
	stdout, stderr, err := d.run(ctx, "status", "--porcelain=v1", "-b")
	if err != nil {
		return StatusResult{}, fmt.Errorf("git status: %w: %s", err, stderr)
	}
	return parseStatus(stdout), nil
}

// parseStatus sorts `git status --porcelain=v1 -b` output into the branch
// name and the three file buckets.
func parseStatus(stdout string) StatusResult {
	result := StatusResult{}
	lines := strings.Split(stdout, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		if i == 0 && strings.HasPrefix(line, "##") {
			result.Branch = parseBranchLine(line)
			continue
		}
		if len(line) < 3 {
			continue
		}
		indexStatus, workStatus, path := line[0], line[1], strings.TrimSpace(line[3:])
		switch {
		case indexStatus == '?' && workStatus == '?':
			result.Untracked = append(result.Untracked, path)
		case indexStatus != ' ':
			result.Staged = append(result.Staged, path)
			if workStatus != ' ' {
				result.Modified = append(result.Modified, path)
			}
		case workStatus != ' ':
			result.Modified = append(result.Modified, path)
		}
	}
	return result
}

func parseBranchLine(line string) string {
	// "## main...origin/main" or "## HEAD (no branch)"
	line = strings.TrimPrefix(line, "## ")
	if idx := strings.Index(line, "..."); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, " "); idx >= 0 {
		line = line[:idx]
	}
	return line
}

// Branch returns the current branch name.
func (d *Driver) Branch(ctx context.Context) (string, error) {
	stdout, stderr, err := d.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD: %w: %s", err, stderr)
	}
	return strings.TrimSpace(stdout), nil
}
