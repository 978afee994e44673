package containerrt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/taxonomy"
)

// Mode selects which of the three runtime implementations backs a Runtime.
type Mode string

const (
	ModeHostSocket Mode = "host-socket"
	ModeRootless   Mode = "rootless"
	ModeNested     Mode = "nested"
)

// CreateOpts are the inputs to CreateContainer, shaped after the
// IsolationConfig table and worker-container environment in spec §4.2/§6.
//
//nolint:govet // fieldalignment: logical grouping preferred
type CreateOpts struct {
	Name            string
	Image           string
	WorkDir         string
	Env             map[string]string
	NetworkMode     string
	CPULimit        string
	MemoryLimit     string
	PidsLimit       int
	TmpfsMounts     []string
	ReadOnlyRoot    bool
	NoNewPrivileges bool
	DropAllCaps     bool
	ResultsDir      string // host path bound read-only at /results, if provided
}

// LogsOpts parameterizes GetContainerLogs.
type LogsOpts struct {
	Tail int // 0 means "all"
}

// CommandResult is the data-returned outcome of a shelled-out command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runtime is the narrow capability interface of spec §4.1: create, stop,
// remove, inspect, and read logs for a container, plus run an arbitrary
// already-validated command against the backing CLI (used by the
// run_command tool and by WorkerContainer's own lifecycle calls).
type Runtime interface {
	CreateContainer(ctx context.Context, opts CreateOpts) (containerID string, err error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	GetContainerLogs(ctx context.Context, id string, opts LogsOpts) (string, error)
	InspectContainer(ctx context.Context, id string) (map[string]any, error)
	RunCommand(ctx context.Context, command string, timeout time.Duration) (CommandResult, error)
	Mode() Mode
}

// New constructs the Runtime implementation for the given mode.
func New(mode Mode, cliName, socketPath string, allowSet []string) (Runtime, error) {
	switch mode {
	case ModeHostSocket:
		return &cliRuntime{cliName: cliName, socketPath: socketPath, allowSet: allowSet, validate: true, logger: logx.NewLogger("containerrt-host")}, nil
	case ModeRootless:
		return &cliRuntime{cliName: "podman", socketPath: socketPath, validate: false, logger: logx.NewLogger("containerrt-rootless")}, nil
	case ModeNested:
		return newNestedRuntime()
	default:
		return nil, fmt.Errorf("unknown container runtime mode %q: %w", mode, taxonomy.ErrInvalidInput)
	}
}

// cliRuntime backs both host-socket (docker, command-string validated) and
// rootless (podman, unvalidated per spec §4.1 point 6) modes: both shell
// out to a CLI binary via os/exec, differing only in whether ValidateCommand
// runs first.
//
//nolint:govet // fieldalignment: logical grouping preferred
type cliRuntime struct {
	cliName    string
	socketPath string
	allowSet   []string
	validate   bool
	logger     *logx.Logger
}

func (r *cliRuntime) Mode() Mode {
	if r.validate {
		return ModeHostSocket
	}
	return ModeRootless
}

func (r *cliRuntime) buildEnvArgs(env map[string]string) []string {
	var args []string
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	return args
}

func (r *cliRuntime) CreateContainer(ctx context.Context, opts CreateOpts) (string, error) {
	args := []string{"run", "-d", "--name", opts.Name}
	args = append(args, "--network", defaultString(opts.NetworkMode, "none"))
	if opts.NoNewPrivileges {
		args = append(args, "--security-opt=no-new-privileges:true")
	}
	if opts.DropAllCaps {
		args = append(args, "--cap-drop=ALL")
	}
	if opts.PidsLimit > 0 {
		args = append(args, "--pids-limit="+strconv.Itoa(opts.PidsLimit))
	}
	for _, mnt := range opts.TmpfsMounts {
		args = append(args, "--tmpfs", mnt+":rw,noexec,nosuid,size=256m")
	}
	if opts.ReadOnlyRoot {
		args = append(args, "--read-only", "--tmpfs", "/workspace:rw,exec")
	}
	if opts.CPULimit != "" {
		args = append(args, "--cpus", opts.CPULimit)
	}
	if opts.MemoryLimit != "" {
		args = append(args, "--memory", opts.MemoryLimit)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	if opts.ResultsDir != "" {
		args = append(args, "-v", opts.ResultsDir+":/results:ro")
	}
	args = append(args, r.buildEnvArgs(opts.Env)...)
	args = append(args, opts.Image)

	out, err := r.exec(ctx, args)
	if err != nil {
		return "", fmt.Errorf("create container: %w: %w", taxonomy.ErrContainerError, err)
	}
	return strings.TrimSpace(out.Stdout), nil
}

func (r *cliRuntime) StopContainer(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, []string{"stop", id}); err != nil {
		return fmt.Errorf("stop container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	return nil
}

func (r *cliRuntime) RemoveContainer(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, []string{"rm", "-f", id}); err != nil {
		return fmt.Errorf("remove container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	return nil
}

func (r *cliRuntime) GetContainerLogs(ctx context.Context, id string, opts LogsOpts) (string, error) {
	args := []string{"logs"}
	if opts.Tail > 0 {
		args = append(args, "--tail", strconv.Itoa(opts.Tail))
	}
	args = append(args, id)
	out, err := r.exec(ctx, args)
	if err != nil {
		return "", fmt.Errorf("logs for container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	return out.Stdout + out.Stderr, nil
}

func (r *cliRuntime) InspectContainer(ctx context.Context, id string) (map[string]any, error) {
	out, err := r.exec(ctx, []string{"inspect", id})
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	return map[string]any{"raw": out.Stdout}, nil
}

// RunCommand shells out a fully-formed command string. In host-socket mode
// the string is validated against the allow/deny sets first; rootless mode
// passes it straight through (the runtime itself is the sandbox, per spec
// §4.1 point 6).
func (r *cliRuntime) RunCommand(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	if r.validate {
		result := ValidateCommand(command, r.cliName, r.allowSet)
		if !result.Valid {
			return CommandResult{}, fmt.Errorf("%s: %w", result.Error, taxonomy.ErrDisallowedCommand)
		}
	}
	tokens, err := Tokenize(command)
	if err != nil {
		return CommandResult{}, fmt.Errorf("invalid command format: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, tokens[0], tokens[1:]...)
	if r.socketPath != "" {
		cmd.Env = append(cmd.Env, "DOCKER_HOST=unix://"+r.socketPath)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, fmt.Errorf("command timed out: %w", taxonomy.ErrTimeout)
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if runErr != nil {
		return result, fmt.Errorf("execute command: %w", runErr)
	}
	return result, nil
}

func (r *cliRuntime) exec(ctx context.Context, args []string) (CommandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cliName, args...)
	if r.socketPath != "" {
		cmd.Env = append(cmd.Env, "DOCKER_HOST=unix://"+r.socketPath)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("%s %s failed: %s", r.cliName, strings.Join(args, " "), stderr.String())
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
