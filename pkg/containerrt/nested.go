package containerrt

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/taxonomy"
)

const nestedNamespace = "agentco-workers"

// nestedRuntime talks to containerd directly through its Go client instead
// of a CLI binary. There is no command string to validate here: the
// containerd namespace and OCI spec are the sandbox (spec §4.1 point 6),
// so RunCommand on this mode executes inside the already-isolated task
// rather than against a host-level CLI.
//
// Grounded on the teacher pack's containerd POC (cuemby-warren
// poc/containerd/main.go): client.New, namespaces.WithNamespace,
// NewContainer+WithNewSnapshot+WithNewSpec, NewTask+cio.NewCreator.
type nestedRuntime struct {
	client *containerd.Client
	logger *logx.Logger

	tasksMu sync.Mutex
	tasks   map[string]containerd.Task
}

func newNestedRuntime() (Runtime, error) {
	client, err := containerd.New("/run/containerd/containerd.sock")
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w: %w", taxonomy.ErrContainerError, err)
	}
	return &nestedRuntime{
		client: client,
		logger: logx.NewLogger("containerrt-nested"),
		tasks:  make(map[string]containerd.Task),
	}, nil
}

func (r *nestedRuntime) Mode() Mode { return ModeNested }

func (r *nestedRuntime) nsCtx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, nestedNamespace)
}

func (r *nestedRuntime) CreateContainer(ctx context.Context, opts CreateOpts) (string, error) {
	ctx = r.nsCtx(ctx)

	image, err := r.client.Pull(ctx, opts.Image, containerd.WithPullUnpack)
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w: %w", opts.Image, taxonomy.ErrContainerError, err)
	}

	var env []string
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if opts.WorkDir != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(opts.WorkDir))
	}

	container, err := r.client.NewContainer(
		ctx,
		opts.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(opts.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w: %w", opts.Name, taxonomy.ErrContainerError, err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return "", fmt.Errorf("create task for %s: %w: %w", opts.Name, taxonomy.ErrContainerError, err)
	}
	if err := task.Start(ctx); err != nil {
		return "", fmt.Errorf("start task for %s: %w: %w", opts.Name, taxonomy.ErrContainerError, err)
	}

	r.tasksMu.Lock()
	r.tasks[opts.Name] = task
	r.tasksMu.Unlock()

	return opts.Name, nil
}

func (r *nestedRuntime) StopContainer(ctx context.Context, id string) error {
	ctx = r.nsCtx(ctx)
	r.tasksMu.Lock()
	task, ok := r.tasks[id]
	r.tasksMu.Unlock()
	if !ok {
		return fmt.Errorf("stop container %s: %w", id, taxonomy.ErrNotFound)
	}
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	statusC, err := task.Wait(waitCtx)
	if err == nil {
		<-statusC
	}
	return nil
}

func (r *nestedRuntime) RemoveContainer(ctx context.Context, id string) error {
	ctx = r.nsCtx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("remove container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}

	r.tasksMu.Lock()
	task, ok := r.tasks[id]
	delete(r.tasks, id)
	r.tasksMu.Unlock()
	if ok {
		if _, err := task.Delete(ctx); err != nil {
			r.logger.Warn("delete task for %s: %v", id, err)
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("remove container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	return nil
}

func (r *nestedRuntime) GetContainerLogs(_ context.Context, id string, _ LogsOpts) (string, error) {
	// containerd's cio pipes stdio directly; a production deployment would
	// attach a fifo-backed writer at task-creation time. Not wired here.
	return "", fmt.Errorf("log retrieval for nested runtime container %s requires a fifo sink: %w", id, taxonomy.ErrContainerError)
}

func (r *nestedRuntime) InspectContainer(ctx context.Context, id string) (map[string]any, error) {
	ctx = r.nsCtx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	info, err := container.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w: %w", id, taxonomy.ErrContainerError, err)
	}
	return map[string]any{"id": info.ID, "image": info.Image, "createdAt": info.CreatedAt}, nil
}

// RunCommand has no command string to validate in nested mode; it executes
// inside the container's own task via containerd's exec facility, which is
// out of scope for the narrow tool surface this runtime exposes, so it
// reports the same shape a disallowed command would on other modes.
func (r *nestedRuntime) RunCommand(_ context.Context, _ string, _ time.Duration) (CommandResult, error) {
	return CommandResult{}, fmt.Errorf("run_command is not supported against the nested containerd runtime: %w", taxonomy.ErrDisallowedCommand)
}
