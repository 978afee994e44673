// Package workercontainer owns the container lifecycle for one worker
// (C2): composing isolation options, naming the container, driving its
// create/start/stop/destroy state machine, and verifying isolation
// without calling back into the runtime.
package workercontainer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/containerrt"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/taxonomy"
)

// State is a lifecycle state of a WorkerContainer.
type State string

const (
	StateNull      State = ""
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateDestroyed State = "destroyed"
)

const namePrefix = "agentcompany-worker-"

// IsolationConfig mirrors the table in spec §4.2; the zero value is not
// the documented default, so always build one with DefaultIsolationConfig.
//
//nolint:govet // fieldalignment: logical grouping preferred
type IsolationConfig struct {
	NetworkMode     string
	CPULimit        string
	MemoryLimit     string
	TmpfsMounts     []string
	PidsLimit       int
	ReadOnlyRoot    bool
	NoNewPrivileges bool
	DropAllCaps     bool
}

// DefaultIsolationConfig returns the documented default isolation posture:
// no network, all capabilities dropped, no-new-privileges, a 256-process
// cap, and noexec/nosuid tmpfs at /tmp and /var/tmp.
func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		NetworkMode:     "none",
		NoNewPrivileges: true,
		DropAllCaps:     true,
		PidsLimit:       256,
		TmpfsMounts:     []string{"/tmp", "/var/tmp"},
		ReadOnlyRoot:    false,
	}
}

// Spec is the full set of inputs to Create: identity, image, isolation, and
// the worker-container environment of spec §6.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Spec struct {
	WorkerID    string
	RunID       string
	Image       string
	Isolation   IsolationConfig
	GitRepoURL  string
	GitBranch   string
	GitToken    string
	ResultsDir  string
	ExtraEnv    map[string]string
}

// Container owns one container for one worker across its create/start/stop/
// destroy lifecycle.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Container struct {
	runtime     containerrt.Runtime
	logger      *logx.Logger
	spec        Spec
	name        string
	containerID string
	state       State
}

// New constructs a Container bound to a runtime, in the null state. No
// container exists on the backing runtime until Create is called.
func New(runtime containerrt.Runtime, spec Spec) *Container {
	return &Container{
		runtime: runtime,
		logger:  logx.NewLogger("worker-container"),
		spec:    spec,
		state:   StateNull,
	}
}

// State returns the container's current lifecycle state.
func (c *Container) State() State { return c.state }

// ID returns the backing runtime's container ID, empty until Create succeeds.
func (c *Container) ID() string { return c.containerID }

// Name returns the generated container name, empty until Create succeeds.
func (c *Container) Name() string { return c.name }

// generateSuffix draws its randomness from uuid.New() (the teacher's own
// ID-generation dependency) and keeps only the first three bytes hex-encoded,
// so ContainerName's "-"-split naming scheme still sees exactly one
// hyphen-free suffix segment.
func generateSuffix() (string, error) {
	id := uuid.New()
	return hex.EncodeToString(id[:3]), nil
}

// ContainerName builds the "agentcompany-worker-<workerId>-<ms-timestamp>-<6hex>"
// name for a worker, given the current time and a random 6-hex-digit suffix.
func ContainerName(workerID string, now time.Time, suffix string) string {
	return fmt.Sprintf("%s%s-%d-%s", namePrefix, workerID, now.UnixMilli(), suffix)
}

// WorkerIDFromName extracts the workerId from a generated container name:
// strip the fixed prefix, then drop the final two hyphen-separated segments
// (the timestamp and the random suffix).
func WorkerIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, namePrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(name, namePrefix)
	parts := strings.Split(rest, "-")
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[:len(parts)-2], "-"), true
}

// Create composes isolation options into a containerrt.CreateOpts and asks
// the runtime to create the container. It rejects if the container already
// exists in {created, running, stopped}; it succeeds unconditionally from
// {null, destroyed}.
func (c *Container) Create(ctx context.Context) error {
	if c.state == StateCreated || c.state == StateRunning || c.state == StateStopped {
		return fmt.Errorf("create container: already in state %s: %w", c.state, taxonomy.ErrInvalidState)
	}

	suffix, err := generateSuffix()
	if err != nil {
		return err
	}
	name := ContainerName(c.spec.WorkerID, time.Now(), suffix)

	env := map[string]string{
		"WORKER_ID":      c.spec.WorkerID,
		"WORKSPACE_PATH": "/workspace",
	}
	if c.spec.RunID != "" {
		env["RUN_ID"] = c.spec.RunID
	}
	if c.spec.GitRepoURL != "" {
		env["GIT_REPO_URL"] = c.spec.GitRepoURL
	}
	if c.spec.GitBranch != "" {
		env["GIT_BRANCH"] = c.spec.GitBranch
	}
	if c.spec.GitToken != "" {
		env["GIT_TOKEN"] = c.spec.GitToken
	}
	for k, v := range c.spec.ExtraEnv {
		env[k] = v
	}

	opts := containerrt.CreateOpts{
		Name:            name,
		Image:           c.spec.Image,
		WorkDir:         "/workspace",
		Env:             env,
		NetworkMode:     c.spec.Isolation.NetworkMode,
		CPULimit:        c.spec.Isolation.CPULimit,
		MemoryLimit:     c.spec.Isolation.MemoryLimit,
		PidsLimit:       c.spec.Isolation.PidsLimit,
		TmpfsMounts:     c.spec.Isolation.TmpfsMounts,
		ReadOnlyRoot:    c.spec.Isolation.ReadOnlyRoot,
		NoNewPrivileges: c.spec.Isolation.NoNewPrivileges,
		DropAllCaps:     c.spec.Isolation.DropAllCaps,
		ResultsDir:      c.spec.ResultsDir,
	}

	id, err := c.runtime.CreateContainer(ctx, opts)
	if err != nil {
		return err
	}
	c.name = name
	c.containerID = id
	c.state = StateCreated
	return nil
}

// Start requires the container to be created; it is idempotent when
// already running, and rejects when destroyed. The runtime's docker run
// -d already starts the process at create time, so Start here is a state
// transition confirming that and is a no-op against the runtime itself.
func (c *Container) Start(_ context.Context) error {
	switch c.state {
	case StateCreated:
		c.state = StateRunning
		return nil
	case StateRunning:
		return nil
	case StateDestroyed:
		return fmt.Errorf("start container: container is destroyed: %w", taxonomy.ErrInvalidState)
	default:
		return fmt.Errorf("start container: requires created, got %s: %w", c.state, taxonomy.ErrInvalidState)
	}
}

// Stop requires the container to be running; idempotent on {stopped,
// destroyed}. Always transitions to stopped on success.
func (c *Container) Stop(ctx context.Context) error {
	switch c.state {
	case StateStopped, StateDestroyed:
		return nil
	case StateRunning:
		if err := c.runtime.StopContainer(ctx, c.containerID); err != nil {
			return err
		}
		c.state = StateStopped
		return nil
	default:
		return fmt.Errorf("stop container: requires running, got %s: %w", c.state, taxonomy.ErrInvalidState)
	}
}

// Destroy stops (if running) then removes the container, transitioning to
// destroyed. It is idempotent on destroyed and on never-created containers.
// When force is true, stop errors are ignored so removal is still attempted.
func (c *Container) Destroy(ctx context.Context, force bool) error {
	if c.state == StateDestroyed || c.state == StateNull {
		c.state = StateDestroyed
		return nil
	}
	if c.state == StateRunning {
		if err := c.runtime.StopContainer(ctx, c.containerID); err != nil && !force {
			return err
		}
	}
	if err := c.runtime.RemoveContainer(ctx, c.containerID); err != nil {
		return err
	}
	c.state = StateDestroyed
	return nil
}

// IsolationReport is the result of verifying an IsolationConfig against the
// documented defaults, without calling the runtime.
//
//nolint:govet // fieldalignment: logical grouping preferred
type IsolationReport struct {
	NetworkIsolated        bool
	FilesystemIsolated     bool
	ReadOnlySharedCorrect  bool
	SecurityOptionsCorrect bool
	Errors                 []string
}

// VerifyIsolation inspects the effective IsolationConfig and reports whether
// it matches the documented security posture, entirely in memory.
func (c *Container) VerifyIsolation() IsolationReport {
	iso := c.spec.Isolation
	report := IsolationReport{}

	report.NetworkIsolated = iso.NetworkMode == "none"
	if !report.NetworkIsolated {
		report.Errors = append(report.Errors, fmt.Sprintf("Network not isolated: networkMode %q", iso.NetworkMode))
	}

	report.FilesystemIsolated = containsAll(iso.TmpfsMounts, "/tmp", "/var/tmp")
	if !report.FilesystemIsolated {
		report.Errors = append(report.Errors, "required tmpfs mounts for /tmp and /var/tmp are missing")
	}

	report.ReadOnlySharedCorrect = true
	if iso.ReadOnlyRoot && !containsAll(iso.TmpfsMounts, "/tmp", "/var/tmp") {
		report.ReadOnlySharedCorrect = false
		report.Errors = append(report.Errors, "readOnlyRoot set without writable tmpfs mounts at /tmp and /var/tmp")
	}

	report.SecurityOptionsCorrect = iso.NoNewPrivileges && iso.DropAllCaps && iso.PidsLimit > 0
	if !report.SecurityOptionsCorrect {
		report.Errors = append(report.Errors, "no-new-privileges, cap-drop=ALL, and a positive pids-limit are all required")
	}

	return report
}

// VerifyContainerIsolation runs VerifyIsolation on both containers and
// additionally fails if they share an ID.
func VerifyContainerIsolation(a, b *Container) IsolationReport {
	reportA := a.VerifyIsolation()
	reportB := b.VerifyIsolation()
	merged := IsolationReport{
		NetworkIsolated:        reportA.NetworkIsolated && reportB.NetworkIsolated,
		FilesystemIsolated:     reportA.FilesystemIsolated && reportB.FilesystemIsolated,
		ReadOnlySharedCorrect:  reportA.ReadOnlySharedCorrect && reportB.ReadOnlySharedCorrect,
		SecurityOptionsCorrect: reportA.SecurityOptionsCorrect && reportB.SecurityOptionsCorrect,
	}
	merged.Errors = append(merged.Errors, reportA.Errors...)
	merged.Errors = append(merged.Errors, reportB.Errors...)
	if a.containerID != "" && a.containerID == b.containerID {
		merged.Errors = append(merged.Errors, "containers share the same container ID")
	}
	return merged
}

func containsAll(haystack []string, needles ...string) bool {
	set := make(map[string]bool, len(haystack))
	for _, h := range haystack {
		set[h] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}
