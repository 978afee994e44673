package workercontainer

import (
	"context"
	"errors"
	"testing"
	"time"

	"orchestrator/pkg/containerrt"
	"orchestrator/pkg/taxonomy"
)

type fakeRuntime struct {
	created, stopped, removed []string
	createErr, stopErr, removeErr error
}

func (f *fakeRuntime) CreateContainer(_ context.Context, opts containerrt.CreateOpts) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, opts.Name)
	return "cid-" + opts.Name, nil
}
func (f *fakeRuntime) StopContainer(_ context.Context, id string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeRuntime) RemoveContainer(_ context.Context, id string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeRuntime) GetContainerLogs(_ context.Context, _ string, _ containerrt.LogsOpts) (string, error) {
	return "", nil
}
func (f *fakeRuntime) InspectContainer(_ context.Context, _ string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeRuntime) RunCommand(_ context.Context, _ string, _ time.Duration) (containerrt.CommandResult, error) {
	return containerrt.CommandResult{}, nil
}
func (f *fakeRuntime) Mode() containerrt.Mode { return containerrt.ModeHostSocket }

func TestContainerNameAndWorkerIDExtraction(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	name := ContainerName("worker-42", now, "ab12cd")
	workerID, ok := WorkerIDFromName(name)
	if !ok || workerID != "worker-42" {
		t.Fatalf("WorkerIDFromName(%q) = (%q, %v), want (\"worker-42\", true)", name, workerID, ok)
	}
}

func TestWorkerIDFromNameRejectsWrongPrefix(t *testing.T) {
	if _, ok := WorkerIDFromName("not-a-worker-container"); ok {
		t.Error("expected rejection for a name without the fixed prefix")
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "agentco/worker:latest", Isolation: DefaultIsolationConfig()})

	if err := c.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.State() != StateCreated {
		t.Fatalf("expected created, got %s", c.State())
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateRunning {
		t.Fatalf("expected running, got %s", c.State())
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
	if err := c.Destroy(context.Background(), false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if c.State() != StateDestroyed {
		t.Fatalf("expected destroyed, got %s", c.State())
	}
	if len(rt.created) != 1 || len(rt.stopped) != 1 || len(rt.removed) != 1 {
		t.Errorf("expected exactly one create/stop/remove call each, got %+v", rt)
	}
}

func TestCreateRejectsWhenAlreadyCreated(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "img"})
	if err := c.Create(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Create(context.Background()); !errors.Is(err, taxonomy.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double create, got %v", err)
	}
}

func TestStopIsIdempotentOnStoppedAndDestroyed(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "img"})
	c.state = StateStopped
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop on already-stopped should be a no-op, got %v", err)
	}
	c.state = StateDestroyed
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop on destroyed should be a no-op, got %v", err)
	}
}

func TestStopRejectsFromCreated(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "img"})
	c.state = StateCreated
	if err := c.Stop(context.Background()); !errors.Is(err, taxonomy.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState stopping a non-running container, got %v", err)
	}
}

func TestDestroyIsIdempotentOnNeverCreated(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "img"})
	if err := c.Destroy(context.Background(), false); err != nil {
		t.Fatalf("Destroy on never-created should be a no-op, got %v", err)
	}
	if len(rt.removed) != 0 {
		t.Errorf("expected no runtime calls for a never-created container, got %+v", rt)
	}
}

func TestDestroyForceIgnoresStopErrors(t *testing.T) {
	rt := &fakeRuntime{stopErr: errors.New("boom")}
	c := New(rt, Spec{WorkerID: "w1", Image: "img"})
	c.state = StateRunning
	c.containerID = "cid-1"
	if err := c.Destroy(context.Background(), true); err != nil {
		t.Fatalf("force destroy should ignore stop errors, got %v", err)
	}
	if c.State() != StateDestroyed {
		t.Fatalf("expected destroyed after forced destroy, got %s", c.State())
	}
}

func TestVerifyIsolationFlagsNonDefaultConfig(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "img", Isolation: IsolationConfig{NetworkMode: "bridge"}})
	report := c.VerifyIsolation()
	if report.NetworkIsolated {
		t.Error("expected network isolation to fail for bridge mode")
	}
	if len(report.Errors) == 0 {
		t.Error("expected errors to be populated for a misconfigured isolation")
	}
}

func TestVerifyIsolationPassesOnDefaults(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, Spec{WorkerID: "w1", Image: "img", Isolation: DefaultIsolationConfig()})
	report := c.VerifyIsolation()
	if !report.NetworkIsolated || !report.FilesystemIsolated || !report.SecurityOptionsCorrect {
		t.Errorf("expected default isolation config to pass all checks, got %+v", report)
	}
}

func TestVerifyContainerIsolationFlagsSharedID(t *testing.T) {
	rt := &fakeRuntime{}
	a := New(rt, Spec{WorkerID: "w1", Image: "img", Isolation: DefaultIsolationConfig()})
	b := New(rt, Spec{WorkerID: "w2", Image: "img", Isolation: DefaultIsolationConfig()})
	a.containerID = "shared"
	b.containerID = "shared"
	report := VerifyContainerIsolation(a, b)
	found := false
	for _, e := range report.Errors {
		if e == "containers share the same container ID" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a shared-ID error, got %+v", report.Errors)
	}
}
