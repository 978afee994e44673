package commands

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"orchestrator/pkg/aiadapter"
	"orchestrator/pkg/aihealth"
	"orchestrator/pkg/config"
	"orchestrator/pkg/containerrt"
	"orchestrator/pkg/gitdriver"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/manager"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/pool"
	"orchestrator/pkg/qualitygate"
	"orchestrator/pkg/state"
	"orchestrator/pkg/ticket"
	"orchestrator/pkg/tools"
	"orchestrator/pkg/workeragent"
	"orchestrator/pkg/workercontainer"
	"orchestrator/pkg/workflow"

	"orchestrator/pkg/orchestrator"
)

// deps bundles what wire() builds for the serve subcommand: the
// orchestrator itself, the store it was built against, and the metrics
// recorder.
type deps struct {
	orch     *orchestrator.Orchestrator
	store    *state.Store
	recorder *metrics.Recorder
}

// buildAdapter picks one aiadapter.Adapter from cfg.DefaultAIAdapter,
// resolving the backend's credential through config.GetSecret, which
// checks the encrypted secrets file before falling back to the
// credential's conventional environment variable. Ollama has no API key;
// it reads its host URL instead.
func buildAdapter(cfg *config.Config) (aiadapter.Adapter, error) {
	switch cfg.DefaultAIAdapter {
	case "anthropic":
		key, err := config.GetSecret("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return aiadapter.NewAnthropicAdapter(key, cfg.DefaultModel), nil
	case "openai":
		key, err := config.GetSecret("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return aiadapter.NewOpenAIAdapter(key, cfg.DefaultModel), nil
	case "gemini":
		key, err := config.GetSecret("GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		return aiadapter.NewGeminiAdapter(key, cfg.DefaultModel), nil
	case "ollama":
		host, err := config.GetSecret("OLLAMA_HOST")
		if err != nil {
			host = "http://localhost:11434"
		}
		return aiadapter.NewOllamaAdapter(host, cfg.DefaultModel), nil
	default:
		return nil, fmt.Errorf("unrecognized defaultAiAdapter %q", cfg.DefaultAIAdapter)
	}
}

// containerFactory returns a pool.Factory that creates and starts one
// workercontainer.Container per new worker slot, naming it off an
// atomically-incrementing counter the same way the teacher's worker pool
// names its own agent IDs.
func containerFactory(runtime containerrt.Runtime, runID string) pool.Factory {
	var counter int64
	gitToken, _ := config.GetSecret("GIT_TOKEN") // optional; empty means no credential is injected
	return func(ctx context.Context, workerType string, _ []string) (string, error) {
		n := atomic.AddInt64(&counter, 1)
		workerID := fmt.Sprintf("%s-%d", workerType, n)
		c := workercontainer.New(runtime, workercontainer.Spec{
			WorkerID:   workerID,
			RunID:      runID,
			Image:      "agentcompany/worker:latest",
			Isolation:  workercontainer.DefaultIsolationConfig(),
			GitToken:   gitToken,
			ResultsDir: "/workspace/results",
		})
		if err := c.Create(ctx); err != nil {
			return "", fmt.Errorf("create worker container: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			return "", fmt.Errorf("start worker container: %w", err)
		}
		return workerID, nil
	}
}

// buildExecutor returns a workflow.Executor that gives the assigned child
// ticket's leaf conversation to a fresh workeragent.Agent equipped with the
// eight-tool worker surface, all dispatching against the same runtime that
// owns the worker's container.
func buildExecutor(runtime containerrt.Runtime, adapter aiadapter.Adapter, store *state.Store, health *aihealth.Status, commandTimeout time.Duration) workflow.Executor {
	return func(ctx context.Context, worker *pool.WorkerInfo, child ticket.ChildTicket) (workflow.DevelopmentResult, error) {
		workspaceRoot := fmt.Sprintf("runtime/workspaces/%s", worker.WorkerID)

		registry, err := tools.NewRegistry(
			&tools.ReadFileTool{WorkspaceRoot: workspaceRoot},
			&tools.WriteFileTool{WorkspaceRoot: workspaceRoot},
			&tools.EditFileTool{WorkspaceRoot: workspaceRoot},
			&tools.ListDirectoryTool{WorkspaceRoot: workspaceRoot},
			&tools.RunCommandTool{Runtime: runtime, DefaultTimeout: commandTimeout},
			&tools.GitCommitTool{Driver: gitdriver.New(workspaceRoot)},
			&tools.GitStatusTool{Driver: gitdriver.New(workspaceRoot)},
			&tools.TaskCompleteTool{},
		)
		if err != nil {
			return workflow.DevelopmentResult{}, fmt.Errorf("build tool registry: %w", err)
		}

		logger := logx.NewLogger("worker-agent").With(map[string]string{"workerId": worker.WorkerID, "ticketId": child.ID})
		agent := workeragent.New(worker.WorkerID, child.ID, adapter, registry, store, logger, nil)
		agent.Health = health

		var acceptance []string
		for _, g := range child.GrandchildTickets {
			acceptance = append(acceptance, g.AcceptanceCriteria...)
		}

		result, err := agent.Run(ctx, workeragent.TicketContext{
			TicketID:           child.ID,
			Title:              child.Title,
			Description:        child.Title,
			AcceptanceCriteria: acceptance,
		})
		if err != nil {
			return workflow.DevelopmentResult{}, err
		}

		artifacts := make([]string, 0, len(result.Artifacts))
		for path := range result.Artifacts {
			artifacts = append(artifacts, path)
		}

		return workflow.DevelopmentResult{
			Success:   result.Status == workeragent.StatusCompleted,
			Artifacts: artifacts,
		}, nil
	}
}

// wire constructs every singleton SPEC_FULL.md's components share and
// assembles them into one Orchestrator, the way cmd/orchestratorctl's
// teacher-equivalent process wires one ArchitectAgent and its dependencies
// at startup.
func wire(cfg *config.Config) (*deps, error) {
	logger := logx.NewLogger("orchestratorctl")

	if config.SecretsFileExists(cfg.RuntimeBasePath) {
		password, err := unlockPassword()
		if err != nil {
			return nil, fmt.Errorf("read secrets password: %w", err)
		}
		secrets, err := config.DecryptSecretsFile(cfg.RuntimeBasePath, password)
		if err != nil {
			return nil, fmt.Errorf("unlock secrets file: %w", err)
		}
		config.SetDecryptedSecrets(secrets)
	}

	store, err := state.New(cfg.RuntimeBasePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return nil, fmt.Errorf("build ai adapter: %w", err)
	}

	runtime, err := containerrt.New(containerrt.Mode(cfg.ContainerRuntime), "docker", cfg.DockerSocketPath, cfg.AllowedDockerCmds)
	if err != nil {
		return nil, fmt.Errorf("build container runtime: %w", err)
	}

	registry := pool.NewTypeRegistry(map[string]pool.TypeProfile{
		string(ticket.WorkerResearch):  {Capabilities: []string{"research"}},
		string(ticket.WorkerDesign):    {Capabilities: []string{"design"}},
		string(ticket.WorkerDeveloper): {Capabilities: []string{"developer"}},
		string(ticket.WorkerTest):      {Capabilities: []string{"test"}},
		string(ticket.WorkerReviewer):  {Capabilities: []string{"reviewer"}},
		string(ticket.WorkerDesigner):  {Capabilities: []string{"designer"}},
	})

	p := pool.New(pool.Config{
		MaxWorkers:   cfg.MaxConcurrentWorkers,
		TypeRegistry: registry,
		Factory:      containerFactory(runtime, "orchestratorctl"),
	}, logger.With(map[string]string{"component": "pool"}))

	mgr := manager.NewAIManager(adapter, logger.With(map[string]string{"component": "manager"}), nil)

	gate := qualitygate.Config{
		Runtime:        runtime,
		LintCommand:    "golangci-lint run ./...",
		TestCommand:    "go test ./...",
		HasTestFiles:   true,
		CommandTimeout: cfg.DefaultTimeoutDuration(),
	}

	recorder := metrics.NewRecorder()
	health := aihealth.New()

	orch, err := orchestrator.New(orchestrator.Config{
		Manager:  mgr,
		Pool:     p,
		Store:    store,
		Gate:     gate,
		Executor: buildExecutor(runtime, adapter, store, health, cfg.DefaultTimeoutDuration()),
		Recorder: recorder,
		Health:   health,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	go aihealth.Poll(context.Background(), health, adapter, 5*time.Minute)

	return &deps{orch: orch, store: store, recorder: recorder}, nil
}
