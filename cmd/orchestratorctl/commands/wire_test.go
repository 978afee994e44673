package commands

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/config"
	"orchestrator/pkg/containerrt"
)

type fakeRuntime struct{ nextID int }

func (f *fakeRuntime) CreateContainer(_ context.Context, _ containerrt.CreateOpts) (string, error) {
	f.nextID++
	return "container-" + string(rune('a'+f.nextID)), nil
}
func (f *fakeRuntime) StopContainer(_ context.Context, _ string) error   { return nil }
func (f *fakeRuntime) RemoveContainer(_ context.Context, _ string) error { return nil }
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

func clearAdapterEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "OLLAMA_HOST"} {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			}
		})
	}
}

func TestBuildAdapterRejectsMissingAnthropicKey(t *testing.T) {
	clearAdapterEnv(t)
	cfg := config.Default()
	cfg.DefaultAIAdapter = "anthropic"
	_, err := buildAdapter(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestBuildAdapterDefaultsOllamaHost(t *testing.T) {
	clearAdapterEnv(t)
	cfg := config.Default()
	cfg.DefaultAIAdapter = "ollama"
	adapter, err := buildAdapter(cfg)
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestBuildAdapterRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultAIAdapter = "made-up-backend"
	_, err := buildAdapter(cfg)
	require.Error(t, err)
}

func TestContainerFactoryAssignsDistinctSequentialWorkerIDs(t *testing.T) {
	factory := containerFactory(&fakeRuntime{}, "run-1")
	first, err := factory(context.Background(), "developer", nil)
	require.NoError(t, err)
	second, err := factory(context.Background(), "developer", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
