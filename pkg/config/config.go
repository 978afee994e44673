// Package config loads and validates the orchestrator's system configuration.
//
// Configuration layers from lowest to highest precedence: built-in defaults,
// an optional YAML file named by orchestratorctl's --config flag, and
// environment variables (AGENTCO_ prefix). Layering and the env overlay are
// handled by spf13/viper. StateStore can persist a JSON snapshot at
// config.json (see pkg/state); Load does not read that snapshot.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"orchestrator/pkg/taxonomy"
)

// ContainerRuntimeMode selects how ContainerRuntime talks to the container
// backend. See pkg/containerrt.
type ContainerRuntimeMode string

const (
	RuntimeHostSocket ContainerRuntimeMode = "host-socket"
	RuntimeRootless   ContainerRuntimeMode = "rootless"
	RuntimeNested     ContainerRuntimeMode = "nested"
)

// QueueBackend selects the WorkerPool pending-task queue implementation.
type QueueBackend string

const (
	QueueMemory QueueBackend = "memory"
	QueueRedis  QueueBackend = "redis"
)

// allowedAIAdapters is the closed list defaultAiAdapter must belong to.
var allowedAIAdapters = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"ollama":    true,
	"gemini":    true,
}

// Config is the system configuration described in spec §6. Fields mirror the
// "recognized options" table exactly, plus the ambient/domain-stack
// additions documented in SPEC_FULL.md §6.
//
//nolint:govet // fieldalignment: logical grouping preferred over memory layout
type Config struct {
	MaxConcurrentWorkers int                   `json:"maxConcurrentWorkers" yaml:"maxConcurrentWorkers"`
	DefaultTimeout       int                   `json:"defaultTimeout" yaml:"defaultTimeout"`
	DefaultAIAdapter     string                `json:"defaultAiAdapter" yaml:"defaultAiAdapter"`
	DefaultModel         string                `json:"defaultModel" yaml:"defaultModel"`
	ContainerRuntime     ContainerRuntimeMode  `json:"containerRuntime" yaml:"containerRuntime"`
	AllowedDockerCmds    []string              `json:"allowedDockerCommands" yaml:"allowedDockerCommands"`
	DockerSocketPath     string                `json:"dockerSocketPath" yaml:"dockerSocketPath"`
	WorkerCPULimit       string                `json:"workerCpuLimit" yaml:"workerCpuLimit"`
	WorkerMemoryLimit    string                `json:"workerMemoryLimit" yaml:"workerMemoryLimit"`
	RuntimeBasePath      string                `json:"runtimeBasePath" yaml:"runtimeBasePath"`
	QueueBackend         QueueBackend          `json:"queueBackend" yaml:"queueBackend"`
	RedisAddr            string                `json:"redisAddr" yaml:"redisAddr"`
	TracingEnabled       bool                  `json:"tracingEnabled" yaml:"tracingEnabled"`
	MetricsAddr          string                `json:"metricsAddr" yaml:"metricsAddr"`
}

// Default returns the configuration spec.md implies when nothing is set.
func Default() *Config {
	return &Config{
		MaxConcurrentWorkers: 3,
		DefaultTimeout:       300,
		DefaultAIAdapter:     "anthropic",
		DefaultModel:         "claude-sonnet-4",
		ContainerRuntime:     RuntimeHostSocket,
		AllowedDockerCmds:    []string{"run", "stop", "rm", "logs", "inspect"},
		DockerSocketPath:     "/var/run/docker.sock",
		WorkerCPULimit:       "2",
		WorkerMemoryLimit:    "2g",
		RuntimeBasePath:      "runtime/state",
		QueueBackend:         QueueMemory,
		TracingEnabled:       false,
		MetricsAddr:          "",
	}
}

// Validate enforces the constraints spec.md §6/§7 attach to each option.
// Returns INVALID_INPUT-class errors (see pkg/taxonomy) the caller surfaces verbatim.
func (c *Config) Validate() error {
	if c.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("%w: maxConcurrentWorkers must be positive, got %d", taxonomy.ErrInvalidInput, c.MaxConcurrentWorkers)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("%w: defaultTimeout must be positive, got %d", taxonomy.ErrInvalidInput, c.DefaultTimeout)
	}
	if !allowedAIAdapters[strings.ToLower(c.DefaultAIAdapter)] {
		return fmt.Errorf("%w: defaultAiAdapter %q is not on the closed adapter list", taxonomy.ErrInvalidInput, c.DefaultAIAdapter)
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("%w: defaultModel must not be empty", taxonomy.ErrInvalidInput)
	}
	switch c.ContainerRuntime {
	case RuntimeHostSocket, RuntimeRootless, RuntimeNested:
	default:
		return fmt.Errorf("%w: containerRuntime %q must be one of host-socket, rootless, nested", taxonomy.ErrInvalidInput, c.ContainerRuntime)
	}
	switch c.QueueBackend {
	case QueueMemory, "":
	case QueueRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("%w: redisAddr is required when queueBackend is redis", taxonomy.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: queueBackend %q must be one of memory, redis", taxonomy.ErrInvalidInput, c.QueueBackend)
	}
	if strings.TrimSpace(c.RuntimeBasePath) == "" {
		return fmt.Errorf("%w: runtimeBasePath must not be empty", taxonomy.ErrInvalidInput)
	}
	return nil
}

// DefaultTimeoutDuration is DefaultTimeout as a time.Duration convenience.
func (c *Config) DefaultTimeoutDuration() time.Duration {
	return time.Duration(c.DefaultTimeout) * time.Second
}

// mu guards the process-wide config singleton. A single Orchestrator is
// still expected to be constructed explicitly per pkg/orchestrator (no
// implicit process singleton is required to use this package), but the
// singleton is offered for cmd/orchestratorctl, which is a thin wrapper
// process with exactly one Orchestrator per invocation.
var (
	mu      sync.RWMutex
	current *Config
)

// Load merges defaults, an optional YAML file, and AGENTCO_-prefixed
// environment variables into a validated Config using viper, and stores the
// result as the process-wide current config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTCO")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	def := Default()
	defBytes, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(defBytes))); err != nil {
		return nil, fmt.Errorf("load defaults into viper: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg, nil
}

// Current returns the process-wide config set by the most recent Load call,
// or Default() if Load has not been called.
func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	cp := *current
	return &cp
}
