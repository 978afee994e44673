package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly, got %v", err)
	}
}

func TestValidateRejectsUnknownAdapter(t *testing.T) {
	c := Default()
	c.DefaultAIAdapter = "made-up-backend"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for adapter not on closed list")
	}
}

func TestValidateRejectsZeroMaxWorkers(t *testing.T) {
	c := Default()
	c.MaxConcurrentWorkers = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive maxConcurrentWorkers")
	}
}

func TestValidateRequiresRedisAddrForRedisBackend(t *testing.T) {
	c := Default()
	c.QueueBackend = QueueRedis
	c.RedisAddr = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when queueBackend=redis without redisAddr")
	}
	c.RedisAddr = "localhost:6379"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config with redisAddr set, got %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yamlContent := "maxConcurrentWorkers: 7\ndefaultAiAdapter: openai\n"
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxConcurrentWorkers != 7 {
		t.Errorf("MaxConcurrentWorkers = %d, want 7", cfg.MaxConcurrentWorkers)
	}
	if cfg.DefaultAIAdapter != "openai" {
		t.Errorf("DefaultAIAdapter = %q, want openai", cfg.DefaultAIAdapter)
	}
	// Untouched defaults should survive the merge.
	if cfg.ContainerRuntime != RuntimeHostSocket {
		t.Errorf("ContainerRuntime = %q, want default host-socket", cfg.ContainerRuntime)
	}

	if got := Current(); got.MaxConcurrentWorkers != 7 {
		t.Errorf("Current() did not pick up the loaded config")
	}
}
