// Package aiadapter provides the pluggable AI backend interface (domain
// stack component A6) consumed by WorkerAgent's conversation loop: one
// Adapter implementation per backend (Anthropic, OpenAI, Ollama, Gemini),
// a name-keyed registry, token accounting via tiktoken, and per-adapter
// rate limiting.
//
// Grounded on the teacher's pkg/agent/llm.LLMClient interface and its four
// pkg/agent/internal/llmimpl/* backends, adapted so the conversation types
// live in pkg/convo instead of a parallel llm-package message type, and so
// tool definitions are plain JSON-schema maps instead of a bespoke
// tools.ToolDefinition type.
package aiadapter

import (
	"context"
	"fmt"

	"orchestrator/pkg/convo"
	"orchestrator/pkg/taxonomy"
)

// ToolSpec is a JSON-schema tool definition handed to the backend for
// function/tool calling.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// ToolCall is one tool invocation the model asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ChatRequest is one turn's input to an Adapter.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ChatRequest struct {
	SystemPrompt string
	Messages     []convo.Message
	Tools        []ToolSpec
	Temperature  float32
	MaxTokens    int
}

// ChatResponse is one turn's output from an Adapter.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	IsComplete   bool
	InputTokens  int
	OutputTokens int
}

// Adapter is the narrow interface every AI backend implements.
type Adapter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Name() string
	DefaultModel() string
}

// Registry resolves an Adapter by name, matching the closed list of
// backend names in config.allowedAIAdapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own Name().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get resolves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q: %w", name, taxonomy.ErrInvalidInput)
	}
	return a, nil
}

