package aiadapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"orchestrator/pkg/taxonomy"
)

// OllamaAdapter wraps the Ollama local-runtime client. Grounded on the
// teacher's pkg/agent/internal/llmimpl/ollama client.
type OllamaAdapter struct {
	client *api.Client
	model  string
}

// NewOllamaAdapter constructs an adapter against a local or remote Ollama
// server at hostURL (e.g. "http://localhost:11434").
func NewOllamaAdapter(hostURL, model string) *OllamaAdapter {
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaAdapter{client: api.NewClient(parsed, http.DefaultClient), model: model}
}

func (a *OllamaAdapter) Name() string         { return "ollama" }
func (a *OllamaAdapter) DefaultModel() string { return a.model }

func (a *OllamaAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var messages []api.Message
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	var tools api.Tools
	for _, t := range req.Tools {
		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
			},
		})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    a.model,
		Messages: messages,
		Stream:   &stream,
		Tools:    tools,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("ollama chat: %w: %w", taxonomy.ErrAIUnavailable, err)
	}

	out := ChatResponse{Content: response.Message.Content, IsComplete: response.Done}
	for _, tc := range response.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: map[string]any(tc.Function.Arguments)})
	}
	out.InputTokens = response.PromptEvalCount
	out.OutputTokens = response.EvalCount
	return out, nil
}
