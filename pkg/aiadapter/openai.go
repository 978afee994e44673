package aiadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"orchestrator/pkg/convo"
	"orchestrator/pkg/taxonomy"
)

// OpenAIAdapter wraps the official OpenAI Go client. Grounded on the
// teacher's pkg/agent/internal/llmimpl/openaiofficial client.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// NewOpenAIAdapter constructs an adapter for the given API key and model.
func NewOpenAIAdapter(apiKey, model string) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClient(option.WithAPIKey(apiKey)), model: model}
}

func (a *OpenAIAdapter) Name() string         { return "openai" }
func (a *OpenAIAdapter) DefaultModel() string { return a.model }

func (a *OpenAIAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case convo.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case convo.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	var tools []openai.ChatCompletionToolParam
	for _, t := range req.Tools {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}

	params := openai.ChatCompletionNewParams{
		Model:    a.model,
		Messages: messages,
		Tools:    tools,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("openai chat: %w: %w", taxonomy.ErrAIUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("openai chat: empty choices: %w", taxonomy.ErrAIUnavailable)
	}

	choice := resp.Choices[0]
	out := ChatResponse{
		Content:      choice.Message.Content,
		IsComplete:   choice.FinishReason == "stop",
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}
