package aiadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"orchestrator/pkg/convo"
	"orchestrator/pkg/taxonomy"
)

// AnthropicAdapter wraps the Anthropic SDK client. Grounded on the
// teacher's pkg/agent/internal/llmimpl/anthropic client, including its
// ensureAlternation message-shape fixup (alternation.go in this package).
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicAdapter constructs an adapter for the given API key and model.
func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	return &AnthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:  model,
	}
}

func (a *AnthropicAdapter) Name() string         { return "anthropic" }
func (a *AnthropicAdapter) DefaultModel() string { return a.model }

func (a *AnthropicAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(req.Messages)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("anthropic message shape: %w", err)
	}
	if req.SystemPrompt != "" {
		if systemPrompt != "" {
			systemPrompt = req.SystemPrompt + "\n\n" + systemPrompt
		} else {
			systemPrompt = req.SystemPrompt
		}
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for _, m := range alternating {
		if m.Role == convo.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		schema := toAnthropicSchema(t.Parameters)
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  messages,
		Tools:     tools,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("anthropic chat: %w: %w", taxonomy.ErrAIUnavailable, err)
	}

	out := ChatResponse{}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(variant.Input, &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: variant.ID, Name: variant.Name, Arguments: args})
		}
	}
	out.InputTokens = int(resp.Usage.InputTokens)
	out.OutputTokens = int(resp.Usage.OutputTokens)
	out.IsComplete = resp.StopReason == anthropic.StopReasonEndTurn
	return out, nil
}

func toAnthropicSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	if params == nil {
		return anthropic.ToolInputSchemaParam{}
	}
	properties, _ := params["properties"]
	required, _ := params["required"].([]string)
	return anthropic.ToolInputSchemaParam{
		Properties: properties,
		Required:   required,
	}
}
