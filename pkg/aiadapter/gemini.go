package aiadapter

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"orchestrator/pkg/convo"
	"orchestrator/pkg/taxonomy"
)

// GeminiAdapter wraps Google's genai client, created lazily on first use
// since client construction needs a context. Grounded on the teacher's
// pkg/agent/internal/llmimpl/google client, including its pattern of
// caching prior assistant turns to preserve thought signatures.
type GeminiAdapter struct {
	mu            sync.Mutex
	client        *genai.Client
	apiKey        string
	model         string
	responseCache []*genai.Content
}

// NewGeminiAdapter constructs an adapter for the given API key and model.
func NewGeminiAdapter(apiKey, model string) *GeminiAdapter {
	return &GeminiAdapter{apiKey: apiKey, model: model}
}

func (a *GeminiAdapter) Name() string         { return "gemini" }
func (a *GeminiAdapter) DefaultModel() string { return a.model }

func (a *GeminiAdapter) ensureClient(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: a.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return fmt.Errorf("create gemini client: %w: %w", taxonomy.ErrAIUnavailable, err)
	}
	a.client = client
	return nil
}

func (a *GeminiAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := a.ensureClient(ctx); err != nil {
		return ChatResponse{}, err
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		role := "user"
		if m.Role == convo.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}
	for _, t := range req.Tools {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
			}},
		})
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("gemini chat: %w: %w", taxonomy.ErrAIUnavailable, err)
	}
	if len(resp.Candidates) == 0 {
		return ChatResponse{}, fmt.Errorf("gemini chat: empty candidates: %w", taxonomy.ErrAIUnavailable)
	}

	out := ChatResponse{}
	candidate := resp.Candidates[0]
	a.mu.Lock()
	a.responseCache = append(a.responseCache, candidate.Content)
	a.mu.Unlock()

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	out.IsComplete = candidate.FinishReason == genai.FinishReasonStop
	return out, nil
}
