package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/vollocare/autocoder/internal/llm"
)

// Provider implements OpenAI-compatible chat completions (OpenAI, OpenRouter, vLLM, LM Studio, Ollama /v1).
type Provider struct {
	name   string
	client *goopenai.Client
}

// NewProvider creates a provider for an OpenAI-compatible endpoint. baseURL includes the /v1 prefix.
func NewProvider(name, baseURL, apiKey string, timeout time.Duration) *Provider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout == 0 {
		timeout = 240 * time.Second
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Provider{
		name:   name,
		client: goopenai.NewClientWithConfig(cfg),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat executes a non-streaming chat completion.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if req.Model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}

	body := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Seed:        req.Seed,
	}

	resp, err := p.client.CreateChatCompletion(ctx, body)
	if err != nil {
		return llm.ChatResponse{}, classify(err)
	}

	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("openai: empty choices")
	}

	choice := resp.Choices[0]
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.Role(choice.Message.Role),
			Content: choice.Message.Content,
		},
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ProviderName: p.name,
		Model:        req.Model,
	}, nil
}

// classify tags context-window rejections with llm.ErrContextTooLarge.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return fmt.Errorf("openai: %w: %s", llm.ErrContextTooLarge, apiErr.Message)
		}
	}
	if llm.IsContextTooLarge(err) {
		return fmt.Errorf("openai: %w: %v", llm.ErrContextTooLarge, err)
	}
	return fmt.Errorf("openai: %w", err)
}

func toOpenAIMessages(msgs []llm.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}
