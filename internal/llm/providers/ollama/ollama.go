package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vollocare/autocoder/internal/llm"
)

// Provider implements the native Ollama /api/chat endpoint.
type Provider struct {
	name    string
	client  *http.Client
	baseURL string
}

// NewProvider constructs an Ollama provider.
func NewProvider(name, baseURL string, timeout time.Duration) *Provider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if timeout == 0 {
		timeout = 240 * time.Second
	}

	return &Provider{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Chat executes a non-streaming chat completion.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		return llm.ChatResponse{}, fmt.Errorf("model is required")
	}

	body := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   false,
		Options:  options(req),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(httpReq)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		err := fmt.Errorf("ollama: status %d: %s", res.StatusCode, string(b))
		if llm.IsContextTooLarge(err) {
			return llm.ChatResponse{}, fmt.Errorf("%w: %v", llm.ErrContextTooLarge, err)
		}
		return llm.ChatResponse{}, err
	}

	var resp ollamaChatResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.Role(resp.Message.Role),
			Content: resp.Message.Content,
		},
		FinishReason: resp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		ProviderName: p.name,
		Model:        model,
	}, nil
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// options maps sampling parameters; zero values are left to the server defaults.
func options(req llm.ChatRequest) map[string]interface{} {
	opts := map[string]interface{}{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if req.TopP > 0 {
		opts["top_p"] = req.TopP
	}
	if req.Seed != nil {
		opts["seed"] = *req.Seed
	}
	return opts
}

func toOllamaMessages(msgs []llm.ChatMessage) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollamaMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
