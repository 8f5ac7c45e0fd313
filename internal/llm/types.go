package llm

import (
	"context"
	"errors"
	"strings"
)

// Role is the message role used in chat exchanges.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrContextTooLarge marks a request rejected because its prompt exceeds the model context window.
var ErrContextTooLarge = errors.New("context length exceeded")

// IsContextTooLarge reports whether err is a context-window rejection, either
// typed by a provider or recognizable from its message.
func IsContextTooLarge(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextTooLarge) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "maximum context")
}

// ChatMessage represents a single message exchanged with the model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is the input for chat providers.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	TopP        float64
	Seed        *int
}

// Usage captures token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the result of a chat completion.
type ChatResponse struct {
	Message      ChatMessage
	FinishReason string
	Usage        Usage
	ProviderName string
	Model        string
}

// Provider defines the contract for LLM providers.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
