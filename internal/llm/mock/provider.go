package mock

import (
	"context"

	"github.com/vollocare/autocoder/internal/llm"
)

// Provider is a test double implementing llm.Provider.
type Provider struct {
	NameValue string
	ChatFn    func(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if p.ChatFn != nil {
		return p.ChatFn(ctx, req)
	}
	return llm.ChatResponse{
		Message: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: "mock",
		},
	}, nil
}
