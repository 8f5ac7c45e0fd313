package codegen

import (
	"fmt"
	"time"
)

// Request is one code-generation call.
type Request struct {
	Model        string // logical model name, empty for the registry default
	Prompt       string
	ErrorContext string
	RepoContext  string
	SystemPrompt string
	Temperature  float64
}

// FailureKind classifies why a generation call gave up.
type FailureKind string

const (
	KindTransport       FailureKind = "transport"
	KindContextTooLarge FailureKind = "context_too_large"
	KindEmptyResponse   FailureKind = "empty_response"
)

// Failure is returned once every attempt of a call has failed.
type Failure struct {
	Kind     FailureKind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("code generation failed after %d attempts: %s", f.Attempts, f.Kind)
	}
	return fmt.Sprintf("code generation failed after %d attempts (%s): %v", f.Attempts, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Options bound the prompt and the retry loop.
type Options struct {
	TokenLimit     int
	ReservedTokens int
	CharsPerToken  int
	MaxRetries     int
	RetryBackoff   time.Duration
	BackoffFactor  float64
}

// Metrics receives model call outcomes.
type Metrics interface {
	RecordModelCall(model, outcome string, d time.Duration)
	RecordPromptTokens(model string, tokens int)
}

// TokenCounter reports exact prompt token counts.
type TokenCounter interface {
	Count(text string) (int, bool)
}
