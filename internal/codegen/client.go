// Package codegen sends bounded generation prompts to a chat model with retries.
package codegen

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/budget"
	"github.com/vollocare/autocoder/internal/llm"
)

// Client turns a Request into model output.
type Client struct {
	registry *llm.Registry
	budget   *budget.Budgeter
	opts     Options
	logger   *zap.Logger
	metrics  Metrics
	counter  TokenCounter
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Client over the registry's providers.
func New(registry *llm.Registry, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 1
	}
	return &Client{
		registry: registry,
		budget:   budget.New(opts.CharsPerToken, logger),
		opts:     opts,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// WithMetrics attaches a metrics recorder.
func (c *Client) WithMetrics(m Metrics) *Client {
	c.metrics = m
	return c
}

// WithCounter attaches an exact token counter used for metrics and logs.
func (c *Client) WithCounter(tc TokenCounter) *Client {
	c.counter = tc
	return c
}

// GenerateCode sends the request and returns the model's text.
// Transport errors are retried with exponential backoff; a context-window
// rejection halves the repository context before the next attempt. When every
// attempt fails the error is a *Failure.
func (c *Client) GenerateCode(ctx context.Context, req Request) (string, error) {
	provider, route, err := c.registry.Resolve(req.Model)
	if err != nil {
		return "", err
	}

	available := c.opts.TokenLimit -
		c.budget.Estimate(req.SystemPrompt) -
		c.budget.Estimate(req.Prompt) -
		c.opts.ReservedTokens
	if available <= 0 {
		c.logger.Warn("prompt exceeds the token limit, context dropped",
			zap.Int("prompt_tokens", c.budget.Estimate(req.Prompt)),
			zap.Int("token_limit", c.opts.TokenLimit),
			zap.Int("available", available),
		)
	}
	repo := c.budget.Bound("repository", req.RepoContext, available-c.budget.Estimate(req.ErrorContext))

	delay := c.opts.RetryBackoff
	var (
		lastErr  error
		lastKind FailureKind
	)
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		messages := c.messages(req, repo, available)
		chatReq := llm.ChatRequest{
			Model:       route.Model,
			Messages:    messages,
			MaxTokens:   route.MaxTokens,
			Temperature: req.Temperature,
			TopP:        route.TopP,
		}
		if route.Seed != 0 {
			seed := route.Seed
			chatReq.Seed = &seed
		}
		c.recordPromptTokens(route.Model, messages)

		c.logger.Debug("sending generation request",
			zap.String("provider", provider.Name()),
			zap.String("model", route.Model),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.opts.MaxRetries),
			zap.Float64("temperature", req.Temperature),
		)

		start := time.Now()
		resp, err := provider.Chat(ctx, chatReq)
		last := attempt == c.opts.MaxRetries

		switch {
		case err != nil:
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.record(route.Model, "canceled", start)
				return "", &Failure{Kind: KindTransport, Attempts: attempt, Err: ctxErr}
			}
			c.logger.Error("model request failed", zap.Int("attempt", attempt), zap.Error(err))
			if llm.IsContextTooLarge(err) {
				lastKind = KindContextTooLarge
				c.record(route.Model, string(KindContextTooLarge), start)
				if repo != "" && !last {
					repo = halve(repo, c.opts.CharsPerToken)
					c.logger.Warn("context length exceeded, halving repository context",
						zap.Int("repo_tokens", c.budget.Estimate(repo)),
					)
				}
			} else {
				lastKind = KindTransport
				c.record(route.Model, string(KindTransport), start)
			}
			if last {
				break
			}
			c.logger.Info("retrying model request", zap.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return "", &Failure{Kind: KindTransport, Attempts: attempt, Err: err}
			}
			delay = time.Duration(float64(delay) * c.opts.BackoffFactor)

		case strings.TrimSpace(resp.Message.Content) == "":
			lastErr = errors.New("empty response")
			lastKind = KindEmptyResponse
			c.record(route.Model, string(KindEmptyResponse), start)
			c.logger.Warn("received empty response from model", zap.Int("attempt", attempt))
			if last {
				break
			}
			if err := c.sleep(ctx, delay); err != nil {
				return "", &Failure{Kind: KindTransport, Attempts: attempt, Err: err}
			}

		default:
			c.record(route.Model, "ok", start)
			c.logger.Debug("received generation response",
				zap.String("finish_reason", resp.FinishReason),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			return resp.Message.Content, nil
		}
	}

	return "", &Failure{Kind: lastKind, Attempts: c.opts.MaxRetries, Err: lastErr}
}

// messages lays out system prompt, combined context and main prompt.
func (c *Client) messages(req Request, repo string, available int) []llm.ChatMessage {
	var msgs []llm.ChatMessage
	if req.SystemPrompt != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}

	combined := repo
	if req.ErrorContext != "" {
		if combined != "" {
			combined += "\n\n"
		}
		combined += req.ErrorContext
	}
	combined = c.budget.Truncate("combined", combined, available)
	if combined != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: combined})
	}

	return append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: req.Prompt})
}

// halve cuts the repository context to half its estimated size, dropping whole
// file segments where the context is structured.
func halve(repo string, charsPerToken int) string {
	out, _ := budget.Bound(repo, budget.Estimate(repo, charsPerToken)/2, charsPerToken)
	return out
}

func (c *Client) record(model, outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordModelCall(model, outcome, time.Since(start))
	}
}

func (c *Client) recordPromptTokens(model string, msgs []llm.ChatMessage) {
	if c.counter == nil && c.metrics == nil {
		return
	}
	total := 0
	approx := c.counter == nil
	for _, m := range msgs {
		if c.counter != nil {
			n, a := c.counter.Count(m.Content)
			total += n
			approx = approx || a
			continue
		}
		total += c.budget.Estimate(m.Content)
	}
	c.logger.Debug("prompt size", zap.Int("tokens", total), zap.Bool("approximate", approx))
	if c.metrics != nil {
		c.metrics.RecordPromptTokens(model, total)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
