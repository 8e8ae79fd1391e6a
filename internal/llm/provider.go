// Package llm provides the optional completion provider used for query
// expansion, re-ranking, and RAG answers. The service runs fully without
// it; callers must tolerate a nil provider.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
)

// Provider generates text completions.
type Provider interface {
	// Complete returns the completion for a prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string

	Close() error
}

const (
	KindHosted = "hosted"
	KindLocal  = "local"

	completionRetries = 2
	retryBackoff      = 500 * time.Millisecond
)

// client wraps a langchaingo model with concurrency and rate bounds.
type client struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int

	sem     chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs the configured provider, or (nil, nil) when disabled.
func New(cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Kind {
	case KindLocal:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.Endpoint != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
		}
		model, err = ollama.New(opts...)
	case KindHosted:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey.IsSet() {
			opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		model, err = openai.New(opts...)
	default:
		return nil, apperr.Errorf(apperr.KindValidation, "invalid_config",
			"unknown llm kind %q (want hosted or local)", cfg.Kind)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "llm_unavailable",
			"creating llm client", err)
	}

	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 4
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &client{
		model:       model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		sem:         make(chan struct{}, concurrent),
		limiter:     limiter,
		logger:      logger,
	}, nil
}

func (c *client) Complete(ctx context.Context, prompt string) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", apperr.FromContext(ctx.Err())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", apperr.FromContext(ctx.Err())
		}
	}

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= completionRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return "", apperr.FromContext(ctx.Err())
			}
		}

		out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, opts...)
		if err == nil {
			return strings.TrimSpace(out), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", apperr.FromContext(ctx.Err())
		}
		c.logger.Warn("llm completion failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", apperr.Wrap(apperr.KindUnavailable, "llm_unavailable",
		"llm completion failed", lastErr)
}

func (c *client) Model() string { return c.modelName }

func (c *client) Close() error { return nil }
