package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// generateTimeout bounds a single generation call when the config does
// not say otherwise.
const defaultGenerateTimeout = 2 * time.Minute

// LLMConfig configures the genkit-backed Generator.
type LLMConfig struct {
	// ModelName is the provider-qualified model name, e.g.
	// "googleai/gemini-2.5-flash" or "ollama/llama3.3".
	ModelName string
	// RequestsPerMinute enables proactive rate limiting across all calls.
	// Zero means unlimited.
	RequestsPerMinute int
	// Timeout bounds each generation call. Zero uses 2 minutes.
	Timeout time.Duration
	// Retry settings; zero value uses DefaultRetryConfig.
	Retry RetryConfig
}

// LLM is the production Generator. It wraps genkit generation with
// per-call timeout, proactive rate limiting, and retry with exponential
// backoff.
type LLM struct {
	g         *genkit.Genkit
	modelName string
	limiter   *rate.Limiter // nil = unlimited
	timeout   time.Duration
	retry     RetryConfig
	logger    *slog.Logger
}

// NewLLM creates the genkit-backed generator.
func NewLLM(g *genkit.Genkit, cfg LLMConfig, logger *slog.Logger) (*LLM, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerateTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		// Burst of one minute's budget so short spikes don't queue.
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60, cfg.RequestsPerMinute)
	}

	return &LLM{
		g:         g,
		modelName: cfg.ModelName,
		limiter:   limiter,
		timeout:   cfg.Timeout,
		retry:     cfg.Retry,
		logger:    logger,
	}, nil
}

// Generate produces the complete response text for a prompt.
func (l *LLM) Generate(ctx context.Context, prompt string) (string, error) {
	return l.generate(ctx, prompt, nil)
}

// GenerateStream produces the response incrementally, calling cb for
// each chunk, and returns the full text.
func (l *LLM) GenerateStream(ctx context.Context, prompt string, cb func(ctx context.Context, chunk string) error) (string, error) {
	return l.generate(ctx, prompt, cb)
}

func (l *LLM) generate(ctx context.Context, prompt string, cb func(ctx context.Context, chunk string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(l.modelName),
		ai.WithPrompt(prompt),
	}
	var streamed bool
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			streamed = true
			return cb(ctx, chunk.Text())
		}))
	}

	resp, err := l.generateWithRetry(ctx, opts, &streamed)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// generateWithRetry runs generation with exponential backoff. Each
// attempt is rate limited, including retries. streamed reports whether
// the streaming callback has delivered chunks to the consumer: once it
// has, a failure is final even when transient, because a fresh attempt
// would replay the already-delivered prefix.
func (l *LLM) generateWithRetry(ctx context.Context, opts []ai.GenerateOption, streamed *bool) (*ai.ModelResponse, error) {
	var lastErr error
	delay := l.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= l.retry.MaxRetries; attempt++ {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, l.g, opts...)
		if err == nil {
			l.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err

		if *streamed {
			return nil, fmt.Errorf("generate failed after partial stream: %w", err)
		}
		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == l.retry.MaxRetries {
			break
		}

		l.logger.Debug("retrying after error",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, l.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		l.retry.MaxRetries, time.Since(start), lastErr)
}
