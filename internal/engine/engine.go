// Package engine turns one natural-language query into one answer.
//
// A turn runs three stages: decompose the query into tool-targeted
// sub-questions, fan the sub-questions out to the tool registry, and
// synthesize the collected fragments into a final answer. Decomposition
// and synthesis failures are fatal for the turn; individual tool failures
// are absorbed as missing evidence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/raglet/raglet/internal/tools"
)

// Defaults for orchestration limits.
const (
	DefaultMaxSubQuestions = 5
	DefaultParallelism     = 4
	DefaultToolTimeout     = 30 * time.Second
)

// Sentinel errors for turn-fatal stages.
var (
	// ErrDecomposition indicates the model failed to break the query into
	// sub-questions. There is nothing to execute without them.
	ErrDecomposition = errors.New("question decomposition failed")

	// ErrSynthesis indicates the final answer generation failed.
	ErrSynthesis = errors.New("answer synthesis failed")
)

// SubQuestion is one narrowed question targeted at a named tool.
// It lives only for the duration of a single turn.
type SubQuestion struct {
	Text     string `json:"subQuestion"`
	ToolName string `json:"tool"`
}

// Fragment is a sub-question paired with its tool's answer, used as
// supporting evidence for synthesis. Score is zero when the tool does
// not supply one.
type Fragment struct {
	Text  string
	Score float64
}

// Generator is the generation collaborator the engine drives. The
// production implementation wraps genkit; tests use scripted fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStream calls cb for each text chunk as it is produced and
	// returns the full concatenated text. A cb error aborts generation.
	GenerateStream(ctx context.Context, prompt string, cb func(ctx context.Context, chunk string) error) (string, error)
}

// Config contains the required parameters for an Engine.
type Config struct {
	Generator Generator
	Registry  *tools.Registry
	Logger    *slog.Logger

	// MaxSubQuestions caps how many sub-questions one turn may fan out.
	// Zero uses DefaultMaxSubQuestions.
	MaxSubQuestions int
	// Parallelism bounds concurrent tool calls per turn. Zero uses
	// DefaultParallelism.
	Parallelism int
	// ToolTimeout bounds each individual tool call. Zero uses
	// DefaultToolTimeout.
	ToolTimeout time.Duration
	// WeightByScore presents higher-scored fragments first during
	// synthesis. Off keeps retrieval order; unscored fragments tie at
	// zero and keep their relative order either way.
	WeightByScore bool
}

func (cfg Config) validate() error {
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Registry == nil {
		return errors.New("tool registry is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Engine orchestrates one query turn. It is stateless across turns and
// safe for concurrent use.
type Engine struct {
	gen             Generator
	registry        *tools.Registry
	maxSubQuestions int
	parallelism     int
	toolTimeout     time.Duration
	weightByScore   bool
	logger          *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSubQuestions <= 0 {
		cfg.MaxSubQuestions = DefaultMaxSubQuestions
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	return &Engine{
		gen:             cfg.Generator,
		registry:        cfg.Registry,
		maxSubQuestions: cfg.MaxSubQuestions,
		parallelism:     cfg.Parallelism,
		toolTimeout:     cfg.ToolTimeout,
		weightByScore:   cfg.WeightByScore,
		logger:          cfg.Logger,
	}, nil
}

// Query answers the query in one blocking call.
func (e *Engine) Query(ctx context.Context, query string) (string, error) {
	subs, err := e.decompose(ctx, query)
	if err != nil {
		return "", err
	}
	fragments := present(e.execute(ctx, subs))
	return e.synthesize(ctx, query, fragments)
}

// QueryStream answers the query as a pull-based sequence of text
// increments. The sequence is single-pass and finite; breaking out early
// cancels the underlying generation. Fatal stage errors arrive as the
// second element of the last pair.
func (e *Engine) QueryStream(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		subs, err := e.decompose(ctx, query)
		if err != nil {
			yield("", err)
			return
		}
		fragments := present(e.execute(ctx, subs))
		e.synthesizeStream(ctx, query, fragments)(yield)
	}
}

// Title generation constants.
const (
	titleTimeout       = 5 * time.Second
	titleInputMaxRunes = 500
	titleMaxRunes      = 255
)

const titlePrompt = `Generate a concise title (max 255 characters) for a chat session based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// GenerateTitle produces a short session title from the user's first
// message. Best-effort: returns empty string on failure.
func (e *Engine) GenerateTitle(ctx context.Context, firstMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	inputRunes := []rune(firstMessage)
	if len(inputRunes) > titleInputMaxRunes {
		firstMessage = string(inputRunes[:titleInputMaxRunes]) + "..."
	}

	resp, err := e.gen.Generate(ctx, fmt.Sprintf(titlePrompt, firstMessage))
	if err != nil {
		e.logger.Debug("title generation failed", "error", err)
		return ""
	}

	title := strings.TrimSpace(resp)
	titleRunes := []rune(title)
	if len(titleRunes) > titleMaxRunes {
		title = string(titleRunes[:titleMaxRunes-3]) + "..."
	}
	return title
}
