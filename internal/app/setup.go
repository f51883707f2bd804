package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raglet/raglet/db"
	"github.com/raglet/raglet/internal/chat"
	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/engine"
	"github.com/raglet/raglet/internal/knowledge"
	"github.com/raglet/raglet/internal/observability"
	"github.com/raglet/raglet/internal/session"
	"github.com/raglet/raglet/internal/tools"
)

// Setup creates and initializes the application. On error everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing registers with Genkit's TracerProvider, so it must precede
	// genkit.Init.
	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	knowledgeStore, err := knowledge.NewStore(pool, embedder, logger.With("component", "knowledge"))
	if err != nil {
		return nil, fmt.Errorf("creating knowledge store: %w", err)
	}
	a.Knowledge = knowledgeStore

	sessionStore, err := session.NewStore(pool, logger.With("component", "session"))
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessionStore

	registry, err := provideTools(a)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	generator, err := engine.NewLLM(g, engine.LLMConfig{
		ModelName:         cfg.FullModelName(),
		RequestsPerMinute: cfg.LLMRequestsPM,
		Timeout:           time.Duration(cfg.GenerateTimeoutMs) * time.Millisecond,
	}, logger.With("component", "llm"))
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Generator:       generator,
		Registry:        registry,
		Logger:          logger.With("component", "engine"),
		MaxSubQuestions: cfg.MaxSubQuestions,
		Parallelism:     cfg.Parallelism,
		ToolTimeout:     time.Duration(cfg.ToolTimeoutMs) * time.Millisecond,
		WeightByScore:   cfg.WeightByScore,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	a.Engine = eng

	chatService, err := chat.NewService(sessionStore, eng, logger.With("component", "chat"))
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	a.Chat = chatService

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default) and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideTools builds the retrieval tool registry: knowledge search over
// the vector store, and web search when a SearXNG base URL is configured.
func provideTools(a *App) (*tools.Registry, error) {
	cfg := a.Config
	registry := tools.NewRegistry()

	kt, err := tools.NewKnowledge(a.Knowledge, knowledge.DefaultTopK, a.Logger.With("tool", tools.KnowledgeToolName))
	if err != nil {
		return nil, fmt.Errorf("creating knowledge tool: %w", err)
	}
	if err := registry.Register(kt); err != nil {
		return nil, fmt.Errorf("registering knowledge tool: %w", err)
	}

	if cfg.SearXNG.BaseURL != "" {
		wt, err := tools.NewWeb(tools.WebConfig{
			SearchBaseURL: cfg.SearXNG.BaseURL,
			FetchTimeout:  time.Duration(cfg.WebFetcher.TimeoutMs) * time.Millisecond,
			MaxBodyBytes:  cfg.WebFetcher.MaxBodyBytes,
		}, a.Logger.With("tool", tools.WebToolName))
		if err != nil {
			return nil, fmt.Errorf("creating web tool: %w", err)
		}
		if err := registry.Register(wt); err != nil {
			return nil, fmt.Errorf("registering web tool: %w", err)
		}
	}

	a.Logger.Info("tools registered", "names", registry.Names())
	return registry, nil
}
