// Package app assembles the application: configuration, tracing, database,
// Genkit, the tool registry, the query engine and the chat service.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raglet/raglet/internal/chat"
	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/engine"
	"github.com/raglet/raglet/internal/knowledge"
	"github.com/raglet/raglet/internal/session"
	"github.com/raglet/raglet/internal/tools"
)

const shutdownFlushTimeout = 5 * time.Second

// App is the application container. Construct with Setup, release with Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Knowledge *knowledge.Store
	Sessions  *session.Store
	Registry  *tools.Registry
	Engine    *engine.Engine
	Chat      *chat.Service

	otelShutdown func(context.Context) error
}

// Close releases resources in reverse initialization order. The tracer
// shutdown flushes pending spans, so it runs last with its own deadline.
func (a *App) Close() error {
	a.Logger.Info("shutting down")

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Debug("database pool closed")
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
