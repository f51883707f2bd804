// Package api exposes the query pipeline over HTTP: a synchronous turn
// endpoint, an SSE streaming variant, and session browsing.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Logger       *slog.Logger
	ChatService  TurnRunner   // Required
	SessionStore SessionStore // Required
	Pool         *pgxpool.Pool
	CORSOrigins  []string
	TrustProxy   bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst    int  // Rate limiter burst per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.ChatService == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.SessionStore == nil {
		return nil, errors.New("session store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{service: cfg.ChatService, logger: logger}
	sh := &sessionHandler{store: cfg.SessionStore, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chats", ch.send)
	mux.HandleFunc("POST /api/v1/chats/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/chats", sh.list)
	mux.HandleFunc("GET /api/v1/chats/{key}/messages", sh.messages)
	mux.HandleFunc("DELETE /api/v1/chats/{key}", sh.remove)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Routes
	// RequestID precedes Logging so request_id shows up in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
