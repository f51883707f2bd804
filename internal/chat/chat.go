// Package chat drives the session lifecycle for one conversational turn.
//
// Each inbound turn resolves to one of four shapes: create-only (no
// messages), new session, resumed session, or regenerate. The service
// validates first, resolves the session, hands the live query to the
// engine, and persists the user/assistant exchange after the answer
// completes. Side effects are at-least-once: a generation failure does
// not roll back a session or history written earlier in the same turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raglet/raglet/internal/session"
)

// Sentinel errors for turn resolution. Each is a distinct, named outcome
// at the API boundary.
var (
	// ErrSessionConflict: a session key was supplied on a create-only
	// (no-message) turn. A brand-new chat cannot be pinned to an
	// existing key.
	ErrSessionConflict = errors.New("session key supplied for a new chat")

	// ErrSessionNotFound: the supplied session key does not resolve.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMissingMessageID: regenerate was requested without an anchor
	// message id. Checked before any storage or generation work.
	ErrMissingMessageID = errors.New("regenerate requires a message id")

	// ErrValidation covers structurally invalid input (bad role, empty
	// content).
	ErrValidation = errors.New("invalid request")
)

// persistTimeout bounds the post-stream history write, which runs on a
// context detached from the (possibly already closed) request.
const persistTimeout = 10 * time.Second

// IncomingMessage is one message in an inbound turn.
type IncomingMessage struct {
	Role    session.Role
	Content string
}

// Request is one inbound chat turn.
type Request struct {
	Messages   []IncomingMessage
	SessionKey string
	// OwnerID scopes the session to a caller-supplied principal. Empty
	// is allowed; authentication is out of scope here.
	OwnerID string
	// Name is an optional display title for a session created by this turn.
	Name string
	// EngineName and EngineOptions select the engine configuration
	// recorded on a session created by this turn.
	EngineName    string
	EngineOptions []byte
	Regenerate    bool
	// MessageID anchors a regenerate: history from this message on is
	// discarded before orchestration.
	MessageID uuid.UUID
}

// Result is the outcome of a turn.
type Result struct {
	Session *session.Chat
	// Created reports that this turn created the session.
	Created bool
	// CreatedOnly reports a no-message turn: the session descriptor is
	// the entire response and no answer was generated.
	CreatedOnly bool
	// Answer is the synthesized answer. Empty for created-only turns and
	// for streaming turns (the stream carries the content).
	Answer string
}

// Store is the storage collaborator, satisfied by *session.Store.
type Store interface {
	Create(ctx context.Context, params session.CreateParams) (*session.Chat, error)
	ByKey(ctx context.Context, key string) (*session.Chat, error)
	InsertMessages(ctx context.Context, chatID uuid.UUID, msgs []session.MessageParams) ([]*session.Message, error)
	TruncateFrom(ctx context.Context, chatID, messageID uuid.UUID) error
}

// Orchestrator is the engine collaborator, satisfied by *engine.Engine.
type Orchestrator interface {
	Query(ctx context.Context, query string) (string, error)
	QueryStream(ctx context.Context, query string) iter.Seq2[string, error]
	GenerateTitle(ctx context.Context, firstMessage string) string
}

// Service resolves session state and runs turns.
type Service struct {
	store  Store
	engine Orchestrator
	logger *slog.Logger
}

// NewService creates a chat service.
func NewService(store Store, eng Orchestrator, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{store: store, engine: eng, logger: logger}, nil
}

// Turn runs one turn and blocks until the complete answer is available.
func (s *Service) Turn(ctx context.Context, req Request) (*Result, error) {
	res, live, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.CreatedOnly {
		return res, nil
	}

	answer, err := s.engine.Query(ctx, live)
	if err != nil {
		return nil, err
	}
	res.Answer = answer

	s.persistTurn(ctx, res.Session.ID, live, answer)
	return res, nil
}

// TurnStream runs one turn and returns the answer as a pull sequence.
// The user/assistant exchange is persisted only after the stream drains
// completely; an abandoned or failed stream persists nothing. For
// created-only turns the stream is nil.
func (s *Service) TurnStream(ctx context.Context, req Request) (*Result, iter.Seq2[string, error], error) {
	res, live, err := s.resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if res.CreatedOnly {
		return res, nil, nil
	}

	stream := func(yield func(string, error) bool) {
		var answer strings.Builder
		for chunk, err := range s.engine.QueryStream(ctx, live) {
			if err != nil {
				yield("", err)
				return
			}
			answer.WriteString(chunk)
			if !yield(chunk, nil) {
				// Abandoned stream: persist nothing.
				return
			}
		}
		s.persistTurn(ctx, res.Session.ID, live, answer.String())
	}
	return res, stream, nil
}

// resolve validates the request and drives the session state machine,
// returning the resolved result and the live query text (empty for
// created-only turns).
func (s *Service) resolve(ctx context.Context, req Request) (*Result, string, error) {
	// Validation precedes all storage and generation work.
	if req.Regenerate && req.MessageID == uuid.Nil {
		return nil, "", ErrMissingMessageID
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return nil, "", fmt.Errorf("%w: message %d has invalid role %q", ErrValidation, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, "", fmt.Errorf("%w: message %d has empty content", ErrValidation, i)
		}
	}

	// Create-only: no messages, no answer.
	if len(req.Messages) == 0 {
		if req.SessionKey != "" {
			return nil, "", ErrSessionConflict
		}
		chat, err := s.createSession(ctx, req, "")
		if err != nil {
			return nil, "", err
		}
		return &Result{Session: chat, Created: true, CreatedOnly: true}, "", nil
	}

	live := req.Messages[len(req.Messages)-1].Content

	// New session: persist all but the last message as history, in input
	// order, ordinals from zero.
	if req.SessionKey == "" {
		chat, err := s.createSession(ctx, req, live)
		if err != nil {
			return nil, "", err
		}
		if history := req.Messages[:len(req.Messages)-1]; len(history) > 0 {
			params := make([]session.MessageParams, len(history))
			for i, m := range history {
				params[i] = session.MessageParams{Role: m.Role, Content: m.Content}
			}
			if _, err := s.store.InsertMessages(ctx, chat.ID, params); err != nil {
				return nil, "", fmt.Errorf("persisting history: %w", err)
			}
		}
		return &Result{Session: chat, Created: true}, live, nil
	}

	// Resumed session, optionally regenerating.
	chat, err := s.store.ByKey(ctx, req.SessionKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionKey)
		}
		return nil, "", fmt.Errorf("resolving session: %w", err)
	}

	if req.Regenerate {
		if err := s.store.TruncateFrom(ctx, chat.ID, req.MessageID); err != nil {
			return nil, "", fmt.Errorf("truncating history: %w", err)
		}
	}

	return &Result{Session: chat}, live, nil
}

// createSession creates the session with a title resolved from the
// caller-supplied name, then a best-effort AI title from the live query,
// then the query text itself; NormalizeTitle applies the default and the
// length cap.
func (s *Service) createSession(ctx context.Context, req Request, live string) (*session.Chat, error) {
	title := req.Name
	if title == "" && live != "" {
		if generated := s.engine.GenerateTitle(ctx, live); generated != "" {
			title = generated
		} else {
			title = live
		}
	}

	chat, err := s.store.Create(ctx, session.CreateParams{
		OwnerID:       req.OwnerID,
		Title:         title,
		EngineName:    req.EngineName,
		EngineOptions: req.EngineOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Info("session created", "key", chat.Key, "title", chat.Title)
	return chat, nil
}

// persistTurn writes the user query and assistant answer after the
// answer completes. Best-effort: a storage failure here is logged,
// not surfaced, because the answer was already
// produced and delivered. Runs on a detached context so a client
// disconnect after the final chunk cannot cancel the write.
func (s *Service) persistTurn(ctx context.Context, chatID uuid.UUID, query, answer string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	_, err := s.store.InsertMessages(ctx, chatID, []session.MessageParams{
		{Role: session.RoleUser, Content: query},
		{Role: session.RoleAssistant, Content: answer, Status: session.StatusSuccess},
	})
	if err != nil {
		s.logger.Warn("persisting turn failed", "chat_id", chatID, "error", err)
	}
}
