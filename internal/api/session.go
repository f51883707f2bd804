package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/raglet/raglet/internal/session"
)

const (
	sessionsDefaultLimit = 50
	sessionsMaxLimit     = 200
	messagesDefaultLimit = 100
	messagesMaxLimit     = 500
)

// SessionStore is the storage collaborator for session browsing, satisfied
// by *session.Store.
type SessionStore interface {
	ByKey(ctx context.Context, key string) (*session.Chat, error)
	List(ctx context.Context, ownerID string, limit int32) ([]*session.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID, limit int32) ([]*session.Message, error)
	Delete(ctx context.Context, key string) error
}

// sessionHandler serves session listing, history retrieval and deletion.
type sessionHandler struct {
	store  SessionStore
	logger *slog.Logger
}

type messageOut struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	Ordinal   int32  `json:"ordinal"`
	CreatedAt string `json:"createdAt"`
}

// list handles GET /api/v1/chats. The ownerId query parameter scopes the
// listing; empty lists unscoped sessions.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, "limit", sessionsDefaultLimit, sessionsMaxLimit)

	chats, err := h.store.List(r.Context(), r.URL.Query().Get("ownerId"), limit)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "listing sessions failed", h.logger)
		return
	}

	out := make([]sessionPayload, len(chats))
	for i, c := range chats {
		out[i] = toSessionPayload(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out}, h.logger)
}

// messages handles GET /api/v1/chats/{key}/messages.
func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	chat, err := h.store.ByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("resolving session", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "resolving session failed", h.logger)
		return
	}

	limit := queryLimit(r, "limit", messagesDefaultLimit, messagesMaxLimit)
	msgs, err := h.store.Messages(r.Context(), chat.ID, limit)
	if err != nil {
		h.logger.Error("loading messages", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "loading messages failed", h.logger)
		return
	}

	out := make([]messageOut, len(msgs))
	for i, m := range msgs {
		out[i] = messageOut{
			ID:        m.ID.String(),
			Role:      string(m.Role),
			Content:   m.Content,
			Status:    string(m.Status),
			Ordinal:   m.Ordinal,
			CreatedAt: m.CreatedAt.UTC().Format(timeFormat),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  toSessionPayload(chat),
		"messages": out,
	}, h.logger)
}

// remove handles DELETE /api/v1/chats/{key}.
func (h *sessionHandler) remove(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.store.Delete(r.Context(), key); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("deleting session", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "deleting session failed", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryLimit parses a positive integer query parameter, clamped to max.
func queryLimit(r *http.Request, name string, def, max int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n <= 0 {
		return def
	}
	if int32(n) > max {
		return max
	}
	return int32(n)
}
