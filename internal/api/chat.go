package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raglet/raglet/internal/chat"
	"github.com/raglet/raglet/internal/engine"
	"github.com/raglet/raglet/internal/session"
)

const (
	maxRequestBody = 1024 * 1024 // 1MB
	timeFormat     = time.RFC3339
)

// TurnRunner is the chat service collaborator, satisfied by *chat.Service.
type TurnRunner interface {
	Turn(ctx context.Context, req chat.Request) (*chat.Result, error)
	TurnStream(ctx context.Context, req chat.Request) (*chat.Result, iter.Seq2[string, error], error)
}

// chatHandler serves the turn endpoints.
//
//   - POST /api/v1/chats        - synchronous turn (JSON request/response)
//   - POST /api/v1/chats/stream - streaming turn (Server-Sent Events)
type chatHandler struct {
	service TurnRunner
	logger  *slog.Logger
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnRequest struct {
	SessionKey    string           `json:"sessionKey,omitempty"`
	OwnerID       string           `json:"ownerId,omitempty"`
	Name          string           `json:"name,omitempty"`
	EngineName    string           `json:"engineName,omitempty"`
	EngineOptions json.RawMessage  `json:"engineOptions,omitempty"`
	Regenerate    bool             `json:"regenerate,omitempty"`
	MessageID     string           `json:"messageId,omitempty"`
	Messages      []messagePayload `json:"messages"`
}

type sessionPayload struct {
	Key        string `json:"key"`
	OwnerID    string `json:"ownerId,omitempty"`
	Title      string `json:"title"`
	EngineName string `json:"engineName,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type turnResponse struct {
	Session sessionPayload `json:"session"`
	Created bool           `json:"created"`
	Answer  string         `json:"answer,omitempty"`
}

func toSessionPayload(s *session.Chat) sessionPayload {
	return sessionPayload{
		Key:        s.Key,
		OwnerID:    s.OwnerID,
		Title:      s.Title,
		EngineName: s.EngineName,
		CreatedAt:  s.CreatedAt.UTC().Format(timeFormat),
	}
}

// parseTurnRequest decodes and converts the request body. A malformed
// messageId is rejected here so the service sees either a valid UUID or nil.
func parseTurnRequest(w http.ResponseWriter, r *http.Request) (chat.Request, error) {
	var in turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return chat.Request{}, fmt.Errorf("decoding request body: %w", err)
	}

	req := chat.Request{
		SessionKey:    in.SessionKey,
		OwnerID:       in.OwnerID,
		Name:          in.Name,
		EngineName:    in.EngineName,
		EngineOptions: in.EngineOptions,
		Regenerate:    in.Regenerate,
	}
	if in.MessageID != "" {
		id, err := uuid.Parse(in.MessageID)
		if err != nil {
			return chat.Request{}, fmt.Errorf("parsing messageId: %w", err)
		}
		req.MessageID = id
	}
	for _, m := range in.Messages {
		req.Messages = append(req.Messages, chat.IncomingMessage{
			Role:    session.Role(m.Role),
			Content: m.Content,
		})
	}
	return req, nil
}

// send handles POST /api/v1/chats.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, err := parseTurnRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	res, err := h.service.Turn(r.Context(), req)
	if err != nil {
		status, code := mapTurnError(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}

	out := turnResponse{
		Session: toSessionPayload(res.Session),
		Created: res.Created,
		Answer:  res.Answer,
	}
	status := http.StatusOK
	if res.CreatedOnly {
		status = http.StatusCreated
	}
	writeJSON(w, status, out, h.logger)
}

// SSE event types for turn streaming.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

type chunkPayload struct {
	Text string `json:"text"`
}

type donePayload struct {
	Response   string `json:"response"`
	SessionKey string `json:"sessionKey"`
	Created    bool   `json:"created"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stream handles POST /api/v1/chats/stream. Session resolution failures are
// reported as plain JSON errors with real status codes; the response only
// switches to text/event-stream once chunks can flow.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, err := parseTurnRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	res, stream, err := h.service.TurnStream(r.Context(), req)
	if err != nil {
		status, code := mapTurnError(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}

	if res.CreatedOnly {
		out := turnResponse{Session: toSessionPayload(res.Session), Created: true}
		writeJSON(w, http.StatusCreated, out, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	var full strings.Builder
	for chunk, err := range stream {
		if err != nil {
			_, code := mapTurnError(err)
			h.writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: err.Error()})
			return
		}

		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected mid-stream", "session", res.Session.Key)
			return
		default:
		}

		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if err := h.writeEvent(w, flusher, eventChunk, chunkPayload{Text: chunk}); err != nil {
			// Write failure usually means the connection closed.
			h.logger.Debug("writing chunk", "error", err)
			return
		}
	}

	h.writeEvent(w, flusher, eventDone, donePayload{
		Response:   full.String(),
		SessionKey: res.Session.Key,
		Created:    res.Created,
	})
}

// writeEvent writes one SSE event: "event: <type>\ndata: <json>\n\n".
func (h *chatHandler) writeEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	flusher.Flush()
	return nil
}

// mapTurnError maps service and engine failures to HTTP status and code.
func mapTurnError(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrSessionConflict):
		return http.StatusConflict, "session_conflict"
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrMessageNotFound):
		return http.StatusNotFound, "message_not_found"
	case errors.Is(err, chat.ErrMissingMessageID), errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrDecomposition):
		return http.StatusBadGateway, "decomposition_failed"
	case errors.Is(err, engine.ErrSynthesis):
		return http.StatusBadGateway, "synthesis_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
