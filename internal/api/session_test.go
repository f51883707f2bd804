package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raglet/raglet/internal/session"
)

type fakeSessionStore struct {
	chats    []*session.Chat
	messages map[uuid.UUID][]*session.Message

	gotOwnerID string
	gotLimit   int32
	deleted    []string
}

func (f *fakeSessionStore) ByKey(_ context.Context, key string) (*session.Chat, error) {
	for _, c := range f.chats {
		if c.Key == key {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", session.ErrNotFound, key)
}

func (f *fakeSessionStore) List(_ context.Context, ownerID string, limit int32) ([]*session.Chat, error) {
	f.gotOwnerID = ownerID
	f.gotLimit = limit
	return f.chats, nil
}

func (f *fakeSessionStore) Messages(_ context.Context, chatID uuid.UUID, _ int32) ([]*session.Message, error) {
	return f.messages[chatID], nil
}

func (f *fakeSessionStore) Delete(_ context.Context, key string) error {
	if _, err := f.ByKey(context.Background(), key); err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func seededStore() *fakeSessionStore {
	chat := &session.Chat{
		ID:        uuid.New(),
		Key:       "k1",
		Title:     "First",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	return &fakeSessionStore{
		chats: []*session.Chat{chat},
		messages: map[uuid.UUID][]*session.Message{
			chat.ID: {
				{ID: uuid.New(), ChatID: chat.ID, Role: session.RoleUser, Content: "q", Status: session.StatusSuccess, Ordinal: 0},
				{ID: uuid.New(), ChatID: chat.ID, Role: session.RoleAssistant, Content: "a", Status: session.StatusSuccess, Ordinal: 1},
			},
		},
	}
}

func TestSessionList(t *testing.T) {
	t.Parallel()

	store := seededStore()
	ts := newTestServer(t, &fakeTurnRunner{}, store)

	resp, err := http.Get(ts.URL + "/api/v1/chats?ownerId=owner-1&limit=10")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[struct {
		Sessions []sessionPayload `json:"sessions"`
	}](t, resp)
	if len(out.Sessions) != 1 || out.Sessions[0].Key != "k1" {
		t.Errorf("sessions = %+v, want the seeded session", out.Sessions)
	}
	if store.gotOwnerID != "owner-1" {
		t.Errorf("store saw ownerId %q, want %q", store.gotOwnerID, "owner-1")
	}
	if store.gotLimit != 10 {
		t.Errorf("store saw limit %d, want 10", store.gotLimit)
	}
}

func TestSessionListLimitClamped(t *testing.T) {
	t.Parallel()

	store := seededStore()
	ts := newTestServer(t, &fakeTurnRunner{}, store)

	resp, err := http.Get(ts.URL + "/api/v1/chats?limit=99999")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if store.gotLimit != sessionsMaxLimit {
		t.Errorf("store saw limit %d, want clamped to %d", store.gotLimit, sessionsMaxLimit)
	}
}

func TestSessionMessages(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, seededStore())

	resp, err := http.Get(ts.URL + "/api/v1/chats/k1/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[struct {
		Session  sessionPayload `json:"session"`
		Messages []messageOut   `json:"messages"`
	}](t, resp)
	if out.Session.Key != "k1" {
		t.Errorf("session.Key = %q, want k1", out.Session.Key)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(out.Messages))
	}
	if out.Messages[0].Role != "user" || out.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q, %q, want user then assistant", out.Messages[0].Role, out.Messages[1].Role)
	}
	if out.Messages[0].Ordinal != 0 || out.Messages[1].Ordinal != 1 {
		t.Errorf("ordinals = %d, %d, want 0, 1", out.Messages[0].Ordinal, out.Messages[1].Ordinal)
	}
}

func TestSessionMessagesNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, seededStore())

	resp, err := http.Get(ts.URL + "/api/v1/chats/missing/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionDelete(t *testing.T) {
	t.Parallel()

	store := seededStore()
	ts := newTestServer(t, &fakeTurnRunner{}, store)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/chats/k1", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "k1" {
		t.Errorf("deleted = %v, want [k1]", store.deleted)
	}
}

func TestSessionDeleteNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeTurnRunner{}, seededStore())

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/chats/missing", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestQueryLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want int32
	}{
		{name: "absent uses default", raw: "", want: 50},
		{name: "valid", raw: "25", want: 25},
		{name: "zero uses default", raw: "0", want: 50},
		{name: "negative uses default", raw: "-3", want: 50},
		{name: "garbage uses default", raw: "abc", want: 50},
		{name: "over max clamps", raw: "1000", want: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/?limit="+tt.raw, nil)
			if got := queryLimit(r, "limit", 50, 200); got != tt.want {
				t.Errorf("queryLimit(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}
