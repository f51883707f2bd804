//go:build integration
// +build integration

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/raglet/raglet/internal/log"
	"github.com/raglet/raglet/internal/testutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() unexpected error: %v", err)
	}
	return store
}

func TestStore_CreateAndByKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{
		OwnerID:    "user-1",
		Title:      "Weather questions",
		EngineName: "sub-question",
	})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	if chat.ID == uuid.Nil {
		t.Error("Create() returned nil UUID")
	}
	if chat.Key == "" {
		t.Error("Create() returned empty key")
	}
	if chat.Title != "Weather questions" {
		t.Errorf("Title = %q, want %q", chat.Title, "Weather questions")
	}

	got, err := store.ByKey(ctx, chat.Key)
	if err != nil {
		t.Fatalf("ByKey() unexpected error: %v", err)
	}
	if got.ID != chat.ID {
		t.Errorf("ByKey() ID = %s, want %s", got.ID, chat.ID)
	}
}

func TestStore_Create_DefaultTitle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	if chat.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", chat.Title, DefaultTitle)
	}
}

func TestStore_ByKey_NotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.ByKey(context.Background(), "no-such-key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ByKey() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Create_DuplicateKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateParams{Key: "fixed-key"}); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	_, err := store.Create(ctx, CreateParams{Key: "fixed-key"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("Create() error = %v, want ErrDuplicateKey", err)
	}
}

func TestStore_List_NewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := range 3 {
		if _, err := store.Create(ctx, CreateParams{
			OwnerID: "user-1",
			Title:   fmt.Sprintf("chat %d", i),
		}); err != nil {
			t.Fatalf("Create() unexpected error: %v", err)
		}
	}
	// A different owner's session must not leak into the listing.
	if _, err := store.Create(ctx, CreateParams{OwnerID: "user-2"}); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	chats, err := store.List(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("List() returned %d sessions, want 3", len(chats))
	}
	for i := 1; i < len(chats); i++ {
		if chats[i].CreatedAt.After(chats[i-1].CreatedAt) {
			t.Error("List() not ordered newest first")
		}
	}
}

func TestStore_InsertMessages_OrdinalsFromZero(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	inserted, err := store.InsertMessages(ctx, chat.ID, []MessageParams{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	})
	if err != nil {
		t.Fatalf("InsertMessages() unexpected error: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("InsertMessages() returned %d messages, want 2", len(inserted))
	}
	for i, m := range inserted {
		if m.Ordinal != int32(i) {
			t.Errorf("message %d ordinal = %d, want %d", i, m.Ordinal, i)
		}
	}

	// A second batch continues the sequence without gaps.
	more, err := store.InsertMessages(ctx, chat.ID, []MessageParams{
		{Role: RoleUser, Content: "another"},
	})
	if err != nil {
		t.Fatalf("InsertMessages() unexpected error: %v", err)
	}
	if more[0].Ordinal != 2 {
		t.Errorf("second batch ordinal = %d, want 2", more[0].Ordinal)
	}
}

func TestStore_InsertMessages_SessionNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.InsertMessages(context.Background(), uuid.New(), []MessageParams{
		{Role: RoleUser, Content: "orphan"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("InsertMessages() error = %v, want ErrNotFound", err)
	}
}

func TestStore_InsertMessages_ConcurrentNoGaps(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)

	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, insertErr := store.InsertMessages(ctx, chat.ID, []MessageParams{
				{Role: RoleUser, Content: fmt.Sprintf("msg from writer %d", i)},
			})
			if insertErr != nil {
				errCh <- insertErr
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for insertErr := range errCh {
		t.Errorf("concurrent InsertMessages() error: %v", insertErr)
	}

	msgs, err := store.Messages(ctx, chat.ID, 0)
	if err != nil {
		t.Fatalf("Messages() unexpected error: %v", err)
	}
	if len(msgs) != writers {
		t.Fatalf("got %d messages, want %d", len(msgs), writers)
	}
	for i, m := range msgs {
		if m.Ordinal != int32(i) {
			t.Errorf("message %d ordinal = %d, want %d (gapless sequence violated)", i, m.Ordinal, i)
		}
	}
}

func TestStore_TruncateFrom(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	inserted, err := store.InsertMessages(ctx, chat.ID, []MessageParams{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
		{Role: RoleAssistant, Content: "a2"},
	})
	if err != nil {
		t.Fatalf("InsertMessages() unexpected error: %v", err)
	}

	// Truncate from the second user message: it and everything after go away.
	if err := store.TruncateFrom(ctx, chat.ID, inserted[2].ID); err != nil {
		t.Fatalf("TruncateFrom() unexpected error: %v", err)
	}

	msgs, err := store.Messages(ctx, chat.ID, 0)
	if err != nil {
		t.Fatalf("Messages() unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after truncate, want 2", len(msgs))
	}
	if msgs[1].Content != "a1" {
		t.Errorf("last surviving message = %q, want %q", msgs[1].Content, "a1")
	}

	// New inserts continue the gapless sequence from the truncation point.
	more, err := store.InsertMessages(ctx, chat.ID, []MessageParams{
		{Role: RoleUser, Content: "q2 again"},
	})
	if err != nil {
		t.Fatalf("InsertMessages() unexpected error: %v", err)
	}
	if more[0].Ordinal != 2 {
		t.Errorf("post-truncate ordinal = %d, want 2", more[0].Ordinal)
	}
}

func TestStore_TruncateFrom_MessageNotFound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	err = store.TruncateFrom(ctx, chat.ID, uuid.New())
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("TruncateFrom() error = %v, want ErrMessageNotFound", err)
	}
}

func TestStore_UpdateTitle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	if err := store.UpdateTitle(ctx, chat.ID, "Generated title"); err != nil {
		t.Fatalf("UpdateTitle() unexpected error: %v", err)
	}

	got, err := store.ByKey(ctx, chat.Key)
	if err != nil {
		t.Fatalf("ByKey() unexpected error: %v", err)
	}
	if got.Title != "Generated title" {
		t.Errorf("Title = %q, want %q", got.Title, "Generated title")
	}
}

func TestStore_Delete_Cascades(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	chat, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	if _, err := store.InsertMessages(ctx, chat.ID, []MessageParams{
		{Role: RoleUser, Content: "hello"},
	}); err != nil {
		t.Fatalf("InsertMessages() unexpected error: %v", err)
	}

	if err := store.Delete(ctx, chat.Key); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}

	if _, err := store.ByKey(ctx, chat.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByKey() after delete error = %v, want ErrNotFound", err)
	}

	msgs, err := store.Messages(ctx, chat.ID, 0)
	if err != nil {
		t.Fatalf("Messages() unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after cascade delete, want 0", len(msgs))
	}
}

func TestStore_Delete_NotFound(t *testing.T) {
	store := setupStore(t)

	err := store.Delete(context.Background(), "no-such-key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}
