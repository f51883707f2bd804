package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockChat takes the chat's row lock inside q, serializing message
// writes for the session. Returns ErrNotFound if the session does not
// exist.
func lockChat(ctx context.Context, q querier, chatID uuid.UUID) error {
	var lockedID uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT id FROM chats WHERE id = $1 FOR UPDATE`,
		chatID,
	).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, chatID)
	}
	if err != nil {
		return fmt.Errorf("locking session: %w", err)
	}
	return nil
}

// chatCols is the standard SELECT column list for scanChat.
const chatCols = `id, key, owner_id, title, engine_name, engine_options, created_at`

// messageCols is the standard SELECT column list for scanMessages.
const messageCols = `id, chat_id, role, content, status, ordinal, created_at`

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// Store manages chat sessions and messages backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateParams holds inputs for Create. Key and Title are normalized:
// an empty Key gets a generated short UUID, and Title goes through
// NormalizeTitle (default + rune truncation).
type CreateParams struct {
	Key           string
	OwnerID       string
	Title         string
	EngineName    string
	EngineOptions []byte
}

// Create inserts a new session and returns the persisted row.
// Returns ErrDuplicateKey if the key is already taken.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Chat, error) {
	key := params.Key
	if key == "" {
		key = NewKey()
	}
	title := NormalizeTitle(params.Title)
	options := params.EngineOptions
	if len(options) == 0 {
		options = []byte("{}")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO chats (key, owner_id, title, engine_name, engine_options)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+chatCols,
		key, params.OwnerID, title, params.EngineName, options,
	)

	chat, err := scanChat(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session created", "key", chat.Key, "id", chat.ID)
	return chat, nil
}

// ByKey returns the session with the given client-facing key.
// Returns ErrNotFound if no such session exists.
func (s *Store) ByKey(ctx context.Context, key string) (*Chat, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats WHERE key = $1`,
		key,
	)

	chat, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session %q: %w", key, err)
	}
	return chat, nil
}

// List returns sessions for the given owner, newest first.
// An empty ownerID lists all sessions. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, ownerID string, limit int32) ([]*Chat, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+chatCols+`
		 FROM chats
		 WHERE ($1 = '' OR owner_id = $1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat, scanErr := scanChat(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning session: %w", scanErr)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return chats, nil
}

// Messages returns the session's messages in ordinal order.
// limit <= 0 loads the full history.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID, limit int32) ([]*Message, error) {
	if limit <= 0 {
		limit = 100000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+`
		 FROM chat_messages
		 WHERE chat_id = $1
		 ORDER BY ordinal ASC
		 LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MessageParams holds the caller-supplied fields of a new message.
type MessageParams struct {
	Role    Role
	Content string
	Status  Status
}

// InsertMessages appends messages to a session, assigning gapless sequential
// ordinals starting after the current maximum (or 0 for an empty session).
//
// The chat row is locked FOR UPDATE inside the transaction so that concurrent
// inserts into the same session serialize and cannot produce duplicate
// ordinals. Returns ErrNotFound if the session does not exist.
func (s *Store) InsertMessages(ctx context.Context, chatID uuid.UUID, msgs []MessageParams) ([]*Message, error) {
	if len(msgs) == 0 {
		return []*Message{}, nil
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Serialize concurrent appends to the same session.
	if err := lockChat(ctx, tx, chatID); err != nil {
		return nil, err
	}

	var maxOrdinal int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(ordinal), -1) FROM chat_messages WHERE chat_id = $1`,
		chatID,
	).Scan(&maxOrdinal)
	if err != nil {
		return nil, fmt.Errorf("reading max ordinal: %w", err)
	}

	inserted := make([]*Message, 0, len(msgs))
	for i, m := range msgs {
		status := m.Status
		if status == "" {
			status = StatusSuccess
		}
		ordinal := maxOrdinal + 1 + int32(i)

		row := tx.QueryRow(ctx,
			`INSERT INTO chat_messages (chat_id, role, content, status, ordinal)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+messageCols,
			chatID, m.Role, m.Content, status, ordinal,
		)
		msg, scanErr := scanMessage(row)
		if scanErr != nil {
			return nil, fmt.Errorf("inserting message %d: %w", i, scanErr)
		}
		inserted = append(inserted, msg)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message insert: %w", err)
	}
	return inserted, nil
}

// TruncateFrom deletes the given message and every later message in the
// session. Used by regeneration to rewind history before re-answering.
// Returns ErrMessageNotFound if the message is not part of the session.
func (s *Store) TruncateFrom(ctx context.Context, chatID, messageID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the chat row so a concurrent InsertMessages cannot interleave
	// between the ordinal lookup and the delete.
	if err := lockChat(ctx, tx, chatID); err != nil {
		return err
	}

	var ordinal int32
	err = tx.QueryRow(ctx,
		`SELECT ordinal FROM chat_messages WHERE id = $1 AND chat_id = $2`,
		messageID, chatID,
	).Scan(&ordinal)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err != nil {
		return fmt.Errorf("looking up message %s: %w", messageID, err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM chat_messages WHERE chat_id = $1 AND ordinal >= $2`,
		chatID, ordinal,
	)
	if err != nil {
		return fmt.Errorf("truncating messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing truncate: %w", err)
	}

	s.logger.Debug("session truncated", "chat_id", chatID, "from_ordinal", ordinal)
	return nil
}

// UpdateTitle replaces the session title. The title is normalized first.
// Returns ErrNotFound if the session does not exist.
func (s *Store) UpdateTitle(ctx context.Context, chatID uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET title = $2 WHERE id = $1`,
		chatID, NormalizeTitle(title),
	)
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, chatID)
	}
	return nil
}

// Delete removes a session and, via ON DELETE CASCADE, its messages.
// Returns ErrNotFound if no session has the given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chats WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("deleting session %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

// scanChat reads a Chat from a pgx.Row (standard column set).
func scanChat(row pgx.Row) (*Chat, error) {
	c := &Chat{}
	if err := row.Scan(
		&c.ID, &c.Key, &c.OwnerID, &c.Title,
		&c.EngineName, &c.EngineOptions, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return c, nil
}

// scanMessage reads a Message from a pgx.Row (standard column set).
func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	if err := row.Scan(
		&m.ID, &m.ChatID, &m.Role, &m.Content,
		&m.Status, &m.Ordinal, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	return m, nil
}

// scanMessages reads Message structs from pgx.Rows.
func scanMessages(rows pgx.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}
