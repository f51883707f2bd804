// Package session manages chat sessions and their ordered message history,
// backed by PostgreSQL.
//
// A session (chat) is identified two ways:
//   - ID: internal UUID primary key
//   - Key: opaque short identifier handed to API clients
//
// Messages within a session carry a gapless ordinal sequence starting at 0.
// InsertMessages assigns ordinals inside a transaction that locks the chat
// row, so concurrent writers cannot produce duplicate or gapped ordinals.
package session

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

const (
	// TitleMaxLength is the maximum title length in runes, matching the
	// VARCHAR(255) column.
	TitleMaxLength = 255

	// DefaultTitle is used when a session is created without a title.
	DefaultTitle = "Untitled"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Status records whether a message was produced successfully.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Chat is a persisted conversation session.
type Chat struct {
	ID            uuid.UUID
	Key           string
	OwnerID       string
	Title         string
	EngineName    string
	EngineOptions []byte // raw JSONB
	CreatedAt     time.Time
}

// Message is a single entry in a session's ordered history.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	Role      Role
	Content   string
	Status    Status
	Ordinal   int32
	CreatedAt time.Time
}

// NewKey generates an opaque session key for API clients.
// Short UUIDs are URL-safe and avoid exposing the internal primary key.
func NewKey() string {
	return shortuuid.New()
}

// NormalizeTitle trims whitespace, substitutes DefaultTitle for empty input,
// and truncates to TitleMaxLength runes.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) <= TitleMaxLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:TitleMaxLength])
}
