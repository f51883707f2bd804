package session

import "errors"

var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates the referenced message does not exist
	// in the session.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateKey indicates a session with the same key already exists.
	ErrDuplicateKey = errors.New("session key already exists")
)
