// Package session tracks conversation state. Each session holds an ordered
// turn history and admits one in-flight turn at a time, so concurrent
// requests against the same session serialize instead of interleaving their
// writes.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrNotFound means the session ID was never seen.
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the session was expired and is terminally unusable.
	ErrExpired = errors.New("session expired")
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation links an answer span to the retrieved chunk that grounds it.
type Citation struct {
	ChunkID string  // cited chunk
	Start   int     // rune offset of the cited span in the answer
	End     int     // rune offset one past the span end
	Score   float64 // retrieval score of the cited chunk
}

// Turn is one message in a conversation. Assistant turns may carry
// citations; user turns never do.
type Turn struct {
	Role      string
	Text      string
	Citations []Citation
	CreatedAt time.Time
}

// Info is a read-only snapshot of session state. Title is derived from the
// first user turn and empty until one exists.
type Info struct {
	ID         uuid.UUID
	Title      string
	Turns      []Turn
	CreatedAt  time.Time
	LastActive time.Time
}
