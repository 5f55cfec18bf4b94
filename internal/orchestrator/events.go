// Package orchestrator runs conversation turns: retrieve context, assemble
// a budgeted prompt, stream the model's answer, extract citations, and
// commit the turn to the session.
package orchestrator

import "github.com/koopa0/grounded/internal/session"

// EventKind discriminates AnswerEvent variants.
type EventKind string

const (
	// EventToken carries one generated token.
	EventToken EventKind = "token"

	// EventCitation carries one citation, emitted after generation ends.
	EventCitation EventKind = "citation"

	// EventDone closes a successful turn and carries the committed
	// assistant turn.
	EventDone EventKind = "done"

	// EventError closes a failed turn. Nothing was committed.
	EventError EventKind = "error"
)

// AnswerEvent is one element of a turn's event stream. A stream is zero or
// more EventToken, then zero or more EventCitation, then exactly one
// EventDone or EventError, after which the channel closes.
type AnswerEvent struct {
	Kind EventKind

	// Token is set on EventToken.
	Token string

	// Citation is set on EventCitation.
	Citation session.Citation

	// Turn is set on EventDone: the assistant turn as committed.
	Turn session.Turn

	// Ungrounded is set on EventDone when the answer was generated without
	// retrieved context, either because retrieval failed or the index is
	// empty.
	Ungrounded bool

	// Err is set on EventError.
	Err error
}
