// Package session defines the client-side view of a server-issued,
// time-limited chat session: the Handle type, the options and results
// exchanged with the session API, and the error taxonomy used to
// classify keep-alive failures.
package session

import (
	"errors"
	"fmt"
	"time"
)

// State is the server-reported session state. The controller passes it
// through without interpreting it.
type State string

// Server-reported session states.
const (
	StateInitializing   State = "initializing"
	StateReadyForUpload State = "ready_for_upload"
	StateProcessing     State = "processing"
	StateReadyForChat   State = "ready_for_chat"
	StateChatting       State = "chatting"
	StateError          State = "error"
)

// Handle is the client's view of a remote session.
type Handle struct {
	// ID is the opaque server-issued identifier. Empty when no session
	// exists.
	ID string

	// State mirrors the server-reported session state.
	State State

	// ExpiresAt is the absolute expiration instant, replaced on every
	// successful creation, heartbeat, or restart.
	ExpiresAt time.Time

	// LastActivityAt is the server's view of the last-activity time.
	// Zero when the server did not report one.
	LastActivityAt time.Time

	// Language is the current display-language code.
	Language string
}

// Active reports whether the handle refers to a live session.
func (h Handle) Active() bool {
	return h.ID != ""
}

// CreateOptions carries the caller-supplied parameters for session
// creation and restart.
type CreateOptions struct {
	// Language is the requested display language. The server may
	// normalize it.
	Language string

	// SimilarityThreshold tunes retrieval on the server side. Opaque to
	// the controller.
	SimilarityThreshold float64

	// CustomPrompt optionally overrides the server's system prompt.
	CustomPrompt string
}

// HeartbeatResult is the server's response to a keep-alive request.
type HeartbeatResult struct {
	// ExpiresAt is the refreshed expiration instant.
	ExpiresAt time.Time

	// LastActivity is the server's last-activity timestamp, used as the
	// skew-immune reference when arming the expiration timer. May be
	// zero.
	LastActivity time.Time
}

// ErrSessionGone indicates the server no longer recognizes the session
// id. It is terminal for that session instance: no retry, immediate
// expiration.
var ErrSessionGone = errors.New("session gone")

// ErrNoSession indicates an operation that requires a live session was
// invoked without one.
var ErrNoSession = errors.New("no active session")

// TransientError wraps any keep-alive failure that is not SessionGone
// (network error, 5xx, timeout). It does not alter session validity;
// retry happens implicitly on the next heartbeat.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient session error: %v", e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
