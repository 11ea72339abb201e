package chat

import "errors"

var (
	ErrNotAuthenticated = errors.New("chat: not authenticated")
	ErrEmptyMessage     = errors.New("chat: message has no content or media")
	ErrEmptyReaction    = errors.New("chat: reaction has no emoji")
	ErrChatNotResolved  = errors.New("chat: chat not resolved yet")
	ErrEmptyToken       = errors.New("chat: empty chat identifier")
	ErrClosed           = errors.New("chat: conversation closed")
)

// Initialization stages, used as the prefix of the message shown to the user.
const (
	StageConnection = "Connection Error"
	StageCreate     = "Failed to initialize group"
	StageDetails    = "Failed to load chat details"
	StageMessages   = "Failed to load messages"
)

// InitError is a failed step of conversation initialization.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error { return e.Err }
