package orchestrator

import (
	"errors"
	"fmt"

	"github.com/confab/confab/internal/discussion/repository"
)

// ErrorKind classifies orchestrator failures for callers. Commands return a
// typed *Error so transports can map failures without string matching.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindInvalidState        ErrorKind = "INVALID_STATE"
	KindInvalidConfig       ErrorKind = "INVALID_CONFIG"
	KindParticipantNotFound ErrorKind = "PARTICIPANT_NOT_FOUND"
	KindParticipantInactive ErrorKind = "PARTICIPANT_INACTIVE"
	KindNotYourTurn         ErrorKind = "NOT_YOUR_TURN"
	KindLimitExceeded       ErrorKind = "LIMIT_EXCEEDED"
	KindStoreError          ErrorKind = "STORE_ERROR"
	KindBusError            ErrorKind = "BUS_ERROR"
)

// Error is the failure type surfaced by every orchestrator command.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a typed error with a formatted message.
func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// storeError wraps a repository failure, translating the not-found
// sentinels into their caller-facing kinds.
func storeError(err error) *Error {
	switch {
	case errors.Is(err, repository.ErrDiscussionNotFound):
		return &Error{Kind: KindNotFound, Message: "discussion not found", Err: err}
	case errors.Is(err, repository.ErrMessageNotFound):
		return &Error{Kind: KindNotFound, Message: "message not found", Err: err}
	case errors.Is(err, repository.ErrParticipantNotFound):
		return &Error{Kind: KindParticipantNotFound, Message: "participant not found", Err: err}
	default:
		return &Error{Kind: KindStoreError, Message: "store operation failed", Err: err}
	}
}

// KindOf extracts the error kind, defaulting to STORE_ERROR for untyped
// failures.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindStoreError
}
