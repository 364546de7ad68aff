package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrorKind classifies terminal and request-scoped failures.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "BadRequest"
	KindNotFound            ErrorKind = "NotFound"
	KindStorageError        ErrorKind = "StorageError"
	KindNoPlayableFile      ErrorKind = "NoPlayableFile"
	KindExternalToolMissing ErrorKind = "ExternalToolMissing"
	KindExternalToolFailed  ErrorKind = "ExternalToolFailed"
	KindTranscoderError     ErrorKind = "TranscoderError"
	KindTorrentError        ErrorKind = "TorrentError"
	KindOutOfRange          ErrorKind = "OutOfRange"
	KindAccessDenied        ErrorKind = "AccessDenied"
)

// Error is a session-scoped structured error. Set once on the record,
// terminal, and co-invariant with State == Failed.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
