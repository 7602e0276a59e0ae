package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the command and sync surfaces. Callers match with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrNotConnected is returned when a command is issued for an account
	// with no live, connected client.
	ErrNotConnected = errors.New("account not connected")

	// ErrInitializationFailed is returned when client construction or the
	// initial connect fails. The session is left in the error state.
	ErrInitializationFailed = errors.New("session initialization failed")

	// ErrMediaNotFound is returned when a media locator does not resolve
	// to a stored file.
	ErrMediaNotFound = errors.New("media not found")

	// ErrInvalidMediaLocator is returned for malformed locators, including
	// any locator that would escape the managed media namespace.
	ErrInvalidMediaLocator = errors.New("invalid media locator")

	// ErrChatNotFound is returned when a chat id does not exist for the
	// given account.
	ErrChatNotFound = errors.New("chat not found")

	// ErrContactNotFound is returned when a contact lookup misses.
	ErrContactNotFound = errors.New("contact not found")

	// ErrUnsupportedExportFormat is returned for export formats other than
	// json and txt.
	ErrUnsupportedExportFormat = errors.New("unsupported export format")

	// ErrEmptyMessageBody rejects a text send with no content.
	ErrEmptyMessageBody = errors.New("empty message body")

	// ErrDuplicateMessage marks a redelivered remote message. It is a
	// benign no-op and is never surfaced past the sync engine.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// TransportError wraps a failure from the underlying protocol client.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError for the given operation.
func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
