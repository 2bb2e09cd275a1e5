package types

import (
	"errors"
	"fmt"
)

var (
	// ErrCursorExpired is the logical failure of a delta query: the server
	// cannot compute changes since the given cursor anymore and the caller
	// must reload the mailbox. It is never shown to the user.
	ErrCursorExpired = errors.New("query state expired")

	ErrNotConnected   = errors.New("not connected")
	ErrUnknownMailbox = errors.New("unknown mailbox")
	ErrUnknownMessage = errors.New("unknown message")
)

// ConnectionError is a network, transport or authentication failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("connection: %s", e.Err)
	}
	return fmt.Sprintf("%s: connection: %s", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MutationRejected is returned when the server declined a change on a
// message (permissions, already deleted, ...).
type MutationRejected struct {
	ID     string
	Type   string
	Reason string
}

func (e *MutationRejected) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = e.Type
	}
	if e.ID == "" {
		return fmt.Sprintf("rejected: %s", reason)
	}
	return fmt.Sprintf("%s: rejected: %s", e.ID, reason)
}

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsMutationRejected(err error) bool {
	var mr *MutationRejected
	return errors.As(err, &mr)
}
