package websocket

import (
	"errors"
	"fmt"

	"github.com/wmdanor/wsclient/frame"
)

var (
	ErrHandshakeIncomplete = errors.New("handshake incomplete")
	ErrHandshakeRejected   = errors.New("handshake rejected")

	// ErrNotOpen is returned for writes outside StateOpen; the connection is untouched.
	ErrNotOpen = errors.New("connection is not open")

	ErrConnectionLost = errors.New("connection lost")
	ErrCloseTimeout   = errors.New("timed out waiting for close frame")
	ErrClosed         = errors.New("connection closed")

	ErrProtocolViolation = frame.ErrProtocolViolation
	ErrMessageTooBig     = frame.ErrMessageTooBig
)

// TransportError is a failure of the underlying byte stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: [%v]", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HandshakeError is returned by Dial when the opening handshake fails.
// Kind is ErrHandshakeIncomplete or ErrHandshakeRejected.
type HandshakeError struct {
	Kind   error
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: [%v]", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *HandshakeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func rejected(format string, args ...any) *HandshakeError {
	return &HandshakeError{Kind: ErrHandshakeRejected, Reason: fmt.Sprintf(format, args...)}
}

// CloseError reports a completed close handshake. It matches ErrClosed.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection closed with code %d", e.Code)
}

func (e *CloseError) Is(target error) bool {
	return target == ErrClosed
}
