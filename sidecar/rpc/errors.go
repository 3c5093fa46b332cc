package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTimeout is returned when no matching response arrives within the
// client's configured timeout. The call's fate on the worker side is
// indeterminate: it may still execute.
var ErrTimeout = errors.New("timed out waiting for response")

// ErrClosed is returned by an AsyncClient after Close.
var ErrClosed = errors.New("async client closed")

// Error is a method-level failure reported by the worker itself. The worker
// process is still healthy when one of these is returned.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TransportError is a pipe-level read or write failure, typically meaning
// the worker died mid-call. It is never silently swallowed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError indicates the line ultimately needed by a call could not be
// interpreted as a valid response. Malformed lines that are *not* the needed
// one are logged and skipped instead.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}
