package rpc

import (
	"encoding/json"

	"github.com/google/uuid"
)

const jsonrpcVersion = "2.0"

// notifyID is the fixed identifier used for notifications. No response
// matching is performed for notifications, so it does not need to be unique.
const notifyID = "notify"

// Request is a JSON-RPC 2.0 request, sent to the worker as one
// newline-terminated JSON object on its stdin.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id"`
}

// NewRequest builds a request with a fresh collision-resistant identifier.
func NewRequest(method string, params any) Request {
	return Request{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}
}

// NewRequestWithID builds a request with an explicit identifier.
// Callers supplying their own identifiers are responsible for uniqueness.
func NewRequestWithID(method string, params any, id string) Request {
	return Request{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// Response is a JSON-RPC 2.0 response read from the worker's stdout.
// Exactly one of Result and Error is present in a valid response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// valid reports whether the response populates exactly one of result/error.
func (r *Response) valid() bool {
	return (r.Result != nil) != (r.Error != nil)
}

// ProgressEvent is an unsolicited status message from the worker. It carries
// no identifier and is never matched against a request; it normally arrives
// on stderr and is routed by the log sink.
type ProgressEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
