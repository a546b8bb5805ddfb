package message

import (
	"encoding/json"

	"github.com/viant/jsonrpc"
)

// JSON-RPC error codes used by the bridge.
const (
	ConnectionClosed = -32000
	ParseError       = jsonrpc.ParseError
	InvalidRequest   = jsonrpc.InvalidRequest
	InternalError    = jsonrpc.InternalError
)

// uncorrelated is used as the id of error envelopes with no originating request.
var uncorrelated = json.RawMessage(`"error"`)

// NewError synthesizes an error envelope for id. A nil or empty id is rendered as the
// literal string "error".
func NewError(id json.RawMessage, code int, text string) *Message {
	if len(id) == 0 || string(id) == "null" {
		id = uncorrelated
	}
	env := envelope{
		Jsonrpc: jsonrpc.Version,
		ID:      id,
		Error:   jsonrpc.NewError(code, text, nil),
	}
	data, _ := json.Marshal(env)
	return &Message{raw: data, env: env}
}

// NewInternalError synthesizes an InternalError envelope for id.
func NewInternalError(id json.RawMessage, text string) *Message {
	return NewError(id, InternalError, text)
}

// NewConnectionClosed synthesizes a ConnectionClosed envelope for id.
func NewConnectionClosed(id json.RawMessage, text string) *Message {
	return NewError(id, ConnectionClosed, text)
}
