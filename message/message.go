package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/viant/jsonrpc"
)

// envelope is the JSON-RPC 2.0 shape shared by requests, responses, notifications and errors.
type envelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc.Error  `json:"error,omitempty"`
}

// Message is an immutable JSON-RPC value. The bytes it was decoded from are kept so
// forwarding never re-encodes a payload the bridge does not own.
type Message struct {
	raw json.RawMessage
	env envelope
}

// ErrNotObject is returned when a payload is not a JSON object.
var ErrNotObject = errors.New("json-rpc message must be an object")

// Parse decodes a single JSON-RPC message.
func Parse(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	ret := &Message{raw: append(json.RawMessage(nil), trimmed...)}
	if err := json.Unmarshal(ret.raw, &ret.env); err != nil {
		return nil, fmt.Errorf("invalid json-rpc message: %w", err)
	}
	return ret, nil
}

// ParseBatch decodes either a single message or an array of messages.
func ParseBatch(data []byte) ([]*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("invalid json-rpc batch: %w", err)
		}
		ret := make([]*Message, 0, len(items))
		for _, item := range items {
			msg, err := Parse(item)
			if err != nil {
				return nil, err
			}
			ret = append(ret, msg)
		}
		return ret, nil
	}
	msg, err := Parse(trimmed)
	if err != nil {
		return nil, err
	}
	return []*Message{msg}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(data string) *Message {
	msg, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return msg
}

// NewNotification builds a notification with optional params.
func NewNotification(method string, params interface{}) (*Message, error) {
	env := envelope{Jsonrpc: jsonrpc.Version, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		env.Params = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &Message{raw: data, env: env}, nil
}

// Bytes returns the encoded message. Callers must not modify the slice.
func (m *Message) Bytes() []byte { return m.raw }

// MarshalJSON emits the original bytes.
func (m *Message) MarshalJSON() ([]byte, error) { return m.raw, nil }

// String returns the encoded message.
func (m *Message) String() string { return string(m.raw) }

// ID returns the raw id and whether it is present.
func (m *Message) ID() (json.RawMessage, bool) {
	if len(m.env.ID) == 0 || string(m.env.ID) == "null" {
		return nil, false
	}
	return m.env.ID, true
}

// IDKey returns a comparable form of the id: 1, 1.0 and "1" stay distinct, whitespace does not matter.
func (m *Message) IDKey() string {
	id, ok := m.ID()
	if !ok {
		return ""
	}
	return IDKey(id)
}

// IDKey normalizes a raw id for map lookups.
func IDKey(id json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}

// Method returns the method name, empty for responses.
func (m *Message) Method() string { return m.env.Method }

// Params returns the raw params.
func (m *Message) Params() json.RawMessage { return m.env.Params }

// Result returns the raw result.
func (m *Message) Result() json.RawMessage { return m.env.Result }

// Error returns the error object, if any.
func (m *Message) Error() *jsonrpc.Error { return m.env.Error }

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool {
	_, ok := m.ID()
	return ok && m.env.Method != ""
}

// IsNotification reports a method call without id.
func (m *Message) IsNotification() bool {
	_, ok := m.ID()
	return !ok && m.env.Method != ""
}

// IsResponse reports a successful or failed reply to a request.
func (m *Message) IsResponse() bool {
	return m.env.Method == "" && (m.env.Result != nil || m.env.Error != nil)
}

// IsError reports an error response.
func (m *Message) IsError() bool {
	return m.env.Method == "" && m.env.Error != nil
}

// IsInitializeRequest reports the handshake request.
func (m *Message) IsInitializeRequest() bool {
	return m.IsRequest() && m.env.Method == MethodInitialize
}
