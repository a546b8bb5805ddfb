// Package processor defines the optional interception hook a bridge session calls on
// every forwarded message and on inbound connection authorization.
//
// Two shapes are accepted. MessageProcessor only sees messages. Processor additionally
// authorizes inbound connections and receives the resulting payload on every call.
// Adapt resolves the shape once; sessions only ever talk to a Processor.
//
// A hook returning a nil message drops it: nothing is sent and no error is produced.
package processor

import (
	"context"
	"fmt"

	"github.com/viant/mcp-bridge/message"
)

// MessageProcessor is the unauthenticated hook shape.
type MessageProcessor interface {
	ForwardMessageToServer(ctx context.Context, serverName, sessionID string, msg *message.Message) (*message.Message, error)
	ReturnMessageToClient(ctx context.Context, serverName, sessionID string, msg *message.Message) (*message.Message, error)
}

// Processor is the authenticated hook shape and the one sessions use.
type Processor interface {
	// Authorize is called with the inbound Authorization header (empty when absent)
	// before a session is registered; an error rejects the connection.
	Authorize(ctx context.Context, serverName, authHeader string) (any, error)
	ForwardMessageToServer(ctx context.Context, serverName, sessionID string, msg *message.Message, authPayload any) (*message.Message, error)
	ReturnMessageToClient(ctx context.Context, serverName, sessionID string, msg *message.Message, authPayload any) (*message.Message, error)
}

// Adapt normalizes v to a Processor. A nil v yields Passthrough.
func Adapt(v any) (Processor, error) {
	switch actual := v.(type) {
	case nil:
		return Passthrough{}, nil
	case Processor:
		return actual, nil
	case MessageProcessor:
		return &unauthenticated{MessageProcessor: actual}, nil
	default:
		return nil, fmt.Errorf("unsupported message processor: %T", v)
	}
}

type unauthenticated struct {
	MessageProcessor
}

func (u *unauthenticated) Authorize(context.Context, string, string) (any, error) {
	return nil, nil
}

func (u *unauthenticated) ForwardMessageToServer(ctx context.Context, serverName, sessionID string, msg *message.Message, _ any) (*message.Message, error) {
	return u.MessageProcessor.ForwardMessageToServer(ctx, serverName, sessionID, msg)
}

func (u *unauthenticated) ReturnMessageToClient(ctx context.Context, serverName, sessionID string, msg *message.Message, _ any) (*message.Message, error) {
	return u.MessageProcessor.ReturnMessageToClient(ctx, serverName, sessionID, msg)
}

// Passthrough authorizes everyone and forwards messages unchanged.
type Passthrough struct{}

func (Passthrough) Authorize(context.Context, string, string) (any, error) { return nil, nil }

func (Passthrough) ForwardMessageToServer(_ context.Context, _, _ string, msg *message.Message, _ any) (*message.Message, error) {
	return msg, nil
}

func (Passthrough) ReturnMessageToClient(_ context.Context, _, _ string, msg *message.Message, _ any) (*message.Message, error) {
	return msg, nil
}
