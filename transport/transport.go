// Package transport defines the duplex channel contract shared by every inbound and
// outbound wire transport of the bridge.
//
// A transport delivers decoded messages one at a time on Messages, reports
// non-terminal problems on Errors and closes Done exactly once when the underlying
// connection ends, whichever side ended it.
package transport

import (
	"context"
	"errors"

	"github.com/viant/mcp-bridge/message"
)

// ErrClosed is returned by Send once the transport is done.
var ErrClosed = errors.New("transport closed")

// Transport is a duplex JSON-RPC message channel.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg *message.Message) error
	Messages() <-chan *message.Message
	Errors() <-chan error
	Done() <-chan struct{}
	Close() error
}
