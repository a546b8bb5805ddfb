package session

import (
	"context"

	"github.com/viant/mcp-bridge/message"
)

// ClientEndpoint owns the outbound connections of one downstream server, keyed by
// session id.
//
// An endpoint reports downstream messages and mapped transport errors through
// Session.ReturnMessageToClient and the end of a connection it did not close itself
// through Session.OnClientEndpointClose. CloseSession never triggers either.
type ClientEndpoint interface {
	StartSession(ctx context.Context, s *Session) error
	SendMessage(ctx context.Context, s *Session, msg *message.Message) error
	CloseSession(ctx context.Context, s *Session) error
}
