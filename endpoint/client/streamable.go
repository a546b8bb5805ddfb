package client

import (
	"context"
	"net/http"

	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/client/streamable"
)

// StreamableEndpoint connects to the downstream server over streamable HTTP.
type StreamableEndpoint struct {
	*base
}

// NewStreamable creates a streamable HTTP endpoint.
func NewStreamable(name string, config *Config) (*StreamableEndpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &StreamableEndpoint{base: newBase(name, config)}
	ret.dial = ret.newTransport
	return ret, nil
}

func (e *StreamableEndpoint) newTransport(_ context.Context, _ *session.Session) (transport.Transport, error) {
	return streamable.New(e.config.URL,
		streamable.WithHTTPClient(&http.Client{Transport: e.roundTripper()}),
		streamable.WithHeaders(e.config.Headers),
		streamable.WithListening(true),
	)
}
