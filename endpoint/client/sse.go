package client

import (
	"context"
	"net/http"

	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/client/sse"
)

// SSEEndpoint connects to the downstream server over a long-lived event stream.
type SSEEndpoint struct {
	*base
}

// NewSSE creates an event-stream endpoint.
func NewSSE(name string, config *Config) (*SSEEndpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &SSEEndpoint{base: newBase(name, config)}
	ret.dial = ret.newTransport
	return ret, nil
}

func (e *SSEEndpoint) newTransport(_ context.Context, _ *session.Session) (transport.Transport, error) {
	httpClient := &http.Client{Transport: &fetchGuard{base: e.roundTripper()}}
	return sse.New(e.config.URL,
		sse.WithHTTPClient(httpClient),
		sse.WithHeaders(e.config.Headers),
		sse.WithMaxReconnects(e.config.maxReconnects()),
	)
}
