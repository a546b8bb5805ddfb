package client

import (
	"context"

	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/client/stdio"
)

// StdioEndpoint runs the downstream server as a child process per session.
type StdioEndpoint struct {
	*base
}

// NewStdio creates a process endpoint.
func NewStdio(name string, config *Config) (*StdioEndpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &StdioEndpoint{base: newBase(name, config)}
	ret.trackPending = true
	ret.dial = ret.newTransport
	return ret, nil
}

func (e *StdioEndpoint) newTransport(_ context.Context, s *session.Session) (transport.Transport, error) {
	sessionID := s.ID()
	return stdio.New(e.config.Command,
		stdio.WithArguments(e.config.Args...),
		stdio.WithEnv(e.config.Env...),
		stdio.WithDir(e.config.Cwd),
		stdio.WithStderr(func(line string) {
			e.logEvent(sessionID, "stderr", line)
		}),
	)
}
