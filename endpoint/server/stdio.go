package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/viant/mcp-bridge/endpoint/client"
	"github.com/viant/mcp-bridge/processor"
	"github.com/viant/mcp-bridge/session"
	serverstdio "github.com/viant/mcp-bridge/transport/server/stdio"
)

// StdioEndpoint serves the single session of the process over stdin and stdout. It is
// done once that session closes.
type StdioEndpoint struct {
	*base
	reader io.Reader
	writer io.Writer

	mux     sync.Mutex
	name    string
	session *session.Session
}

// NewStdio creates the stdio server endpoint.
func NewStdio(options ...Option) *StdioEndpoint {
	o := loadOptions(options)
	ret := &StdioEndpoint{base: newBase(KindStdio, o), reader: o.reader, writer: o.writer}
	ret.closed = func(*session.Session) { ret.finish() }
	return ret
}

// AddClientEndpoint registers the only client endpoint.
func (e *StdioEndpoint) AddClientEndpoint(name string, endpoint client.Endpoint) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	if e.clients.Len() > 0 {
		return errors.New("stdio server endpoint supports a single client endpoint")
	}
	if err := e.base.AddClientEndpoint(name, endpoint); err != nil {
		return err
	}
	e.name = name
	return nil
}

// Start opens the session.
func (e *StdioEndpoint) Start(ctx context.Context, p processor.Processor) error {
	e.setProcessor(p)
	e.mux.Lock()
	name := e.name
	if e.session != nil {
		e.mux.Unlock()
		return errors.New("stdio server endpoint already started")
	}
	endpoint, ok := e.clients.Get(name)
	if !ok {
		e.mux.Unlock()
		return errors.New("no client endpoint configured")
	}
	var transportOptions []serverstdio.Option
	if e.reader != nil {
		transportOptions = append(transportOptions, serverstdio.WithReader(e.reader))
	}
	if e.writer != nil {
		transportOptions = append(transportOptions, serverstdio.WithWriter(e.writer))
	}
	inbound := serverstdio.New(transportOptions...)
	e.session = e.newSession(uuid.NewString(), inbound, endpoint, name, nil)
	aSession := e.session
	e.mux.Unlock()
	return e.open(ctx, aSession)
}

// Session returns the session once started.
func (e *StdioEndpoint) Session() *session.Session {
	e.mux.Lock()
	defer e.mux.Unlock()
	return e.session
}

// UpdateClientEndpoint replaces the client endpoint with one built from config and
// moves the running session onto it.
func (e *StdioEndpoint) UpdateClientEndpoint(ctx context.Context, config *client.Config) error {
	e.mux.Lock()
	aSession := e.session
	name := e.name
	e.mux.Unlock()
	if aSession == nil {
		return errors.New("stdio server endpoint is not started")
	}
	next, err := client.New(name, config)
	if err != nil {
		return fmt.Errorf("failed to create client endpoint: %w", err)
	}
	previous, _ := e.clients.Get(name)
	e.clients.Put(name, next)
	aSession.Logger().Info().Str("kind", next.Kind()).Msg("updating client endpoint")
	if err = aSession.UpdateClientEndpoint(ctx, next); err != nil {
		return err
	}
	if previous != nil {
		return previous.Close(ctx)
	}
	return nil
}

// Stop closes the session and optionally exits.
func (e *StdioEndpoint) Stop(ctx context.Context, terminateProcess bool) error {
	return e.stop(ctx, terminateProcess, nil)
}
