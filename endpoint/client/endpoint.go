// Package client implements client endpoints: the outbound side of the bridge. An
// endpoint represents one configured downstream server and owns one connection per
// bridged session.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/viant/mcp-bridge/internal/collection"
	"github.com/viant/mcp-bridge/internal/logx"
	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/client/stdio"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultMaxReconnects = 3
	closeTimeout         = 5 * time.Second
	deadGrace            = time.Second
)

// Endpoint is a configured downstream server.
type Endpoint interface {
	session.ClientEndpoint
	Name() string
	Kind() string
	Config() *Config
	// Logs returns recent non-protocol output of the downstream server.
	Logs() []LogEntry
	// Close ends every connection of the endpoint.
	Close(ctx context.Context) error
}

// New creates the endpoint for config. Configuration errors fail here.
func New(name string, config *Config) (Endpoint, error) {
	if config == nil {
		return nil, errors.New("client config was nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Kind() {
	case KindStdio:
		return NewStdio(name, config)
	case KindSSE:
		return NewSSE(name, config)
	default:
		return NewStreamable(name, config)
	}
}

type dialFunc func(ctx context.Context, s *session.Session) (transport.Transport, error)

type base struct {
	name         string
	config       *Config
	logs         *LogBuffer
	connections  *collection.SyncMap[string, *connection]
	dial         dialFunc
	trackPending bool
	tokenSource  oauth2.TokenSource
}

func newBase(name string, config *Config) *base {
	ret := &base{
		name:        name,
		config:      config,
		logs:        NewLogBuffer(LogCapacity),
		connections: collection.NewSyncMap[string, *connection](),
	}
	if config.OAuth2 != nil {
		credentials := &clientcredentials.Config{
			ClientID:     config.OAuth2.ClientID,
			ClientSecret: config.OAuth2.ClientSecret,
			TokenURL:     config.OAuth2.TokenURL,
			Scopes:       config.OAuth2.Scopes,
		}
		ret.tokenSource = credentials.TokenSource(context.Background())
	}
	return ret
}

func (b *base) Name() string { return b.name }

func (b *base) Kind() string { return b.config.Kind() }

func (b *base) Config() *Config { return b.config }

func (b *base) Logs() []LogEntry { return b.logs.Entries() }

// Connections returns the number of open connections.
func (b *base) Connections() int { return b.connections.Len() }

func (b *base) String() string { return fmt.Sprintf("%v client %q", b.config.Kind(), b.name) }

// roundTripper returns the HTTP transport for downstream requests.
func (b *base) roundTripper() http.RoundTripper {
	if b.tokenSource == nil {
		return http.DefaultTransport
	}
	return &oauth2.Transport{Source: b.tokenSource, Base: http.DefaultTransport}
}

// logEvent records non-protocol output for operators.
func (b *base) logEvent(sessionID, source, text string) {
	b.logs.Add(LogEntry{Session: sessionID, Source: source, Text: text})
	logx.Log.Debug().Str("client", b.name).Str("session", sessionID).Str("source", source).Msg(text)
}

// StartSession opens the connection for s.
func (b *base) StartSession(ctx context.Context, s *session.Session) error {
	aTransport, err := b.dial(ctx, s)
	if err != nil {
		return err
	}
	conn := newConnection(s, aTransport)
	if !b.connections.PutIfAbsent(s.ID(), conn) {
		_ = aTransport.Close()
		return fmt.Errorf("session %v is already connected to %v", s.ID(), b)
	}
	go b.pump(conn)
	if err = aTransport.Start(ctx); err != nil {
		b.connections.DeleteIf(s.ID(), conn.is)
		conn.setClosing()
		_ = aTransport.Close()
		return fmt.Errorf("failed to connect %v: %w", b, err)
	}
	return nil
}

// SendMessage sends msg on the connection of s. A failed request is answered with an
// error response so the inbound caller does not wait for it.
func (b *base) SendMessage(ctx context.Context, s *session.Session, msg *message.Message) error {
	id, _ := msg.ID()
	isRequest := msg.IsRequest()
	conn, ok := b.connections.Get(s.ID())
	if !ok {
		err := fmt.Errorf("Connection terminated: %v has no connection for session %v", b, s.ID())
		if isRequest {
			s.ReturnMessageToClient(ctx, ErrorMessage(id, err))
		}
		return err
	}
	if b.trackPending {
		if !isRequest && conn.isDead() {
			return nil
		}
		if isRequest && !conn.begin(id) {
			b.failPending(ctx, conn, id)
			return nil
		}
	}
	if err := conn.transport.Send(ctx, msg); err != nil {
		if !isRequest {
			return fmt.Errorf("failed to send to %v: %w", b, err)
		}
		if b.trackPending {
			if conn.settle(message.IDKey(id)) {
				b.failPending(ctx, conn, id)
			}
			return fmt.Errorf("failed to send to %v: %w", b, err)
		}
		s.ReturnMessageToClient(ctx, ErrorMessage(id, err))
		return fmt.Errorf("failed to send to %v: %w", b, err)
	}
	return nil
}

// failPending answers id with PendingClosed and reports the connection end.
func (b *base) failPending(ctx context.Context, conn *connection, id json.RawMessage) {
	conn.markDead()
	b.deliverPendingClosed(ctx, conn, id)
	b.release(conn)
}

func (b *base) deliverPendingClosed(ctx context.Context, conn *connection, id json.RawMessage) {
	conn.session.Logger().Warn().Str("client", b.name).Str("id", message.IDKey(id)).Msg(PendingClosed)
	conn.session.ReturnMessageToClient(ctx, ErrorMessage(id, errors.New(PendingClosed)))
}

// CloseSession deliberately closes the connection of s; the session is not notified.
func (b *base) CloseSession(ctx context.Context, s *session.Session) error {
	conn, ok := b.connections.LoadAndDelete(s.ID())
	if !ok {
		return nil
	}
	conn.setClosing()
	err := conn.transport.Close()
	timer := time.NewTimer(closeTimeout)
	defer timer.Stop()
	select {
	case <-conn.pumped:
	case <-ctx.Done():
	case <-timer.C:
		s.Logger().Warn().Str("client", b.name).Msg("timeout waiting for client connection to close")
	}
	return err
}

// Close ends every connection without notifying sessions.
func (b *base) Close(ctx context.Context) error {
	var errs []error
	b.connections.Range(func(_ string, conn *connection) bool {
		if err := b.CloseSession(ctx, conn.session); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func (b *base) pump(conn *connection) {
	defer close(conn.pumped)
	ctx := context.Background()
	transport.Pump(conn.transport, transport.Listener{
		OnMessage: func(msg *message.Message) { b.onMessage(ctx, conn, msg) },
		OnError:   func(err error) { b.onError(ctx, conn, err) },
		OnClose:   func() { b.onClose(ctx, conn) },
	})
}

func (b *base) onMessage(ctx context.Context, conn *connection, msg *message.Message) {
	if conn.isClosing() {
		return
	}
	conn.markReady()
	if msg.IsResponse() {
		conn.settle(msg.IDKey())
	}
	conn.session.ReturnMessageToClient(ctx, msg)
}

func (b *base) onError(ctx context.Context, conn *connection, err error) {
	if conn.isClosing() {
		return
	}
	var parseErr *stdio.ParseError
	var spawnErr *stdio.SpawnError
	var exitErr *stdio.ExitError
	switch {
	case errors.As(err, &parseErr) && !parseErr.AfterMessage:
		b.logEvent(conn.session.ID(), "stdout", parseErr.Line)
		return
	case errors.As(err, &spawnErr), errors.As(err, &exitErr):
		// the close path answers whatever is pending
		b.logEvent(conn.session.ID(), "process", err.Error())
		conn.session.Logger().Warn().Err(err).Str("client", b.name).Msg("downstream process failed")
		return
	}
	conn.session.Logger().Warn().Err(err).Str("client", b.name).Msg("client transport error")
	conn.session.ReturnMessageToClient(ctx, ErrorMessage(nil, err))
}

func (b *base) onClose(ctx context.Context, conn *connection) {
	pending, outcome := conn.end(b.trackPending)
	switch outcome {
	case endSkip:
		return
	case endDefer:
		b.logEvent(conn.session.ID(), "process", "downstream ended before sending a message")
		time.AfterFunc(deadGrace, func() { b.release(conn) })
		return
	}
	if pending != nil {
		b.deliverPendingClosed(ctx, conn, pending)
	}
	b.release(conn)
}

// release forgets conn and tells its session the downstream is gone.
func (b *base) release(conn *connection) {
	if !conn.release() {
		return
	}
	b.connections.DeleteIf(conn.session.ID(), conn.is)
	conn.session.OnClientEndpointClose()
}
