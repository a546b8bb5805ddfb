// Package session ties one inbound transport to one client endpoint connection and
// forwards messages between them.
//
// A session can swap its client endpoint while the inbound client stays connected:
// UpdateClientEndpoint opens a fresh downstream connection and replays the cached
// initialize request. Until the new downstream answers it, inbound messages are held
// in a single pending slot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/viant/mcp-bridge/internal/logx"
	"github.com/viant/mcp-bridge/internal/metrics"
	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/processor"
	"github.com/viant/mcp-bridge/transport"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// RenegotiationFailed is the text of the error sent inbound when a swapped downstream
// does not answer the replayed handshake.
const RenegotiationFailed = "Failed to renegotiate session"

// Session is one bridged connection.
type Session struct {
	id          string
	serverName  string
	transport   transport.Transport
	processor   processor.Processor
	authPayload any
	onClose     func(s *Session)
	logger      zerolog.Logger
	ctx         context.Context
	cancel      context.CancelFunc

	mu           sync.Mutex
	state        state
	endpoint     ClientEndpoint
	initMessage  *message.Message
	initResponse *message.Message

	// sendMu orders outbound sends so a flushed pending message is not overtaken.
	sendMu    sync.Mutex
	closeOnce sync.Once
}

// New creates an active session; Start opens the connections.
func New(id string, inbound transport.Transport, endpoint ClientEndpoint, options ...Option) *Session {
	ret := &Session{
		id:        id,
		transport: inbound,
		endpoint:  endpoint,
		processor: processor.Passthrough{},
		state:     active{},
	}
	for _, opt := range options {
		opt(ret)
	}
	ret.ctx, ret.cancel = context.WithCancel(context.Background())
	ret.logger = logx.With(id, ret.serverName)
	return ret
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ServerName returns the client endpoint name the session was routed to.
func (s *Session) ServerName() string { return s.serverName }

// AuthPayload returns the value produced by authorization, nil when unauthenticated.
func (s *Session) AuthPayload() any { return s.authPayload }

// Transport returns the inbound transport.
func (s *Session) Transport() transport.Transport { return s.transport }

// Logger returns a logger carrying the session fields.
func (s *Session) Logger() *zerolog.Logger { return &s.logger }

// IsActive reports whether the session is not closed; a reconfiguring session is active.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.(closed)
	return !ok
}

// IsReconfiguring reports whether a client endpoint swap is awaiting its handshake.
func (s *Session) IsReconfiguring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.(reconfiguring)
	return ok
}

// InitMessage returns the cached initialize request.
func (s *Session) InitMessage() *message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initMessage
}

// InitResponse returns the cached initialize response.
func (s *Session) InitResponse() *message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initResponse
}

// Start opens the outbound connection, then the inbound transport. On error the caller
// is responsible for closing the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	endpoint := s.endpoint
	s.mu.Unlock()
	if err := endpoint.StartSession(ctx, s); err != nil {
		return fmt.Errorf("failed to start client endpoint session: %w", err)
	}
	if err := s.transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start inbound transport: %w", err)
	}
	go transport.Pump(s.transport, transport.Listener{
		OnMessage: func(msg *message.Message) {
			s.ForwardMessageToServer(s.ctx, msg)
		},
		OnError: func(err error) {
			s.logger.Warn().Err(err).Msg("inbound transport error")
		},
		OnClose: func() {
			_ = s.Close(context.Background())
		},
	})
	return nil
}

// ForwardMessageToServer passes an inbound message to the client endpoint. It is a
// no-op once the session is closed.
func (s *Session) ForwardMessageToServer(ctx context.Context, msg *message.Message) {
	s.mu.Lock()
	if _, ok := s.state.(closed); ok {
		s.mu.Unlock()
		return
	}
	if s.initMessage == nil && msg.IsInitializeRequest() {
		s.initMessage = msg
	}
	s.mu.Unlock()

	out, err := s.processor.ForwardMessageToServer(ctx, s.serverName, s.id, msg, s.authPayload)
	if err != nil {
		s.logger.Error().Err(err).Str("method", msg.Method()).Msg("processor failed to forward message")
		metrics.RecordMessage(metrics.Inbound, s.serverName, metrics.Failed)
		if msg.IsRequest() {
			id, _ := msg.ID()
			s.send(ctx, message.NewInternalError(id, err.Error()))
		}
		return
	}
	if out == nil {
		metrics.RecordMessage(metrics.Inbound, s.serverName, metrics.Dropped)
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	switch s.state.(type) {
	case closed:
		s.mu.Unlock()
		return
	case reconfiguring:
		s.state = reconfiguring{pending: out}
		s.mu.Unlock()
		s.logger.Debug().Str("method", out.Method()).Msg("message held until renegotiation completes")
		metrics.RecordMessage(metrics.Inbound, s.serverName, metrics.Buffered)
		return
	}
	endpoint := s.endpoint
	s.mu.Unlock()
	s.sendToEndpoint(ctx, endpoint, out)
}

func (s *Session) sendToEndpoint(ctx context.Context, endpoint ClientEndpoint, msg *message.Message) {
	if err := endpoint.SendMessage(ctx, s, msg); err != nil {
		s.logger.Warn().Err(err).Str("method", msg.Method()).Msg("failed to send message to server")
		metrics.RecordMessage(metrics.Inbound, s.serverName, metrics.Failed)
		return
	}
	metrics.RecordMessage(metrics.Inbound, s.serverName, metrics.Forwarded)
}

// ReturnMessageToClient passes a downstream message to the inbound transport. It is a
// no-op once the session is closed. While reconfiguring, the message is taken as the
// answer to the replayed handshake.
func (s *Session) ReturnMessageToClient(ctx context.Context, msg *message.Message) {
	s.mu.Lock()
	switch s.state.(type) {
	case closed:
		s.mu.Unlock()
		return
	case reconfiguring:
		s.mu.Unlock()
		s.completeRenegotiation(ctx, msg)
		return
	}
	if s.initResponse == nil && s.answersInit(msg) {
		s.initResponse = msg
	}
	s.mu.Unlock()

	out, err := s.processor.ReturnMessageToClient(ctx, s.serverName, s.id, msg, s.authPayload)
	if err != nil {
		s.logger.Error().Err(err).Msg("processor failed to return message")
		metrics.RecordMessage(metrics.Outbound, s.serverName, metrics.Failed)
		if msg.IsResponse() {
			id, _ := msg.ID()
			s.send(ctx, message.NewInternalError(id, err.Error()))
		}
		return
	}
	if out == nil {
		metrics.RecordMessage(metrics.Outbound, s.serverName, metrics.Dropped)
		return
	}
	if s.send(ctx, out) {
		metrics.RecordMessage(metrics.Outbound, s.serverName, metrics.Forwarded)
	}
}

// answersInit reports whether msg is the successful response to the cached initialize
// request. The caller holds mu.
func (s *Session) answersInit(msg *message.Message) bool {
	if s.initMessage == nil || !msg.IsResponse() || msg.IsError() {
		return false
	}
	return msg.IDKey() == s.initMessage.IDKey()
}

func (s *Session) completeRenegotiation(ctx context.Context, msg *message.Message) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	current, ok := s.state.(reconfiguring)
	if !ok {
		s.mu.Unlock()
		// the swap finished concurrently; treat msg as ordinary traffic
		s.ReturnMessageToClient(ctx, msg)
		return
	}
	matched := s.answersInit(msg)
	if matched {
		s.initResponse = msg
	}
	s.state = active{}
	endpoint := s.endpoint
	s.mu.Unlock()
	metrics.RecordRenegotiation(matched)

	if !matched {
		s.logger.Error().Str("response", msg.String()).Msg("client endpoint did not renegotiate the session")
		s.send(ctx, message.NewInternalError(nil, RenegotiationFailed))
		return
	}
	s.logger.Info().Msg("session renegotiated")
	if initialized, err := message.NewNotification(message.MethodNotificationInitialized, nil); err == nil {
		s.send(ctx, initialized)
		s.sendToEndpoint(ctx, endpoint, initialized)
	}
	if current.pending != nil {
		s.sendToEndpoint(ctx, endpoint, current.pending)
	}
}

// send writes msg to the inbound transport.
func (s *Session) send(ctx context.Context, msg *message.Message) bool {
	if err := s.transport.Send(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send message to client")
		return false
	}
	return true
}

// UpdateClientEndpoint replaces the client endpoint. The current downstream connection
// is closed and a new one is opened on endpoint; when a handshake already happened it
// is replayed and the session stays reconfiguring until the new downstream answers.
func (s *Session) UpdateClientEndpoint(ctx context.Context, endpoint ClientEndpoint) error {
	// an in-flight forward finishes on the previous endpoint before the swap starts
	s.sendMu.Lock()
	s.mu.Lock()
	if _, ok := s.state.(closed); ok {
		s.mu.Unlock()
		s.sendMu.Unlock()
		return ErrClosed
	}
	previous := s.endpoint
	s.state = reconfiguring{}
	s.mu.Unlock()
	s.sendMu.Unlock()

	if err := previous.CloseSession(ctx, s); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close previous client endpoint session")
	}
	s.mu.Lock()
	s.endpoint = endpoint
	initMessage := s.initMessage
	s.mu.Unlock()

	if err := endpoint.StartSession(ctx, s); err != nil {
		metrics.RecordRenegotiation(false)
		_ = s.Close(ctx)
		return fmt.Errorf("failed to start client endpoint session: %w", err)
	}
	if initMessage == nil {
		s.finishWithoutHandshake(ctx, endpoint)
		return nil
	}
	s.logger.Info().Msg("replaying initialize request")
	if err := endpoint.SendMessage(ctx, s, initMessage); err != nil {
		s.logger.Warn().Err(err).Msg("failed to replay initialize request")
	}
	return nil
}

// finishWithoutHandshake leaves the reconfiguring state when there is nothing to
// replay, forwarding whatever arrived during the swap.
func (s *Session) finishWithoutHandshake(ctx context.Context, endpoint ClientEndpoint) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	current, ok := s.state.(reconfiguring)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.state = active{}
	s.mu.Unlock()
	if current.pending != nil {
		s.sendToEndpoint(ctx, endpoint, current.pending)
	}
}

// Close closes the inbound transport, then the downstream connection, and notifies the
// close listener. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if _, ok := s.state.(closed); ok {
		s.mu.Unlock()
		return nil
	}
	s.state = closed{}
	endpoint := s.endpoint
	s.mu.Unlock()

	var errs []error
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close inbound transport: %w", err))
	}
	if err := endpoint.CloseSession(ctx, s); err != nil {
		errs = append(errs, fmt.Errorf("failed to close client endpoint session: %w", err))
	}
	s.cancel()
	s.closeOnce.Do(func() {
		s.logger.Debug().Msg("session closed")
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return errors.Join(errs...)
}

// OnClientEndpointClose is called when the downstream connection ended on its own. The
// session closes unless it is swapping endpoints.
func (s *Session) OnClientEndpointClose() {
	s.mu.Lock()
	current := s.state
	s.mu.Unlock()
	switch current.(type) {
	case closed:
		return
	case reconfiguring:
		s.logger.Debug().Msg("ignoring client endpoint close during renegotiation")
		return
	}
	s.logger.Info().Msg("client endpoint closed")
	_ = s.Close(context.Background())
}

// String returns a short description for logs.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("session %s (%s)", s.id, s.state.name())
}
