// Package server implements server endpoints: the inbound side of the bridge. An
// endpoint accepts protocol clients on one transport kind, creates a session per
// client and pairs it with the configured client endpoint.
//
// HTTP kinds route by the first path segment when several client endpoints are
// configured (/{name}/sse, /{name}/mcp); the unnamed client endpoint, registered under
// DefaultName, is served on the default paths.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/viant/mcp-bridge/endpoint/client"
	"github.com/viant/mcp-bridge/internal/collection"
	"github.com/viant/mcp-bridge/internal/logx"
	"github.com/viant/mcp-bridge/processor"
	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
	"golang.org/x/sync/errgroup"
)

// DefaultName registers the single unnamed client endpoint.
const DefaultName = ""

// Transport kinds.
const (
	KindStdio      = "stdio"
	KindSSE        = "sse"
	KindStreamable = "streamable"
)

// Endpoint accepts inbound protocol clients.
type Endpoint interface {
	Kind() string
	// AddClientEndpoint registers endpoint under name; names are unique.
	AddClientEndpoint(name string, endpoint client.Endpoint) error
	// RemoveClientEndpoint closes every session bound to name, then the endpoint.
	RemoveClientEndpoint(ctx context.Context, name string) error
	// ClientEndpoints returns the registered endpoints by name.
	ClientEndpoints() map[string]client.Endpoint
	// Start begins accepting clients; p is resolved with processor.Adapt by the caller.
	Start(ctx context.Context, p processor.Processor) error
	// Stop closes every session and optionally terminates the process.
	Stop(ctx context.Context, terminateProcess bool) error
	// Done is closed once the endpoint no longer serves clients.
	Done() <-chan struct{}
}

// New creates the server endpoint of kind.
func New(kind string, options ...Option) (Endpoint, error) {
	switch kind {
	case KindStdio:
		return NewStdio(options...), nil
	case KindSSE:
		return NewSSE(options...), nil
	case KindStreamable:
		return NewStreamable(options...), nil
	}
	return nil, fmt.Errorf("unsupported server transport type: %v", kind)
}

type base struct {
	kind      string
	manager   *session.Manager
	clients   *collection.SyncMap[string, client.Endpoint]
	sessions  *collection.SyncMap[string, *session.Session]
	processor processor.Processor
	exit      func(code int)
	// closed is called after a session is deregistered.
	closed   func(s *session.Session)
	done     chan struct{}
	doneOnce sync.Once
}

func newBase(kind string, o *options) *base {
	ret := &base{
		kind:      kind,
		manager:   o.manager,
		clients:   collection.NewSyncMap[string, client.Endpoint](),
		sessions:  collection.NewSyncMap[string, *session.Session](),
		processor: processor.Passthrough{},
		exit:      o.exit,
		done:      make(chan struct{}),
	}
	if ret.manager == nil {
		ret.manager = session.NewManager()
	}
	if ret.exit == nil {
		ret.exit = os.Exit
	}
	return ret
}

func loadOptions(opts []Option) *options {
	ret := &options{addr: DefaultAddr}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (b *base) Kind() string { return b.kind }

func (b *base) Done() <-chan struct{} { return b.done }

// Manager returns the session registry.
func (b *base) Manager() *session.Manager { return b.manager }

func (b *base) AddClientEndpoint(name string, endpoint client.Endpoint) error {
	if endpoint == nil {
		return errors.New("client endpoint was nil")
	}
	if !b.clients.PutIfAbsent(name, endpoint) {
		return fmt.Errorf("client endpoint %q is already registered", name)
	}
	return nil
}

func (b *base) RemoveClientEndpoint(ctx context.Context, name string) error {
	endpoint, ok := b.clients.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("unknown client endpoint %q", name)
	}
	err := b.closeSessions(ctx, func(s *session.Session) bool { return s.ServerName() == name })
	return errors.Join(err, endpoint.Close(ctx))
}

func (b *base) ClientEndpoints() map[string]client.Endpoint {
	ret := map[string]client.Endpoint{}
	b.clients.Range(func(name string, endpoint client.Endpoint) bool {
		ret[name] = endpoint
		return true
	})
	return ret
}

// names returns registered client endpoint names in order.
func (b *base) names() []string {
	var ret []string
	b.clients.Range(func(name string, _ client.Endpoint) bool {
		ret = append(ret, name)
		return true
	})
	sort.Strings(ret)
	return ret
}

func (b *base) setProcessor(p processor.Processor) {
	if p == nil {
		p = processor.Passthrough{}
	}
	b.processor = p
}

func (b *base) newSession(id string, inbound transport.Transport, endpoint client.Endpoint, name string, authPayload any) *session.Session {
	return session.New(id, inbound, endpoint,
		session.WithServerName(name),
		session.WithProcessor(b.processor),
		session.WithAuthPayload(authPayload),
		session.WithCloseListener(b.onSessionClose),
	)
}

// open registers s and starts it; a session that fails to start is closed.
func (b *base) open(ctx context.Context, s *session.Session) error {
	if !b.manager.Add(s) {
		return fmt.Errorf("session %v is already registered", s.ID())
	}
	b.sessions.Put(s.ID(), s)
	if err := s.Start(ctx); err != nil {
		s.Logger().Error().Err(err).Msg("failed to start session")
		_ = s.Close(ctx)
		return err
	}
	s.Logger().Info().Str("kind", b.kind).Msg("session started")
	return nil
}

func (b *base) onSessionClose(s *session.Session) {
	b.sessions.Delete(s.ID())
	b.manager.Remove(s.ID())
	if b.closed != nil {
		b.closed(s)
	}
}

// sessionFor returns the session with id bound to the client endpoint name.
func (b *base) sessionFor(id, name string) (*session.Session, bool) {
	s, ok := b.sessions.Get(id)
	if !ok || s.ServerName() != name {
		return nil, false
	}
	return s, true
}

// closeSessions closes the sessions matching filter concurrently.
func (b *base) closeSessions(ctx context.Context, filter func(s *session.Session) bool) error {
	var group errgroup.Group
	for _, s := range b.sessions.Values() {
		if filter != nil && !filter(s) {
			continue
		}
		aSession := s
		group.Go(func() error {
			return aSession.Close(ctx)
		})
	}
	return group.Wait()
}

// stop closes sessions, runs shutdown and client endpoint cleanup, then exits if asked.
func (b *base) stop(ctx context.Context, terminateProcess bool, shutdown func(ctx context.Context) error) error {
	err := b.closeSessions(ctx, nil)
	if shutdown != nil {
		err = errors.Join(err, shutdown(ctx))
	}
	for _, endpoint := range b.clients.Values() {
		err = errors.Join(err, endpoint.Close(ctx))
	}
	b.finish()
	if err != nil {
		logx.Log.Warn().Err(err).Str("kind", b.kind).Msg("server endpoint stopped with errors")
	} else {
		logx.Log.Info().Str("kind", b.kind).Msg("server endpoint stopped")
	}
	if terminateProcess {
		code := 0
		if err != nil {
			code = 1
		}
		b.exit(code)
	}
	return err
}

func (b *base) finish() {
	b.doneOnce.Do(func() { close(b.done) })
}
