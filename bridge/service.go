package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/mcp-bridge/endpoint/client"
	"github.com/viant/mcp-bridge/endpoint/server"
	"github.com/viant/mcp-bridge/internal/logx"
	"github.com/viant/mcp-bridge/processor"
	"github.com/viant/mcp-bridge/processor/jwtauth"
	"github.com/viant/mcp-bridge/session"
)

// Service wires a server endpoint to the configured client endpoints.
type Service struct {
	manager   *session.Manager
	processor processor.Processor
	endpoint  server.Endpoint

	mux    sync.Mutex
	config *Config
}

// New builds the endpoints of config. messageProcessor is nil, a
// processor.MessageProcessor or a processor.Processor; options customize the server
// endpoint.
func New(ctx context.Context, config *Config, messageProcessor any, options ...server.Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	aProcessor, err := processor.Adapt(messageProcessor)
	if err != nil {
		return nil, err
	}
	if config.Auth != nil && config.Auth.JWT != nil {
		authorizer, err := newJWTProcessor(ctx, config.Auth.JWT)
		if err != nil {
			return nil, err
		}
		if messageProcessor == nil {
			aProcessor = authorizer
		} else {
			aProcessor = processor.Chain(authorizer, aProcessor)
		}
	}
	ret := &Service{manager: session.NewManager(), processor: aProcessor, config: config}
	serverOptions := []server.Option{
		server.WithManager(ret.manager),
		server.WithAddr(config.Server.Addr()),
		server.WithAllowedOrigins(config.Server.origins()...),
	}
	if ret.endpoint, err = server.New(config.Server.Kind(), append(serverOptions, options...)...); err != nil {
		return nil, err
	}
	for _, clientConfig := range config.Clients {
		if err = ret.addClient(clientConfig); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func newJWTProcessor(ctx context.Context, config *JWT) (*jwtauth.Processor, error) {
	var options []jwtauth.Option
	if config.Secret != "" {
		options = append(options, jwtauth.WithSecret(config.Secret))
	}
	if config.PublicKeyURL != "" {
		data, err := afs.New().DownloadWithURL(ctx, config.PublicKeyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to load jwt public key %v: %w", config.PublicKeyURL, err)
		}
		key, err := jwtauth.ParsePublicKey(data)
		if err != nil {
			return nil, err
		}
		options = append(options, jwtauth.WithPublicKey(key))
	}
	if config.Audience != "" {
		options = append(options, jwtauth.WithAudience(config.Audience))
	}
	return jwtauth.New(options...)
}

func (s *Service) addClient(config *client.Config) error {
	name := ClientName(config)
	endpoint, err := client.New(name, config)
	if err != nil {
		return fmt.Errorf("client %q: %w", name, err)
	}
	return s.endpoint.AddClientEndpoint(name, endpoint)
}

// Endpoint returns the server endpoint.
func (s *Service) Endpoint() server.Endpoint { return s.endpoint }

// Manager returns the session registry.
func (s *Service) Manager() *session.Manager { return s.manager }

// Config returns the active configuration.
func (s *Service) Config() *Config {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.config
}

// Start begins accepting inbound clients.
func (s *Service) Start(ctx context.Context) error {
	return s.endpoint.Start(ctx, s.processor)
}

// Stop closes every session; terminateProcess exits once done.
func (s *Service) Stop(ctx context.Context, terminateProcess bool) error {
	return s.endpoint.Stop(ctx, terminateProcess)
}

// Done is closed once the server endpoint stops serving.
func (s *Service) Done() <-chan struct{} { return s.endpoint.Done() }

// Reload applies next without dropping unaffected sessions. The stdio kind swaps its
// client endpoint in place; HTTP kinds replace changed client endpoints, closing their
// sessions. Server changes require a restart.
func (s *Service) Reload(ctx context.Context, next *Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if !s.config.Server.Equal(&next.Server) {
		return errors.New("server configuration changes require a restart")
	}
	if next.LogLevel != s.config.LogLevel {
		logx.Configure(next.LogLevel)
	}
	var err error
	if stdio, ok := s.endpoint.(*server.StdioEndpoint); ok {
		err = s.reloadStdio(ctx, stdio, next.Clients[0])
	} else {
		err = s.reloadHTTP(ctx, next)
	}
	if err != nil {
		return err
	}
	s.config = next
	logx.Log.Info().Int("clients", len(next.Clients)).Msg("configuration reloaded")
	return nil
}

func (s *Service) reloadStdio(ctx context.Context, endpoint *server.StdioEndpoint, config *client.Config) error {
	current := s.config.Clients[0]
	if ClientName(current) != ClientName(config) {
		return errors.New("stdio client name changes require a restart")
	}
	if current.Equal(config) {
		return nil
	}
	return endpoint.UpdateClientEndpoint(ctx, config)
}

func (s *Service) reloadHTTP(ctx context.Context, next *Config) error {
	desired := map[string]*client.Config{}
	for _, config := range next.Clients {
		desired[ClientName(config)] = config
	}
	var errs []error
	for name, endpoint := range s.endpoint.ClientEndpoints() {
		if config, ok := desired[name]; ok && endpoint.Config().Equal(config) {
			delete(desired, name)
			continue
		}
		logx.Log.Info().Str("client", name).Msg("removing client endpoint")
		if err := s.endpoint.RemoveClientEndpoint(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	for name, config := range desired {
		logx.Log.Info().Str("client", name).Msg("adding client endpoint")
		if err := s.addClient(config); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
