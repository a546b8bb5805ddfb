package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/mcp-bridge/endpoint/client"
	"github.com/viant/mcp-bridge/endpoint/server"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 5000
)

// Config defines the inbound transport and the downstream servers.
type Config struct {
	Server   Server           `yaml:"server" json:"server"`
	Clients  []*client.Config `yaml:"clients" json:"clients"`
	Auth     *Auth            `yaml:"auth,omitempty" json:"auth,omitempty"`
	LogLevel string           `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
}

// Server defines the inbound transport.
type Server struct {
	Type string `yaml:"type" json:"type"`
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
	CORS *CORS  `yaml:"cors,omitempty" json:"cors,omitempty"`
}

// CORS lists browser origins allowed on HTTP kinds.
type CORS struct {
	AllowOrigins []string `yaml:"allowOrigins,omitempty" json:"allowOrigins,omitempty"`
}

// Auth enables inbound authorization.
type Auth struct {
	JWT *JWT `yaml:"jwt,omitempty" json:"jwt,omitempty"`
}

// JWT verifies bearer tokens with a shared secret or an RSA public key.
type JWT struct {
	Secret       string `yaml:"secret,omitempty" json:"secret,omitempty"`
	PublicKeyURL string `yaml:"publicKeyURL,omitempty" json:"publicKeyURL,omitempty"`
	Audience     string `yaml:"audience,omitempty" json:"audience,omitempty"`
}

// Kind returns the normalized inbound transport kind; stdio when unset.
func (s *Server) Kind() string {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "", "stdio", "process":
		return server.KindStdio
	case "sse", "event-stream":
		return server.KindSSE
	case "streamable", "streamablehttp", "session-http", "http":
		return server.KindStreamable
	}
	return s.Type
}

// Addr returns the listen address of HTTP kinds.
func (s *Server) Addr() string {
	host := s.Host
	if host == "" {
		host = defaultHost
	}
	port := s.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Equal reports whether a restart-free reload can keep s.
func (s *Server) Equal(other *Server) bool {
	if s.Kind() != other.Kind() || s.Addr() != other.Addr() {
		return false
	}
	return strings.Join(s.origins(), ",") == strings.Join(other.origins(), ",")
}

func (s *Server) origins() []string {
	if s.CORS == nil {
		return nil
	}
	return s.CORS.AllowOrigins
}

// ClientName returns the routing name of c: its name, or DefaultName when unnamed.
func ClientName(c *client.Config) string {
	if c.Name == "" {
		return server.DefaultName
	}
	return c.Name
}

// Validate checks transport kinds, required parameters and client names.
func (c *Config) Validate() error {
	switch c.Server.Kind() {
	case server.KindStdio, server.KindSSE, server.KindStreamable:
	default:
		return fmt.Errorf("unsupported server transport type: %v", c.Server.Type)
	}
	if len(c.Clients) == 0 {
		return errors.New("at least one client is required")
	}
	if c.Server.Kind() == server.KindStdio && len(c.Clients) > 1 {
		return errors.New("stdio server supports a single client")
	}
	names := map[string]bool{}
	for i, aClient := range c.Clients {
		if aClient == nil {
			return fmt.Errorf("client[%d] was empty", i)
		}
		if len(c.Clients) > 1 && aClient.Name == "" {
			return fmt.Errorf("client[%d]: name is required when more than one client is configured", i)
		}
		if strings.ContainsAny(aClient.Name, "/?#% ") {
			return fmt.Errorf("client[%d]: invalid name %q", i, aClient.Name)
		}
		if names[aClient.Name] {
			return fmt.Errorf("client[%d]: duplicate name %q", i, aClient.Name)
		}
		names[aClient.Name] = true
		if err := aClient.Validate(); err != nil {
			return fmt.Errorf("client[%d] %v: %w", i, aClient.Name, err)
		}
	}
	if c.Auth != nil && c.Auth.JWT != nil && c.Auth.JWT.Secret == "" && c.Auth.JWT.PublicKeyURL == "" {
		return errors.New("auth.jwt requires secret or publicKeyURL")
	}
	return nil
}

// Load reads a YAML configuration from URL (any afs supported scheme).
func Load(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	ret := &Config{}
	if err = yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %v: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %v: %w", URL, err)
	}
	return ret, nil
}
