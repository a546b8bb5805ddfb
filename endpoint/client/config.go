package client

import (
	"errors"
	"fmt"
	"strings"
)

// Transport kinds.
const (
	KindStdio      = "stdio"
	KindSSE        = "sse"
	KindStreamable = "streamable"
)

// Config defines one downstream server.
type Config struct {
	Name          string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type          string            `yaml:"type" json:"type"`
	Command       string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env           []string          `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd           string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	URL           string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	OAuth2        *OAuth2           `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
	MaxReconnects *int              `yaml:"maxReconnects,omitempty" json:"maxReconnects,omitempty"`
}

// OAuth2 defines client-credentials authentication against an HTTP downstream.
type OAuth2 struct {
	ClientID     string   `yaml:"clientId" json:"clientId"`
	ClientSecret string   `yaml:"clientSecret" json:"clientSecret"`
	TokenURL     string   `yaml:"tokenURL" json:"tokenURL"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Kind returns the normalized transport kind.
func (c *Config) Kind() string {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", KindStdio, "process":
		return KindStdio
	case KindSSE, "event-stream":
		return KindSSE
	case KindStreamable, "session-http", "http", "streamablehttp":
		return KindStreamable
	default:
		return c.Type
	}
}

// Validate checks the parameters required by the transport kind.
func (c *Config) Validate() error {
	switch c.Kind() {
	case KindStdio:
		if c.Command == "" {
			return errors.New("command is required for stdio transport")
		}
	case KindSSE, KindStreamable:
		if c.URL == "" {
			return fmt.Errorf("url is required for %v transport", c.Kind())
		}
		if c.OAuth2 != nil && (c.OAuth2.ClientID == "" || c.OAuth2.TokenURL == "") {
			return errors.New("oauth2 requires clientId and tokenURL")
		}
	default:
		return fmt.Errorf("unsupported transport type: %v", c.Type)
	}
	return nil
}

// Equal reports whether both configs describe the same downstream connection.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.describe() == other.describe()
}

func (c *Config) describe() string {
	return fmt.Sprintf("%s|%s|%q|%q|%s|%s|%v|%+v|%v", c.Kind(), c.Command, c.Args, c.Env, c.Cwd, c.URL, c.Headers, c.OAuth2, c.maxReconnects())
}

func (c *Config) maxReconnects() int {
	if c.MaxReconnects == nil {
		return defaultMaxReconnects
	}
	return *c.MaxReconnects
}
