package bridge

import (
	"context"
	"errors"

	"github.com/viant/mcp-bridge/endpoint/client"
)

// Options are the command line flags. Either Config names a configuration file or the
// inline flags describe a single downstream server.
type Options struct {
	ConfigURL  string            `short:"c" long:"config" description:"bridge config URL (yaml, any afs scheme)"`
	ServerType string            `short:"s" long:"server-type" description:"inbound transport: stdio, sse or streamable" default:"stdio"`
	Host       string            `long:"host" description:"inbound listen host" default:"127.0.0.1"`
	Port       int               `short:"p" long:"port" description:"inbound listen port" default:"5000"`
	ClientType string            `short:"t" long:"client-type" description:"downstream transport: stdio, sse or streamable"`
	Command    string            `long:"command" description:"downstream server command"`
	Args       []string          `short:"a" long:"arg" description:"downstream server argument (repeatable)"`
	Env        []string          `short:"e" long:"env" description:"downstream environment NAME or NAME=VALUE (repeatable)"`
	URL        string            `short:"u" long:"url" description:"downstream server URL"`
	Headers    map[string]string `short:"H" long:"header" description:"downstream header name:value (repeatable)"`
	LogLevel   string            `short:"l" long:"log-level" description:"log level: debug, info, warn, error, none"`
	Console    bool              `long:"console" description:"human readable logs"`
}

// Config returns the configuration the flags describe.
func (o *Options) Config(ctx context.Context) (*Config, error) {
	var ret *Config
	if o.ConfigURL != "" {
		loaded, err := Load(ctx, o.ConfigURL)
		if err != nil {
			return nil, err
		}
		ret = loaded
	} else {
		if o.Command == "" && o.URL == "" {
			return nil, errors.New("either --config, --command or --url is required")
		}
		clientType := o.ClientType
		if clientType == "" {
			clientType = client.KindStdio
			if o.Command == "" {
				clientType = client.KindStreamable
			}
		}
		ret = &Config{
			Server: Server{Type: o.ServerType, Host: o.Host, Port: o.Port},
			Clients: []*client.Config{{
				Type:    clientType,
				Command: o.Command,
				Args:    o.Args,
				Env:     o.Env,
				URL:     o.URL,
				Headers: o.Headers,
			}},
		}
		if err := ret.Validate(); err != nil {
			return nil, err
		}
	}
	if o.LogLevel != "" {
		ret.LogLevel = o.LogLevel
	}
	return ret, nil
}
