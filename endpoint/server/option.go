package server

import (
	"io"

	"github.com/viant/mcp-bridge/session"
)

// DefaultAddr is the listen address of HTTP kinds when none is configured.
const DefaultAddr = "127.0.0.1:5000"

type options struct {
	manager        *session.Manager
	addr           string
	allowedOrigins []string
	exit           func(code int)
	reader         io.Reader
	writer         io.Writer
}

// Option configures a server endpoint.
type Option func(o *options)

// WithManager shares a session registry between endpoints.
func WithManager(manager *session.Manager) Option {
	return func(o *options) {
		o.manager = manager
	}
}

// WithAddr sets the listen address of HTTP kinds; port 0 picks a free port.
func WithAddr(addr string) Option {
	return func(o *options) {
		o.addr = addr
	}
}

// WithAllowedOrigins sets the CORS and Origin allow-list of HTTP kinds.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) {
		o.allowedOrigins = origins
	}
}

// WithExit replaces os.Exit for Stop(ctx, true).
func WithExit(exit func(code int)) Option {
	return func(o *options) {
		o.exit = exit
	}
}

// WithIO replaces stdin and stdout of the stdio kind.
func WithIO(reader io.Reader, writer io.Writer) Option {
	return func(o *options) {
		o.reader = reader
		o.writer = writer
	}
}
