package session

import "github.com/viant/mcp-bridge/processor"

// Option configures a Session.
type Option func(s *Session)

// WithServerName sets the downstream name the session is routed to.
func WithServerName(name string) Option {
	return func(s *Session) {
		s.serverName = name
	}
}

// WithProcessor sets the message hook; the default passes messages through.
func WithProcessor(p processor.Processor) Option {
	return func(s *Session) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithAuthPayload sets the value produced by authorization.
func WithAuthPayload(payload any) Option {
	return func(s *Session) {
		s.authPayload = payload
	}
}

// WithCloseListener registers fn to run once when the session closes.
func WithCloseListener(fn func(s *Session)) Option {
	return func(s *Session) {
		s.onClose = fn
	}
}
