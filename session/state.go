package session

import "github.com/viant/mcp-bridge/message"

// state is one of active, reconfiguring or closed.
type state interface {
	name() string
}

type active struct{}

// reconfiguring holds at most one message received while the client endpoint is swapped.
type reconfiguring struct {
	pending *message.Message
}

type closed struct{}

func (active) name() string        { return "active" }
func (reconfiguring) name() string { return "reconfiguring" }
func (closed) name() string        { return "closed" }
