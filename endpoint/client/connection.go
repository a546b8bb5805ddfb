package client

import (
	"encoding/json"
	"sync"

	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
)

type endOutcome int

const (
	endClose endOutcome = iota
	endSkip
	endDefer
)

// connection is the downstream side of one session.
type connection struct {
	session   *session.Session
	transport transport.Transport
	pumped    chan struct{}

	mux       sync.Mutex
	pendingID json.RawMessage
	closing   bool
	ready     bool
	dead      bool
	released  bool
}

func newConnection(s *session.Session, t transport.Transport) *connection {
	return &connection{session: s, transport: t, pumped: make(chan struct{})}
}

func (c *connection) is(other *connection) bool { return c == other }

// begin records id as the pending request; false means the downstream already ended.
func (c *connection) begin(id json.RawMessage) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.dead || c.released {
		return false
	}
	c.pendingID = id
	return true
}

// settle clears the pending request when it matches key.
func (c *connection) settle(key string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.pendingID == nil || message.IDKey(c.pendingID) != key {
		return false
	}
	c.pendingID = nil
	return true
}

// end is called when the transport finished on its own. A process connection that
// never produced a message and has nothing pending stays registered as dead for a
// grace window, so a request already on its way gets an answer before the session is
// told.
func (c *connection) end(trackPending bool) (json.RawMessage, endOutcome) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closing || c.released {
		return nil, endSkip
	}
	pending := c.pendingID
	c.pendingID = nil
	if trackPending && pending == nil && !c.ready {
		c.dead = true
		return nil, endDefer
	}
	return pending, endClose
}

func (c *connection) release() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.released || c.closing {
		return false
	}
	c.released = true
	return true
}

func (c *connection) setClosing() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.closing = true
}

func (c *connection) isClosing() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closing
}

func (c *connection) markReady() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.ready = true
}

func (c *connection) markDead() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.dead = true
	c.pendingID = nil
}

func (c *connection) isDead() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.dead
}
