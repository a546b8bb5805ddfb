// Package streamable implements the inbound session-oriented HTTP transport. One
// Transport serves every HTTP request carrying its session id.
package streamable

import (
	"context"
	"net/http"
	"sync"

	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/eventstream"
)

// SessionHeader carries the session id in both directions.
const SessionHeader = "Mcp-Session-Id"

// maxBacklog bounds unsolicited messages kept while no stream is open.
const maxBacklog = 100

type stream struct {
	writer    *eventstream.Writer
	remaining int
	done      chan struct{}
}

func (s *stream) write(msg *message.Message) error {
	return s.writer.WriteEvent("message", msg.Bytes())
}

// Transport is an inbound streamable HTTP session.
type Transport struct {
	*transport.Pipe
	id         string
	mux        sync.Mutex
	requests   map[string]*stream
	posts      []*stream
	standalone *stream
	backlog    []*message.Message
}

// New creates a transport for session id.
func New(id string) *Transport {
	return &Transport{
		Pipe:     transport.NewPipe(),
		id:       id,
		requests: map[string]*stream{},
	}
}

// SessionID returns the session id.
func (t *Transport) SessionID() string { return t.id }

// Start is a no-op: the transport is driven by HTTP requests.
func (t *Transport) Start(_ context.Context) error { return nil }

// HandlePost delivers msgs. Requests are answered on an event stream that ends once
// every request of this POST has its response; other POSTs get 202.
func (t *Transport) HandlePost(w http.ResponseWriter, r *http.Request, msgs []*message.Message) {
	if t.Finished() {
		http.Error(w, "Session terminated", http.StatusNotFound)
		return
	}
	w.Header().Set(SessionHeader, t.id)
	var requestIDs []string
	for _, msg := range msgs {
		if msg.IsRequest() {
			requestIDs = append(requestIDs, msg.IDKey())
		}
	}
	if len(requestIDs) == 0 {
		for _, msg := range msgs {
			t.Deliver(msg)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writer, err := eventstream.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	st := &stream{writer: writer, remaining: len(requestIDs), done: make(chan struct{})}
	t.mux.Lock()
	for _, id := range requestIDs {
		t.requests[id] = st
	}
	t.posts = append(t.posts, st)
	t.mux.Unlock()
	writer.Open(http.StatusOK)

	for _, msg := range msgs {
		t.Deliver(msg)
	}
	select {
	case <-st.done:
	case <-r.Context().Done():
	case <-t.Done():
	}
	t.mux.Lock()
	for _, id := range requestIDs {
		if t.requests[id] == st {
			delete(t.requests, id)
		}
	}
	for i, candidate := range t.posts {
		if candidate == st {
			t.posts = append(t.posts[:i], t.posts[i+1:]...)
			break
		}
	}
	t.mux.Unlock()
	writer.Close()
}

// HandleGet serves the standalone stream for messages not tied to a request.
func (t *Transport) HandleGet(w http.ResponseWriter, r *http.Request) {
	if t.Finished() {
		http.Error(w, "Session terminated", http.StatusNotFound)
		return
	}
	writer, err := eventstream.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	st := &stream{writer: writer, done: make(chan struct{})}
	t.mux.Lock()
	if t.standalone != nil {
		t.mux.Unlock()
		http.Error(w, "Only one SSE stream is allowed per session", http.StatusConflict)
		return
	}
	w.Header().Set(SessionHeader, t.id)
	writer.Open(http.StatusOK)
	t.standalone = st
	backlog := t.backlog
	t.backlog = nil
	for _, msg := range backlog {
		_ = st.write(msg)
	}
	t.mux.Unlock()

	select {
	case <-r.Context().Done():
	case <-t.Done():
	}
	t.mux.Lock()
	if t.standalone == st {
		t.standalone = nil
	}
	t.mux.Unlock()
	writer.Close()
}

// HandleDelete terminates the session.
func (t *Transport) HandleDelete(w http.ResponseWriter, _ *http.Request) {
	t.Finish()
	w.WriteHeader(http.StatusOK)
}

// Send routes a response to the stream of its request; anything else goes to the
// standalone stream, the latest open POST stream, or the backlog.
func (t *Transport) Send(_ context.Context, msg *message.Message) error {
	if t.Finished() {
		return transport.ErrClosed
	}
	t.mux.Lock()
	defer t.mux.Unlock()
	if msg.IsResponse() {
		if st, ok := t.requests[msg.IDKey()]; ok {
			delete(t.requests, msg.IDKey())
			err := st.write(msg)
			st.remaining--
			if st.remaining == 0 {
				close(st.done)
			}
			return err
		}
	}
	switch {
	case t.standalone != nil:
		return t.standalone.write(msg)
	case len(t.posts) > 0:
		return t.posts[len(t.posts)-1].write(msg)
	}
	if len(t.backlog) >= maxBacklog {
		t.backlog = t.backlog[1:]
	}
	t.backlog = append(t.backlog, msg)
	return nil
}

// Close ends the session; open streams are released.
func (t *Transport) Close() error {
	t.Finish()
	return nil
}
