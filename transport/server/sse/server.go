// Package sse implements the inbound event-stream transport. One Transport is bound to
// one GET response; the client POSTs its messages to the announced endpoint.
package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/eventstream"
)

// SessionParameter is the query parameter naming the session on message POSTs.
const SessionParameter = "sessionId"

const maxBodySize = 4 * 1024 * 1024

// Transport is an inbound event-stream connection.
type Transport struct {
	*transport.Pipe
	id          string
	endpointURI string
	writer      *eventstream.Writer
}

// New binds a transport to w. endpointURI is the path the client POSTs to.
func New(w http.ResponseWriter, endpointURI string) (*Transport, error) {
	writer, err := eventstream.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &Transport{
		Pipe:        transport.NewPipe(),
		id:          uuid.NewString(),
		endpointURI: endpointURI,
		writer:      writer,
	}, nil
}

// SessionID returns the transport-assigned session id.
func (t *Transport) SessionID() string { return t.id }

// Start announces the message endpoint.
func (t *Transport) Start(_ context.Context) error {
	separator := "?"
	if strings.Contains(t.endpointURI, "?") {
		separator = "&"
	}
	endpoint := t.endpointURI + separator + SessionParameter + "=" + url.QueryEscape(t.id)
	t.writer.Open(http.StatusOK)
	return t.writer.WriteEvent("endpoint", []byte(endpoint))
}

// Serve blocks until the transport is closed or the client goes away.
func (t *Transport) Serve(ctx context.Context) {
	select {
	case <-ctx.Done():
		t.Finish()
	case <-t.Done():
	}
	t.writer.Close()
}

// HandlePost accepts one client message.
func (t *Transport) HandlePost(w http.ResponseWriter, r *http.Request) {
	if t.Finished() {
		http.Error(w, "SSE connection not established", http.StatusInternalServerError)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := message.Parse(data)
	if err != nil {
		t.Fail(fmt.Errorf("invalid message: %w", err))
		http.Error(w, "Invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !t.Deliver(msg) {
		http.Error(w, "SSE connection closed", http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// Send writes msg as a message event.
func (t *Transport) Send(_ context.Context, msg *message.Message) error {
	if t.Finished() {
		return transport.ErrClosed
	}
	return t.writer.WriteEvent("message", msg.Bytes())
}

// Close ends the stream; the GET handler returns once Serve observes it.
func (t *Transport) Close() error {
	t.Finish()
	return nil
}
