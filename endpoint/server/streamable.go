package server

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/processor"
	serverstreamable "github.com/viant/mcp-bridge/transport/server/streamable"
)

// StreamableURI is the session-HTTP path, prefixed with /{name} for named client
// endpoints.
const StreamableURI = "/mcp"

// StreamableEndpoint serves session-HTTP clients keyed by the Mcp-Session-Id header.
type StreamableEndpoint struct {
	*httpServer
}

// NewStreamable creates a session-HTTP server endpoint.
func NewStreamable(options ...Option) *StreamableEndpoint {
	return &StreamableEndpoint{httpServer: newHTTPServer(KindStreamable, loadOptions(options))}
}

// Start listens for clients.
func (e *StreamableEndpoint) Start(_ context.Context, p processor.Processor) error {
	e.setProcessor(p)
	return e.listen(e.Handler())
}

// Handler returns the HTTP handler of the endpoint.
func (e *StreamableEndpoint) Handler() http.Handler {
	return e.router(func(r chi.Router) {
		for _, pattern := range []string{StreamableURI, "/{name}" + StreamableURI} {
			r.Post(pattern, e.handlePost)
			r.Get(pattern, e.handleGet)
			r.Delete(pattern, e.handleDelete)
		}
	})
}

func (e *StreamableEndpoint) handlePost(w http.ResponseWriter, r *http.Request) {
	name, endpoint, ok := e.client(r)
	if !ok {
		writeError(w, http.StatusNotFound, nil, message.InvalidRequest, "Not Found: unknown server")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, message.ParseError, "Parse error: "+err.Error())
		return
	}
	msgs, err := message.ParseBatch(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, message.ParseError, "Parse error: "+err.Error())
		return
	}
	if id := r.Header.Get(serverstreamable.SessionHeader); id != "" {
		inbound, ok := e.transport(id, name)
		if !ok {
			writeError(w, http.StatusUnauthorized, nil, message.ConnectionClosed, "Unauthorized: unknown session")
			return
		}
		inbound.HandlePost(w, r, msgs)
		return
	}
	if len(msgs) != 1 || !msgs[0].IsInitializeRequest() {
		writeError(w, http.StatusBadRequest, nil, message.InvalidRequest, "Bad Request: No valid session ID provided")
		return
	}
	payload, err := e.authorize(r, name)
	if err != nil {
		writeError(w, http.StatusUnauthorized, nil, message.ConnectionClosed, "Unauthorized")
		return
	}
	inbound := serverstreamable.New(uuid.NewString())
	aSession := e.newSession(inbound.SessionID(), inbound, endpoint, name, payload)
	if err = e.open(r.Context(), aSession); err != nil {
		id, _ := msgs[0].ID()
		writeError(w, http.StatusBadGateway, id, message.ConnectionClosed, err.Error())
		return
	}
	inbound.HandlePost(w, r, msgs)
}

func (e *StreamableEndpoint) handleGet(w http.ResponseWriter, r *http.Request) {
	inbound, status := e.lookup(r)
	if inbound == nil {
		writeError(w, status, nil, message.ConnectionClosed, http.StatusText(status))
		return
	}
	inbound.HandleGet(w, r)
}

func (e *StreamableEndpoint) handleDelete(w http.ResponseWriter, r *http.Request) {
	inbound, status := e.lookup(r)
	if inbound == nil {
		writeError(w, status, nil, message.ConnectionClosed, http.StatusText(status))
		return
	}
	inbound.HandleDelete(w, r)
}

// lookup resolves the session of a GET or DELETE; a nil transport comes with the status
// to answer.
func (e *StreamableEndpoint) lookup(r *http.Request) (*serverstreamable.Transport, int) {
	name := chi.URLParam(r, "name")
	id := r.Header.Get(serverstreamable.SessionHeader)
	if id == "" {
		return nil, http.StatusBadRequest
	}
	inbound, ok := e.transport(id, name)
	if !ok {
		return nil, http.StatusUnauthorized
	}
	return inbound, http.StatusOK
}

func (e *StreamableEndpoint) transport(id, name string) (*serverstreamable.Transport, bool) {
	aSession, ok := e.sessionFor(id, name)
	if !ok {
		return nil, false
	}
	inbound, ok := aSession.Transport().(*serverstreamable.Transport)
	return inbound, ok
}
