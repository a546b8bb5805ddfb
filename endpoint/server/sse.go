package server

import (
	"context"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/viant/mcp-bridge/processor"
	serversse "github.com/viant/mcp-bridge/transport/server/sse"
)

// SSE paths, prefixed with /{name} for named client endpoints.
const (
	SSEURI     = "/sse"
	MessageURI = "/message"
)

// SSEEndpoint serves one session per event-stream GET.
type SSEEndpoint struct {
	*httpServer
}

// NewSSE creates an event-stream server endpoint.
func NewSSE(options ...Option) *SSEEndpoint {
	return &SSEEndpoint{httpServer: newHTTPServer(KindSSE, loadOptions(options))}
}

// Start listens for clients.
func (e *SSEEndpoint) Start(_ context.Context, p processor.Processor) error {
	e.setProcessor(p)
	return e.listen(e.Handler())
}

// Handler returns the HTTP handler of the endpoint.
func (e *SSEEndpoint) Handler() http.Handler {
	return e.router(func(r chi.Router) {
		r.Get(SSEURI, e.handleStream)
		r.Post(MessageURI, e.handleMessage)
		r.Get("/{name}"+SSEURI, e.handleStream)
		r.Post("/{name}"+MessageURI, e.handleMessage)
	})
}

func (e *SSEEndpoint) handleStream(w http.ResponseWriter, r *http.Request) {
	name, endpoint, ok := e.client(r)
	if !ok {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	payload, err := e.authorize(r, name)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	inbound, err := serversse.New(w, path.Join(path.Dir(r.URL.Path), MessageURI))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	aSession := e.newSession(inbound.SessionID(), inbound, endpoint, name, payload)
	if err = e.open(r.Context(), aSession); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	inbound.Serve(r.Context())
}

func (e *SSEEndpoint) handleMessage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := r.URL.Query().Get(serversse.SessionParameter)
	if id == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}
	aSession, ok := e.sessionFor(id, name)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	inbound, ok := aSession.Transport().(*serversse.Transport)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	inbound.HandlePost(w, r)
}
