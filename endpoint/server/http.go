package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/viant/mcp-bridge/endpoint/client"
	"github.com/viant/mcp-bridge/internal/logx"
	"github.com/viant/mcp-bridge/internal/metrics"
	"github.com/viant/mcp-bridge/message"
)

const (
	// LogsURI serves the client endpoint log buffers.
	LogsURI = "/.bridge/logs"
	// MetricsURI serves prometheus metrics.
	MetricsURI = "/metrics"

	maxBodySize = 4 * 1024 * 1024
)

// httpServer is shared by the HTTP kinds.
type httpServer struct {
	*base
	addr           string
	allowedOrigins []string

	mux      sync.Mutex
	server   *http.Server
	listener net.Listener
}

func newHTTPServer(kind string, o *options) *httpServer {
	return &httpServer{
		base:           newBase(kind, o),
		addr:           o.addr,
		allowedOrigins: o.allowedOrigins,
	}
}

// router builds the middleware chain and operator routes; mount adds the protocol routes.
func (h *httpServer) router(mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer, requestLogger)
	r.Use(corsMiddleware(h.allowedOrigins))
	r.Use(originValidationMiddleware(h.allowedOrigins), protocolVersionMiddleware())
	r.Method(http.MethodGet, MetricsURI, metrics.Handler())
	r.Get(LogsURI, h.handleLogs)
	mount(r)
	return r
}

// listen binds the address and serves handler in the background.
func (h *httpServer) listen(handler http.Handler) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", h.addr, err)
	}
	server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	h.mux.Lock()
	h.server = server
	h.listener = listener
	h.mux.Unlock()
	logx.Log.Info().Str("kind", h.kind).Str("addr", listener.Addr().String()).Strs("servers", h.names()).Msg("server endpoint listening")
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Log.Error().Err(err).Str("kind", h.kind).Msg("http server failed")
			h.finish()
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (h *httpServer) Addr() string {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Stop closes every session, shuts the HTTP server down and optionally exits.
func (h *httpServer) Stop(ctx context.Context, terminateProcess bool) error {
	return h.stop(ctx, terminateProcess, h.shutdown)
}

func (h *httpServer) shutdown(ctx context.Context) error {
	h.mux.Lock()
	server := h.server
	h.mux.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// client returns the client endpoint routed by the name path segment.
func (h *httpServer) client(r *http.Request) (string, client.Endpoint, bool) {
	name := chi.URLParam(r, "name")
	endpoint, ok := h.clients.Get(name)
	return name, endpoint, ok
}

func (h *httpServer) authorize(r *http.Request, name string) (any, error) {
	payload, err := h.processor.Authorize(r.Context(), name, r.Header.Get("Authorization"))
	if err != nil {
		logx.Log.Warn().Err(err).Str("server", name).Str("remote", r.RemoteAddr).Msg("inbound connection rejected")
		return nil, err
	}
	return payload, nil
}

func (h *httpServer) handleLogs(w http.ResponseWriter, _ *http.Request) {
	logs := map[string][]client.LogEntry{}
	for name, endpoint := range h.ClientEndpoints() {
		logs[name] = endpoint.Logs()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(logs)
}

// writeError answers with a JSON-RPC error envelope.
func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(message.NewError(id, code, text).Bytes())
}
