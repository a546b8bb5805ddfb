package client

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// fetchGuard lets one event-stream GET through per connection. Later stream requests
// come from a transparent reconnect that skips the handshake, so they are answered
// with 401 and the connection fails instead of silently losing its protocol state.
type fetchGuard struct {
	base    http.RoundTripper
	mux     sync.Mutex
	streams int
}

func (g *fetchGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
		g.mux.Lock()
		g.streams++
		count := g.streams
		g.mux.Unlock()
		if count > 1 {
			if req.Body != nil {
				_ = req.Body.Close()
			}
			return &http.Response{
				Status:     "401 Unauthorized",
				StatusCode: http.StatusUnauthorized,
				Proto:      "HTTP/1.1",
				ProtoMajor: 1,
				ProtoMinor: 1,
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Body:       io.NopCloser(strings.NewReader("Unauthorized")),
				Request:    req,
			}, nil
		}
	}
	return g.base.RoundTrip(req)
}
