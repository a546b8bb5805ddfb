package sse

import (
	"net/http"
	"time"
)

// Option configures an event-stream transport.
type Option func(c *Client)

// WithHTTPClient sets the client used for the stream and for message POSTs.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithMaxReconnects sets how many times a dropped stream is re-opened.
func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		c.maxReconnects = n
	}
}

// WithEndpointTimeout bounds the wait for the endpoint event.
func WithEndpointTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.endpointTimeout = timeout
	}
}
