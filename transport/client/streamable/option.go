package streamable

import "net/http"

// Option configures a streamable HTTP transport.
type Option func(c *Client)

// WithHTTPClient sets the HTTP client.
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

// WithListening opens a standalone GET stream once the server assigned a session,
// to receive messages not tied to a request.
func WithListening(flag bool) Option {
	return func(c *Client) {
		c.listen = flag
	}
}
