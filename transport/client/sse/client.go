// Package sse implements the outbound long-lived HTTP event-stream transport: a GET
// stream carrying server messages and an `endpoint` event naming where client
// messages are POSTed.
package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/eventstream"
)

var (
	// ErrStreamDisconnected is reported when the event stream ends unexpectedly.
	ErrStreamDisconnected = errors.New("SSE stream disconnected")
	// ErrMaxReconnects is reported when re-opening the stream gave up.
	ErrMaxReconnects = errors.New("Maximum reconnection attempts exceeded")
)

// StatusError reports a non-200 answer to the stream request.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("SSE error: Non-200 status code (%d)", e.Code)
}

// Client is an event-stream transport.
type Client struct {
	*transport.Pipe
	url             *url.URL
	headers         map[string]string
	httpClient      *http.Client
	maxReconnects   int
	endpointTimeout time.Duration

	mux      sync.Mutex
	endpoint string
	cancel   context.CancelFunc
	closing  bool
}

// New creates a transport for the stream at URL.
func New(URL string, options ...Option) (*Client, error) {
	if URL == "" {
		return nil, errors.New("URL is required for sse transport")
	}
	parsed, err := url.Parse(URL)
	if err != nil {
		return nil, fmt.Errorf("invalid sse URL %q: %w", URL, err)
	}
	ret := &Client{
		Pipe:            transport.NewPipe(),
		url:             parsed,
		headers:         map[string]string{},
		httpClient:      http.DefaultClient,
		endpointTimeout: 30 * time.Second,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret, nil
}

// Start opens the stream and waits for the endpoint event.
func (c *Client) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	c.mux.Lock()
	c.cancel = cancel
	c.mux.Unlock()
	body, err := c.open(streamCtx)
	if err != nil {
		cancel()
		return err
	}
	endpoints := make(chan string, 1)
	go c.read(streamCtx, body, endpoints)

	timer := time.NewTimer(c.endpointTimeout)
	defer timer.Stop()
	select {
	case <-endpoints:
		return nil
	case <-c.Done():
		select {
		case <-endpoints:
			return nil
		default:
			return ErrStreamDisconnected
		}
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	case <-timer.C:
		_ = c.Close()
		return errors.New("timeout waiting for SSE endpoint event")
	}
}

func (c *Client) open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SSE error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp.Body, nil
}

func (c *Client) read(ctx context.Context, body io.ReadCloser, endpoints chan string) {
	attempts := 0
	for {
		if body != nil {
			c.consume(body, endpoints)
			body.Close()
		}
		if c.isClosing() || ctx.Err() != nil {
			c.Finish()
			return
		}
		if attempts >= c.maxReconnects {
			if c.maxReconnects > 0 {
				c.Fail(ErrMaxReconnects)
			} else {
				c.Fail(ErrStreamDisconnected)
			}
			c.Finish()
			return
		}
		attempts++
		var err error
		if body, err = c.open(ctx); err != nil {
			c.Fail(err)
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				c.Finish()
				return
			}
			body = nil
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempts) * 500 * time.Millisecond):
			}
		}
	}
}

func (c *Client) consume(body io.Reader, endpoints chan string) {
	reader := eventstream.NewReader(body)
	for {
		event, err := reader.Next()
		if err != nil {
			return
		}
		switch event.Name {
		case "endpoint":
			endpoint, err := c.url.Parse(event.Data)
			if err != nil {
				c.Fail(fmt.Errorf("invalid SSE endpoint %q: %w", event.Data, err))
				continue
			}
			c.mux.Lock()
			c.endpoint = endpoint.String()
			c.mux.Unlock()
			select {
			case endpoints <- c.endpoint:
			default:
			}
		case "", "message":
			msg, err := message.Parse([]byte(event.Data))
			if err != nil {
				c.Fail(err)
				continue
			}
			c.Deliver(msg)
		}
	}
}

// Send POSTs msg to the endpoint announced by the stream.
func (c *Client) Send(ctx context.Context, msg *message.Message) error {
	if c.Finished() {
		return transport.ErrClosed
	}
	c.mux.Lock()
	endpoint := c.endpoint
	c.mux.Unlock()
	if endpoint == "" {
		return errors.New("Not connected")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msg.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("Error POSTing to endpoint (HTTP %d): %s", resp.StatusCode, bytes.TrimSpace(text))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close stops the stream.
func (c *Client) Close() error {
	c.mux.Lock()
	c.closing = true
	cancel := c.cancel
	c.mux.Unlock()
	if cancel != nil {
		cancel()
	}
	c.Finish()
	return nil
}

// Endpoint returns the message URL announced by the server.
func (c *Client) Endpoint() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.endpoint
}

func (c *Client) isClosing() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closing
}
