// Package streamable implements the outbound session-oriented HTTP transport: every
// message is POSTed to a single URL and replies come back either as a JSON body or as
// an event stream on the POST response.
package streamable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/transport"
	"github.com/viant/mcp-bridge/transport/eventstream"
)

// SessionHeader carries the server-assigned session id.
const SessionHeader = "Mcp-Session-Id"

// ErrSessionTerminated is returned when the server no longer knows the session.
var ErrSessionTerminated = errors.New("Session terminated")

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Streamable HTTP error: Non-200 status code (%d)", e.Code)
	}
	return fmt.Sprintf("Streamable HTTP error: Non-200 status code (%d): %s", e.Code, e.Body)
}

type outgoing struct {
	msg    *message.Message
	result chan error
}

// Client is a streamable HTTP transport.
type Client struct {
	*transport.Pipe
	url        string
	headers    map[string]string
	httpClient *http.Client
	listen     bool

	queue     chan outgoing
	ctx       context.Context
	cancel    context.CancelFunc
	mux       sync.Mutex
	sessionID string
	started   bool
}

// New creates a transport posting to URL.
func New(URL string, options ...Option) (*Client, error) {
	if URL == "" {
		return nil, errors.New("URL is required for streamable transport")
	}
	ctx, cancel := context.WithCancel(context.Background())
	ret := &Client{
		Pipe:       transport.NewPipe(),
		url:        URL,
		headers:    map[string]string{},
		httpClient: http.DefaultClient,
		queue:      make(chan outgoing),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret, nil
}

// Start launches the sender. No request is made until the first Send.
func (c *Client) Start(_ context.Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.started {
		return errors.New("streamable transport already started")
	}
	c.started = true
	go c.sendLoop()
	return nil
}

// SessionID returns the id assigned by the server.
func (c *Client) SessionID() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.sessionID
}

// Send POSTs msg. It returns once the response status is known; the response body is
// consumed in the background. POSTs leave in Send order.
func (c *Client) Send(ctx context.Context, msg *message.Message) error {
	item := outgoing{msg: msg, result: make(chan error, 1)}
	select {
	case c.queue <- item:
	case <-c.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-item.result:
		return err
	case <-c.Done():
		return transport.ErrClosed
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case item := <-c.queue:
			item.result <- c.post(item.msg)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) newRequest(method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(c.ctx, method, c.url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if sessionID := c.SessionID(); sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	return req, nil
}

func (c *Client) post(msg *message.Message) error {
	req, err := c.newRequest(http.MethodPost, bytes.NewReader(msg.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	if sessionID := resp.Header.Get(SessionHeader); sessionID != "" {
		c.assignSession(sessionID)
	}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
		return nil
	case resp.StatusCode == http.StatusNotFound && c.SessionID() != "":
		resp.Body.Close()
		return ErrSessionTerminated
	case resp.StatusCode/100 != 2:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(text))}
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		go c.consume(resp.Body)
		return nil
	case "application/json":
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		msgs, err := message.ParseBatch(data)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			c.Deliver(m)
		}
		return nil
	default:
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %q", resp.Header.Get("Content-Type"))
	}
}

func (c *Client) assignSession(sessionID string) {
	c.mux.Lock()
	first := c.sessionID == ""
	c.sessionID = sessionID
	c.mux.Unlock()
	if first && c.listen {
		go c.openStandaloneStream()
	}
}

// openStandaloneStream is optional on the server side: 405 means it is not offered.
func (c *Client) openStandaloneStream() {
	req, err := c.newRequest(http.MethodGet, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.ctx.Err() == nil {
			c.Fail(err)
		}
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusMethodNotAllowed:
		case http.StatusNotFound:
			c.Fail(ErrSessionTerminated)
		default:
			c.Fail(&StatusError{Code: resp.StatusCode})
		}
		return
	}
	c.consume(resp.Body)
}

func (c *Client) consume(body io.ReadCloser) {
	defer body.Close()
	reader := eventstream.NewReader(body)
	for {
		event, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && c.ctx.Err() == nil {
				c.Fail(fmt.Errorf("SSE stream disconnected: %w", err))
			}
			return
		}
		if event.Name != "" && event.Name != "message" {
			continue
		}
		msg, err := message.Parse([]byte(event.Data))
		if err != nil {
			c.Fail(err)
			continue
		}
		c.Deliver(msg)
	}
}

// Close terminates the server session (best effort) and stops the transport.
func (c *Client) Close() error {
	if c.Finished() {
		return nil
	}
	if c.SessionID() != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
		if err == nil {
			for k, v := range c.headers {
				req.Header.Set(k, v)
			}
			req.Header.Set(SessionHeader, c.SessionID())
			if resp, err := c.httpClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
		cancel()
	}
	c.cancel()
	c.Finish()
	return nil
}
