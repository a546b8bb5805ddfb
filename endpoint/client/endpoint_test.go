package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/session"
	"github.com/viant/mcp-bridge/transport"
)

const helperEnv = "CLIENT_ENDPOINT_HELPER"

// TestMain lets the test binary act as a downstream server process.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		runHelper(mode)
		return
	}
	os.Exit(m.Run())
}

func runHelper(mode string) {
	if mode == "silent" {
		return
	}
	if mode == "noise" {
		fmt.Println("starting echo server v1")
		fmt.Fprintln(os.Stderr, "listening on stdio")
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params struct {
				Arguments struct {
					Message string `json:"message"`
				} `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || len(req.ID) == 0 {
			continue
		}
		switch req.Method {
		case "initialize":
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"echo","version":"1"}}}`+"\n", req.ID)
		case "tools/call":
			if mode == "exit-on-call" {
				os.Exit(1)
			}
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"Echo: %s"}]}}`+"\n", req.ID, req.Params.Arguments.Message)
			if mode == "noise" {
				fmt.Println("done handling call")
			}
		}
	}
}

type inbound struct {
	*transport.Pipe
	mux  sync.Mutex
	sent []*message.Message
	news chan *message.Message
}

func newInbound() *inbound {
	return &inbound{Pipe: transport.NewPipe(), news: make(chan *message.Message, 16)}
}

func (i *inbound) Start(context.Context) error { return nil }

func (i *inbound) Send(_ context.Context, msg *message.Message) error {
	if i.Finished() {
		return transport.ErrClosed
	}
	i.mux.Lock()
	i.sent = append(i.sent, msg)
	i.mux.Unlock()
	i.news <- msg
	return nil
}

func (i *inbound) Close() error {
	i.Finish()
	return nil
}

func (i *inbound) next(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-i.news:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for inbound message")
		return nil
	}
}

func stdioConfig(mode string) *Config {
	return &Config{Type: KindStdio, Command: os.Args[0], Env: []string{helperEnv + "=" + mode}}
}

type closeSignal chan struct{}

func (c closeSignal) listener(*session.Session) { close(c) }

func (c closeSignal) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(5 * time.Second):
		t.Fatal("session was not closed")
	}
}

const (
	toolsCall   = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`
	toolsResult = `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"Echo: hi"}]}}`
)

func TestStdioEndpoint_Echo(t *testing.T) {
	ctx := context.Background()
	endpoint, err := New("", stdioConfig("echo"))
	require.NoError(t, err)
	in := newInbound()
	aSession := session.New("s1", in, endpoint)
	require.NoError(t, aSession.Start(ctx))
	defer aSession.Close(ctx)

	require.True(t, in.Deliver(message.MustParse(toolsCall)))
	assert.Equal(t, toolsResult, in.next(t).String())
}

func TestStdioEndpoint_PendingOnExit(t *testing.T) {
	ctx := context.Background()
	endpoint, err := New("", stdioConfig("exit-on-call"))
	require.NoError(t, err)
	in := newInbound()
	closed := make(closeSignal)
	var answeredBeforeClose bool
	aSession := session.New("s1", in, endpoint, session.WithCloseListener(func(s *session.Session) {
		in.mux.Lock()
		for _, msg := range in.sent {
			answeredBeforeClose = answeredBeforeClose || (msg.IsError() && msg.IDKey() == "1")
		}
		in.mux.Unlock()
		closed.listener(s)
	}))
	require.NoError(t, aSession.Start(ctx))

	require.True(t, in.Deliver(message.MustParse(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{}}`)))
	assert.Equal(t, "0", in.next(t).IDKey())
	require.True(t, in.Deliver(message.MustParse(toolsCall)))

	reply := in.next(t)
	require.NotNil(t, reply.Error())
	assert.Equal(t, "1", reply.IDKey())
	assert.Equal(t, message.InternalError, reply.Error().Code)
	assert.Equal(t, PendingClosed, reply.Error().Message)

	closed.wait(t)
	assert.True(t, answeredBeforeClose)
	select {
	case extra := <-in.news:
		t.Fatalf("unexpected message after close: %s", extra)
	default:
	}
}

func TestStdioEndpoint_SpawnFailure(t *testing.T) {
	ctx := context.Background()
	endpoint, err := New("", &Config{Type: KindStdio, Command: "/nonexistent/mcp-server"})
	require.NoError(t, err)
	in := newInbound()
	closed := make(closeSignal)
	aSession := session.New("s1", in, endpoint, session.WithCloseListener(closed.listener))
	require.NoError(t, aSession.Start(ctx))

	require.True(t, in.Deliver(message.MustParse(toolsCall)))
	reply := in.next(t)
	require.NotNil(t, reply.Error())
	assert.Equal(t, "1", reply.IDKey())
	assert.Equal(t, PendingClosed, reply.Error().Message)
	closed.wait(t)
	require.Eventually(t, func() bool { return len(endpoint.Logs()) > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStdioEndpoint_SilentExitClosesSession(t *testing.T) {
	ctx := context.Background()
	endpoint, err := New("", stdioConfig("silent"))
	require.NoError(t, err)
	in := newInbound()
	closed := make(closeSignal)
	aSession := session.New("s1", in, endpoint, session.WithCloseListener(closed.listener))
	require.NoError(t, aSession.Start(ctx))

	closed.wait(t)
	assert.False(t, aSession.IsActive())
	in.mux.Lock()
	assert.Empty(t, in.sent)
	in.mux.Unlock()
}

func TestStdioEndpoint_Noise(t *testing.T) {
	ctx := context.Background()
	endpoint, err := New("", stdioConfig("noise"))
	require.NoError(t, err)
	in := newInbound()
	aSession := session.New("s1", in, endpoint)
	require.NoError(t, aSession.Start(ctx))
	defer aSession.Close(ctx)

	require.True(t, in.Deliver(message.MustParse(toolsCall)))
	// the reply and the error for the trailing line travel on separate channels
	var result, trailing *message.Message
	for i := 0; i < 2; i++ {
		msg := in.next(t)
		if msg.IsError() {
			trailing = msg
			continue
		}
		result = msg
	}
	require.NotNil(t, result, "startup noise is not a protocol error")
	assert.Equal(t, toolsResult, result.String())
	require.NotNil(t, trailing)
	assert.Equal(t, `"error"`, trailing.IDKey())
	assert.Equal(t, message.InternalError, trailing.Error().Code)
	assert.Contains(t, trailing.Error().Message, "done handling call")

	require.Eventually(t, func() bool {
		var stdout, stderr bool
		for _, entry := range endpoint.Logs() {
			stdout = stdout || (entry.Source == "stdout" && entry.Text == "starting echo server v1")
			stderr = stderr || (entry.Source == "stderr" && entry.Text == "listening on stdio")
		}
		return stdout && stderr
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStdioEndpoint_CloseSessionIsSilent(t *testing.T) {
	ctx := context.Background()
	endpoint, err := NewStdio("a", stdioConfig("echo"))
	require.NoError(t, err)
	in := newInbound()
	var closes int32
	aSession := session.New("s1", in, endpoint, session.WithCloseListener(func(*session.Session) {
		atomic.AddInt32(&closes, 1)
	}))
	require.NoError(t, endpoint.StartSession(ctx, aSession))
	assert.Equal(t, 1, endpoint.Connections())
	require.NoError(t, endpoint.CloseSession(ctx, aSession))
	assert.Equal(t, 0, endpoint.Connections())
	assert.True(t, aSession.IsActive())
	assert.Equal(t, int32(0), atomic.LoadInt32(&closes))
	select {
	case msg := <-in.news:
		t.Fatalf("unexpected message: %s", msg)
	default:
	}

	err = endpoint.SendMessage(ctx, aSession, message.MustParse(toolsCall))
	assert.Error(t, err)
	reply := in.next(t)
	assert.Equal(t, message.ConnectionClosed, reply.Error().Code)
}

func TestSSEEndpoint_ReconnectIsRejected(t *testing.T) {
	var gets int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: endpoint\ndata: /message\n\n"))
	}))
	defer server.Close()

	ctx := context.Background()
	endpoint, err := New("", &Config{Type: "event-stream", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, KindSSE, endpoint.Kind())
	in := newInbound()
	closed := make(closeSignal)
	aSession := session.New("s1", in, endpoint, session.WithCloseListener(closed.listener))
	require.NoError(t, aSession.Start(ctx))

	reply := in.next(t)
	require.NotNil(t, reply.Error())
	assert.Equal(t, `"error"`, reply.IDKey())
	assert.Equal(t, message.ConnectionClosed, reply.Error().Code)
	assert.Contains(t, reply.Error().Message, "(401)")
	closed.wait(t)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gets))
}

func TestStreamableEndpoint_SessionTerminated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.Header.Get("Mcp-Session-Id") == "":
			w.Header().Set("Mcp-Session-Id", "abc")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":0,"result":{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"remote","version":"1"}}}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	endpoint, err := New("", &Config{Type: "http", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, KindStreamable, endpoint.Kind())
	in := newInbound()
	aSession := session.New("s1", in, endpoint)
	require.NoError(t, aSession.Start(ctx))
	defer aSession.Close(ctx)

	require.True(t, in.Deliver(message.MustParse(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{}}`)))
	require.True(t, in.Deliver(message.MustParse(toolsCall)))

	replies := map[string]*message.Message{}
	for i := 0; i < 3; i++ {
		msg := in.next(t)
		replies[msg.IDKey()] = msg
	}
	require.Contains(t, replies, "0")
	assert.Nil(t, replies["0"].Error())

	for _, id := range []string{"1", `"error"`} {
		reply, ok := replies[id]
		require.True(t, ok, id)
		require.NotNil(t, reply.Error(), id)
		assert.Equal(t, message.ConnectionClosed, reply.Error().Code, id)
		assert.Contains(t, reply.Error().Message, "Session terminated", id)
	}
}

func TestFetchGuard(t *testing.T) {
	var calls int32
	guard := &fetchGuard{base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	})}
	stream := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://downstream/sse", nil)
		req.Header.Set("Accept", "text/event-stream")
		return req
	}

	resp, err := guard.RoundTrip(stream())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, err = guard.RoundTrip(httptest.NewRequest(http.MethodPost, "http://downstream/message", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, err = guard.RoundTrip(stream())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestErrorCode(t *testing.T) {
	var testCases = []struct {
		err    error
		expect int
	}{
		{err: errors.New("Connection terminated: process exited"), expect: message.ConnectionClosed},
		{err: errors.New("SSE stream disconnected"), expect: message.ConnectionClosed},
		{err: errors.New("Maximum reconnection attempts exceeded"), expect: message.ConnectionClosed},
		{err: errors.New("Session terminated"), expect: message.ConnectionClosed},
		{err: errors.New("SSE error: Non-200 status code (401)"), expect: message.ConnectionClosed},
		{err: errors.New("Unauthorized"), expect: message.ConnectionClosed},
		{err: errors.New("Error POSTing to endpoint (HTTP 500): boom"), expect: message.InternalError},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expect, ErrorCode(tc.err), tc.err.Error())
	}
	msg := ErrorMessage(nil, errors.New("boom"))
	assert.Equal(t, `"error"`, msg.IDKey())
	assert.Equal(t, "boom", msg.Error().Message)
}

func TestConfig_Validate(t *testing.T) {
	var testCases = []struct {
		description string
		config      Config
		expectErr   string
	}{
		{description: "stdio", config: Config{Type: "stdio", Command: "server"}},
		{description: "default kind", config: Config{Command: "server"}},
		{description: "stdio without command", config: Config{Type: "stdio"}, expectErr: "command is required for stdio transport"},
		{description: "sse without url", config: Config{Type: "sse"}, expectErr: "url is required for sse transport"},
		{description: "session-http", config: Config{Type: "session-http", URL: "http://localhost/mcp"}},
		{description: "oauth2 incomplete", config: Config{Type: "streamable", URL: "http://localhost/mcp", OAuth2: &OAuth2{ClientID: "x"}}, expectErr: "oauth2 requires clientId and tokenURL"},
		{description: "unknown", config: Config{Type: "websocket", URL: "ws://localhost"}, expectErr: "unsupported transport type: websocket"},
	}
	for _, tc := range testCases {
		err := tc.config.Validate()
		if tc.expectErr != "" {
			assert.EqualError(t, err, tc.expectErr, tc.description)
			continue
		}
		assert.NoError(t, err, tc.description)
	}
	_, err := New("a", &Config{Type: "stdio"})
	assert.Error(t, err)
}

func TestConfig_Equal(t *testing.T) {
	a := &Config{Type: "stdio", Command: "x", Args: []string{"1"}}
	b := &Config{Type: "", Command: "x", Args: []string{"1"}}
	assert.True(t, a.Equal(b))
	b.Args = []string{"2"}
	assert.False(t, a.Equal(b))
}

func TestLogBuffer(t *testing.T) {
	buffer := NewLogBuffer(LogCapacity)
	for i := 0; i < LogCapacity+5; i++ {
		buffer.Add(LogEntry{Source: "stderr", Text: fmt.Sprintf("line %d", i)})
	}
	entries := buffer.Entries()
	require.Len(t, entries, LogCapacity)
	assert.Equal(t, "line 5", entries[0].Text)
	assert.Equal(t, fmt.Sprintf("line %d", LogCapacity+4), entries[LogCapacity-1].Text)
}
