package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-bridge/endpoint/client"
	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/session"
	sseclient "github.com/viant/mcp-bridge/transport/client/sse"
	streamableclient "github.com/viant/mcp-bridge/transport/client/streamable"
	serverstreamable "github.com/viant/mcp-bridge/transport/server/streamable"
)

const helperEnv = "SERVER_ENDPOINT_HELPER"

// TestMain lets the test binary act as a downstream server process.
func TestMain(m *testing.M) {
	if name := os.Getenv(helperEnv); name != "" {
		runHelper(name)
		return
	}
	os.Exit(m.Run())
}

func runHelper(name string) {
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
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":%q,"version":"1"}}}`+"\n", req.ID, name)
		case "tools/call":
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"Echo: %s"}]}}`+"\n", req.ID, req.Params.Arguments.Message)
		}
	}
}

func helperConfig(name string) *client.Config {
	return &client.Config{Type: client.KindStdio, Command: os.Args[0], Env: []string{helperEnv + "=" + name}}
}

// echoClient answers every request with the endpoint name and method.
type echoClient struct {
	name     string
	mux      sync.Mutex
	sessions map[string]*session.Session
	methods  []string
	closed   int
}

func newEchoClient(name string) *echoClient {
	return &echoClient{name: name, sessions: map[string]*session.Session{}}
}

func (c *echoClient) StartSession(_ context.Context, s *session.Session) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.sessions[s.ID()] = s
	return nil
}

func (c *echoClient) SendMessage(_ context.Context, s *session.Session, msg *message.Message) error {
	c.mux.Lock()
	c.methods = append(c.methods, msg.Method())
	c.mux.Unlock()
	if !msg.IsRequest() {
		return nil
	}
	reply := message.MustParse(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"server":%q,"method":%q}}`, msg.IDKey(), c.name, msg.Method()))
	go s.ReturnMessageToClient(context.Background(), reply)
	return nil
}

func (c *echoClient) CloseSession(_ context.Context, s *session.Session) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	delete(c.sessions, s.ID())
	return nil
}

func (c *echoClient) Name() string           { return c.name }
func (c *echoClient) Kind() string           { return client.KindStdio }
func (c *echoClient) Config() *client.Config { return helperConfig(c.name) }

func (c *echoClient) Logs() []client.LogEntry {
	return []client.LogEntry{{Source: "stderr", Text: c.name + " ready"}}
}

func (c *echoClient) Close(context.Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.closed++
	return nil
}

func (c *echoClient) received() []string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return append([]string(nil), c.methods...)
}

func (c *echoClient) connected() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.sessions)
}

type recordingProcessor struct {
	mux     sync.Mutex
	servers []string
	reject  bool
}

func (p *recordingProcessor) Authorize(_ context.Context, _ string, header string) (any, error) {
	if p.reject {
		return nil, errors.New("invalid token")
	}
	return header, nil
}

func (p *recordingProcessor) ForwardMessageToServer(_ context.Context, serverName, _ string, msg *message.Message, _ any) (*message.Message, error) {
	p.mux.Lock()
	p.servers = append(p.servers, serverName)
	p.mux.Unlock()
	return msg, nil
}

func (p *recordingProcessor) ReturnMessageToClient(_ context.Context, _ string, _ string, msg *message.Message, _ any) (*message.Message, error) {
	return msg, nil
}

func (p *recordingProcessor) observed() []string {
	p.mux.Lock()
	defer p.mux.Unlock()
	return append([]string(nil), p.servers...)
}

const initialize = `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`

func receive(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func post(t *testing.T, URL, sessionID, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, URL, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(serverstreamable.SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestStreamableEndpoint_NamedRouting(t *testing.T) {
	a, b := newEchoClient("a"), newEchoClient("b")
	proc := &recordingProcessor{}
	endpoint := NewStreamable(WithAddr("127.0.0.1:0"))
	require.NoError(t, endpoint.AddClientEndpoint("a", a))
	require.NoError(t, endpoint.AddClientEndpoint("b", b))
	assert.Error(t, endpoint.AddClientEndpoint("a", newEchoClient("a")))
	ctx := context.Background()
	require.NoError(t, endpoint.Start(ctx, proc))
	defer endpoint.Stop(ctx, false)

	inbound, err := streamableclient.New("http://" + endpoint.Addr() + "/a/mcp")
	require.NoError(t, err)
	require.NoError(t, inbound.Start(ctx))
	defer inbound.Close()

	require.NoError(t, inbound.Send(ctx, message.MustParse(initialize)))
	reply := receive(t, inbound.Messages())
	assert.JSONEq(t, `{"server":"a","method":"initialize"}`, string(reply.Result()))
	require.NotEmpty(t, inbound.SessionID())

	require.NoError(t, inbound.Send(ctx, message.MustParse(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
	reply = receive(t, inbound.Messages())
	assert.JSONEq(t, `{"server":"a","method":"tools/list"}`, string(reply.Result()))

	assert.Equal(t, []string{"initialize", "tools/list"}, a.received())
	assert.Empty(t, b.received())
	assert.Equal(t, []string{"a", "a"}, proc.observed())

	aSession, ok := endpoint.Manager().Get(inbound.SessionID())
	require.True(t, ok)
	assert.Equal(t, "a", aSession.ServerName())
	assert.Equal(t, "", aSession.AuthPayload())
}

func TestStreamableEndpoint_SessionRules(t *testing.T) {
	endpoint := NewStreamable()
	require.NoError(t, endpoint.AddClientEndpoint(DefaultName, newEchoClient("default")))
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()

	resp, body := post(t, server.URL+StreamableURI, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errMsg, err := message.Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, `"error"`, errMsg.IDKey())
	assert.Equal(t, message.InvalidRequest, errMsg.Error().Code)

	resp, _ = post(t, server.URL+StreamableURI, "unknown", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = post(t, server.URL+"/missing"+StreamableURI, "", initialize)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = post(t, server.URL+StreamableURI, "", initialize)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get(serverstreamable.SessionHeader)
	require.NotEmpty(t, sessionID)
	assert.Contains(t, body, `"method":"initialize"`)

	resp, body = post(t, server.URL+StreamableURI, sessionID, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"method":"ping"`)
	assert.Equal(t, 1, endpoint.Manager().Len())

	req, err := http.NewRequest(http.MethodDelete, server.URL+StreamableURI, nil)
	require.NoError(t, err)
	req.Header.Set(serverstreamable.SessionHeader, sessionID)
	deleted, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = deleted.Body.Close()
	assert.Equal(t, http.StatusOK, deleted.StatusCode)
	require.Eventually(t, func() bool { return endpoint.Manager().Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	get, err := http.NewRequest(http.MethodGet, server.URL+StreamableURI, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(get)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamableEndpoint_AuthorizationRejected(t *testing.T) {
	downstream := newEchoClient("default")
	endpoint := NewStreamable()
	require.NoError(t, endpoint.AddClientEndpoint(DefaultName, downstream))
	endpoint.setProcessor(&recordingProcessor{reject: true})
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()

	resp, _ := post(t, server.URL+StreamableURI, "", initialize)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(serverstreamable.SessionHeader))
	assert.Equal(t, 0, endpoint.Manager().Len())
	assert.Equal(t, 0, downstream.connected())
	assert.Empty(t, downstream.received())
}

func TestSSEEndpoint_RoundTrip(t *testing.T) {
	a, b := newEchoClient("a"), newEchoClient("b")
	endpoint := NewSSE()
	require.NoError(t, endpoint.AddClientEndpoint("a", a))
	require.NoError(t, endpoint.AddClientEndpoint("b", b))
	proc := &recordingProcessor{}
	endpoint.setProcessor(proc)
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()
	ctx := context.Background()

	inbound, err := sseclient.New(server.URL + "/b" + SSEURI)
	require.NoError(t, err)
	require.NoError(t, inbound.Start(ctx))
	assert.Contains(t, inbound.Endpoint(), "/b"+MessageURI+"?sessionId=")
	require.Equal(t, 1, endpoint.Manager().Len())

	require.NoError(t, inbound.Send(ctx, message.MustParse(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)))
	reply := receive(t, inbound.Messages())
	assert.Equal(t, "7", reply.IDKey())
	assert.JSONEq(t, `{"server":"b","method":"tools/list"}`, string(reply.Result()))
	assert.Empty(t, a.received())
	assert.Equal(t, []string{"b"}, proc.observed())

	require.NoError(t, inbound.Close())
	require.Eventually(t, func() bool { return endpoint.Manager().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.connected())
}

func TestSSEEndpoint_AuthorizationRejected(t *testing.T) {
	downstream := newEchoClient("default")
	endpoint := NewSSE()
	require.NoError(t, endpoint.AddClientEndpoint(DefaultName, downstream))
	endpoint.setProcessor(&recordingProcessor{reject: true})
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + SSEURI)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, endpoint.Manager().Len())
	assert.Equal(t, 0, downstream.connected())

	resp, err = http.Post(server.URL+MessageURI+"?sessionId=unknown", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPEndpoint_Middleware(t *testing.T) {
	endpoint := NewStreamable(WithAllowedOrigins("http://trusted.example"))
	require.NoError(t, endpoint.AddClientEndpoint(DefaultName, newEchoClient("default")))
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()

	var testCases = []struct {
		description string
		header      map[string]string
		expect      int
		echo        string
	}{
		{description: "malformed protocol version", header: map[string]string{ProtocolVersionHeader: "latest"}, expect: http.StatusBadRequest},
		{description: "revision newer than the bridge", header: map[string]string{ProtocolVersionHeader: "2025-11-25"}, expect: http.StatusOK, echo: "2025-11-25"},
		{description: "foreign origin", header: map[string]string{"Origin": "http://evil.example"}, expect: http.StatusForbidden},
		{description: "trusted origin", header: map[string]string{"Origin": "http://trusted.example", ProtocolVersionHeader: "2025-03-26"}, expect: http.StatusOK, echo: "2025-03-26"},
	}
	for _, testCase := range testCases {
		req, err := http.NewRequest(http.MethodPost, server.URL+StreamableURI, strings.NewReader(initialize))
		require.NoError(t, err)
		for k, v := range testCase.header {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, testCase.description)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, testCase.expect, resp.StatusCode, testCase.description)
		if testCase.echo != "" {
			assert.Equal(t, testCase.echo, resp.Header.Get(ProtocolVersionHeader), testCase.description)
		}
	}

	resp, err := http.Get(server.URL + LogsURI)
	require.NoError(t, err)
	defer resp.Body.Close()
	var logs map[string][]client.LogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	require.Len(t, logs[DefaultName], 1)
	assert.Equal(t, "default ready", logs[DefaultName][0].Text)

	metrics, err := http.Get(server.URL + MetricsURI)
	require.NoError(t, err)
	data, _ := io.ReadAll(metrics.Body)
	_ = metrics.Body.Close()
	assert.Contains(t, string(data), "mcp_bridge_sessions_total")
}

func TestHTTPEndpoint_Stop(t *testing.T) {
	downstream := newEchoClient("default")
	var exitCode = -1
	endpoint := NewStreamable(WithExit(func(code int) { exitCode = code }))
	require.NoError(t, endpoint.AddClientEndpoint(DefaultName, downstream))
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()

	for i := 0; i < 3; i++ {
		resp, _ := post(t, server.URL+StreamableURI, "", initialize)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 3, endpoint.Manager().Len())

	require.NoError(t, endpoint.Stop(context.Background(), true))
	assert.Equal(t, 0, exitCode)
	assert.Equal(t, 0, endpoint.Manager().Len())
	assert.Equal(t, 0, downstream.connected())
	assert.Equal(t, 1, downstream.closed)
	select {
	case <-endpoint.Done():
	default:
		t.Fatal("endpoint was not done after Stop")
	}
}

func TestEndpoint_RemoveClientEndpoint(t *testing.T) {
	a, b := newEchoClient("a"), newEchoClient("b")
	endpoint := NewStreamable()
	require.NoError(t, endpoint.AddClientEndpoint("a", a))
	require.NoError(t, endpoint.AddClientEndpoint("b", b))
	server := httptest.NewServer(endpoint.Handler())
	defer server.Close()

	for _, name := range []string{"a", "b", "a"} {
		resp, _ := post(t, server.URL+"/"+name+StreamableURI, "", initialize)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 3, endpoint.Manager().Len())

	require.NoError(t, endpoint.RemoveClientEndpoint(context.Background(), "a"))
	assert.Equal(t, 1, endpoint.Manager().Len())
	for _, s := range endpoint.Manager().Sessions() {
		assert.Equal(t, "b", s.ServerName())
	}
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 0, b.closed)
	assert.Equal(t, []string{"b"}, endpoint.names())
	assert.Error(t, endpoint.RemoveClientEndpoint(context.Background(), "a"))

	resp, _ := post(t, server.URL+"/a"+StreamableURI, "", initialize)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// lineWriter collects what the stdio endpoint writes to stdout.
type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	w <- strings.TrimSpace(string(p))
	return len(p), nil
}

func (w lineWriter) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-w:
		return line
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for stdout line")
		return ""
	}
}

func startStdio(t *testing.T, name string) (*StdioEndpoint, io.Writer, lineWriter) {
	t.Helper()
	stdinReader, stdin := io.Pipe()
	stdout := make(lineWriter, 16)
	endpoint := NewStdio(WithIO(stdinReader, stdout))
	downstream, err := client.New(DefaultName, helperConfig(name))
	require.NoError(t, err)
	require.NoError(t, endpoint.AddClientEndpoint(DefaultName, downstream))
	assert.Error(t, endpoint.AddClientEndpoint("other", downstream))
	require.NoError(t, endpoint.Start(context.Background(), nil))
	t.Cleanup(func() { _ = endpoint.Stop(context.Background(), false) })
	return endpoint, stdin, stdout
}

func TestStdioEndpoint_ExactBytes(t *testing.T) {
	endpoint, stdin, stdout := startStdio(t, "one")

	_, err := io.WriteString(stdin, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`+"\n")
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"Echo: hi"}]}}`, stdout.next(t))

	require.NoError(t, endpoint.Stop(context.Background(), false))
	select {
	case <-endpoint.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint was not done after Stop")
	}
	assert.Equal(t, 0, endpoint.Manager().Len())
}

func TestStdioEndpoint_UpdateClientEndpoint(t *testing.T) {
	endpoint, stdin, stdout := startStdio(t, "one")
	ctx := context.Background()

	_, err := io.WriteString(stdin, initialize+"\n")
	require.NoError(t, err)
	assert.Contains(t, stdout.next(t), `"name":"one"`)
	_, err = io.WriteString(stdin, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	require.NoError(t, err)

	require.NoError(t, endpoint.UpdateClientEndpoint(ctx, helperConfig("two")))
	initialized, err := message.Parse([]byte(stdout.next(t)))
	require.NoError(t, err)
	assert.Equal(t, message.MethodNotificationInitialized, initialized.Method())

	aSession := endpoint.Session()
	require.NotNil(t, aSession)
	assert.False(t, aSession.IsReconfiguring())
	assert.Contains(t, aSession.InitResponse().String(), `"name":"two"`)
	assert.Equal(t, helperConfig("two"), endpoint.ClientEndpoints()[DefaultName].Config())

	_, err = io.WriteString(stdin, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"again"}}}`+"\n")
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"Echo: again"}]}}`, stdout.next(t))
}

func TestStdioEndpoint_StartWithoutClient(t *testing.T) {
	endpoint := NewStdio(WithIO(strings.NewReader(""), io.Discard))
	assert.Error(t, endpoint.Start(context.Background(), nil))
	assert.Error(t, endpoint.UpdateClientEndpoint(context.Background(), helperConfig("one")))
}

func TestNew(t *testing.T) {
	for _, kind := range []string{KindStdio, KindSSE, KindStreamable} {
		endpoint, err := New(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, endpoint.Kind())
	}
	_, err := New("websocket")
	assert.Error(t, err)
}
