package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-bridge/message"
)

const helperEnv = "STDIO_TRANSPORT_HELPER"

// TestMain lets the test binary act as a downstream process.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		runHelper(mode)
		return
	}
	os.Exit(m.Run())
}

func runHelper(mode string) {
	if mode == "noise" {
		fmt.Println("booting downstream server")
		fmt.Fprintln(os.Stderr, "stderr diagnostics")
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if mode == "exit" {
			os.Exit(3)
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"method":%q}}`+"\n", req.ID, req.Method)
	}
}

func newHelper(t *testing.T, mode string, options ...Option) *Client {
	options = append([]Option{WithEnv(helperEnv + "=" + mode)}, options...)
	client, err := New(os.Args[0], options...)
	require.NoError(t, err)
	return client
}

func TestClient_RoundTrip(t *testing.T) {
	client := newHelper(t, "echo")
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))
	defer client.Close()

	require.NoError(t, client.Send(ctx, message.MustParse(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
	select {
	case msg := <-client.Messages():
		assert.Equal(t, "1", msg.IDKey())
		assert.JSONEq(t, `{"method":"tools/list"}`, string(msg.Result()))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
	}
}

func TestClient_Noise(t *testing.T) {
	var stderr = make(chan string, 1)
	client := newHelper(t, "noise", WithStderr(func(line string) {
		select {
		case stderr <- line:
		default:
		}
	}))
	require.NoError(t, client.Start(context.Background()))
	defer client.Close()

	select {
	case err := <-client.Errors():
		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "booting downstream server", parseErr.Line)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for parse error")
	}
	select {
	case line := <-stderr:
		assert.Equal(t, "stderr diagnostics", line)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stderr")
	}
}

func TestClient_Exit(t *testing.T) {
	client := newHelper(t, "exit")
	ctx := context.Background()
	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Send(ctx, message.MustParse(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	var exitErr *ExitError
	select {
	case err := <-client.Errors():
		assert.True(t, errors.As(err, &exitErr))
	default:
		t.Fatal("expected exit error")
	}
	assert.Error(t, client.Send(ctx, message.MustParse(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)))
}

func TestClient_SpawnFailure(t *testing.T) {
	client, err := New("/nonexistent/mcp-server-binary")
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	<-client.Done()
	var spawnErr *SpawnError
	err = <-client.Errors()
	assert.True(t, errors.As(err, &spawnErr))
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("BRIDGE_TEST_TOKEN", "secret")
	env := buildEnv([]string{"BRIDGE_TEST_TOKEN", "BRIDGE_TEST_MISSING", "EXPLICIT=1"})
	assert.Contains(t, env, "BRIDGE_TEST_TOKEN=secret")
	assert.Contains(t, env, "EXPLICIT=1")
	for _, entry := range env {
		assert.NotEqual(t, "BRIDGE_TEST_MISSING=", entry)
	}
}

func TestNew_RequiresCommand(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
