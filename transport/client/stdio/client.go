// Package stdio implements the outbound process-pipe transport: one child process per
// connection, newline-delimited JSON-RPC on its stdin and stdout.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/transport"
)

const maxLineSize = 16 * 1024 * 1024

// Client runs a downstream server as a child process.
type Client struct {
	*transport.Pipe
	command  string
	args     []string
	env      []string
	dir      string
	onStderr func(line string)

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
	closing bool
	mux     sync.Mutex
}

// New creates a process transport; the process is spawned by Start.
func New(command string, options ...Option) (*Client, error) {
	if command == "" {
		return nil, errors.New("command is required for stdio transport")
	}
	ret := &Client{Pipe: transport.NewPipe(), command: command}
	for _, opt := range options {
		opt(ret)
	}
	return ret, nil
}

// Start spawns the process. A process that cannot be spawned is reported like one that
// exited right away: a SpawnError on Errors followed by Done.
func (c *Client) Start(ctx context.Context) error {
	cmd := exec.Command(c.command, c.args...)
	cmd.Env = buildEnv(c.env)
	cmd.Dir = c.dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		c.Fail(&SpawnError{Command: c.command, Err: err})
		c.Finish()
		return nil
	}
	c.mux.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.mux.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		c.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		c.readStderr(stderr)
	}()
	go func() {
		readers.Wait()
		err := cmd.Wait()
		c.mux.Lock()
		closing := c.closing
		c.mux.Unlock()
		if err != nil && !closing {
			c.Fail(&ExitError{Command: c.command, Err: err})
		}
		c.Finish()
	}()
	return nil
}

func (c *Client) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	seen := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := message.Parse([]byte(line))
		if err != nil {
			c.Fail(&ParseError{Line: line, Err: err, AfterMessage: seen})
			continue
		}
		seen = true
		c.Deliver(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		c.Fail(fmt.Errorf("failed to read process output: %w", err))
	}
}

func (c *Client) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if c.onStderr != nil {
			c.onStderr(scanner.Text())
		}
	}
}

// Send writes msg as one line to the process stdin.
func (c *Client) Send(_ context.Context, msg *message.Message) error {
	if c.Finished() {
		return transport.ErrClosed
	}
	c.mux.Lock()
	stdin := c.stdin
	c.mux.Unlock()
	if stdin == nil {
		return transport.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data := append(append([]byte(nil), msg.Bytes()...), '\n')
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to process: %w", err)
	}
	return nil
}

// Close terminates the process. Done closes once the process has been reaped.
func (c *Client) Close() error {
	c.mux.Lock()
	c.closing = true
	cmd := c.cmd
	stdin := c.stdin
	c.mux.Unlock()
	if cmd == nil {
		c.Finish()
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

// Pid returns the process id, 0 before Start.
func (c *Client) Pid() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// buildEnv merges the allow-listed entries over the bridge environment.
// "KEY" copies the bridge value when set; "KEY=value" sets an explicit value.
func buildEnv(vars []string) []string {
	out := os.Environ()
	for _, v := range vars {
		if strings.Contains(v, "=") {
			out = append(out, v)
			continue
		}
		if val, ok := os.LookupEnv(v); ok {
			out = append(out, fmt.Sprintf("%s=%s", v, val))
		}
	}
	return out
}
