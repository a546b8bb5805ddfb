// Package stdio implements the inbound process-pipe transport: the bridge process
// itself reads newline-delimited JSON-RPC from stdin and answers on stdout.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/viant/mcp-bridge/message"
	"github.com/viant/mcp-bridge/transport"
)

const maxLineSize = 16 * 1024 * 1024

// Option configures the transport.
type Option func(s *Server)

// WithReader replaces stdin.
func WithReader(r io.Reader) Option {
	return func(s *Server) {
		s.reader = r
	}
}

// WithWriter replaces stdout.
func WithWriter(w io.Writer) Option {
	return func(s *Server) {
		s.writer = w
	}
}

// Server is the inbound stdio transport.
type Server struct {
	*transport.Pipe
	reader  io.Reader
	writer  io.Writer
	writeMu sync.Mutex
}

// New creates a transport over stdin/stdout unless overridden.
func New(options ...Option) *Server {
	ret := &Server{Pipe: transport.NewPipe(), reader: os.Stdin, writer: os.Stdout}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Start begins reading.
func (s *Server) Start(_ context.Context) error {
	go s.read()
	return nil
}

func (s *Server) read() {
	defer s.Finish()
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := message.Parse([]byte(line))
		if err != nil {
			s.Fail(fmt.Errorf("failed to parse stdin message: %w", err))
			continue
		}
		if !s.Deliver(msg) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !s.Finished() {
		s.Fail(err)
	}
}

// Send writes msg followed by a newline.
func (s *Server) Send(_ context.Context, msg *message.Message) error {
	if s.Finished() {
		return transport.ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data := append(append([]byte(nil), msg.Bytes()...), '\n')
	_, err := s.writer.Write(data)
	return err
}

// Close stops the transport; a closable reader is closed to unblock it.
func (s *Server) Close() error {
	s.Finish()
	if closer, ok := s.reader.(io.Closer); ok && s.reader != os.Stdin {
		return closer.Close()
	}
	return nil
}
