package eventstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/viant/jsonrpc/transport/server/http/common"
)

// Writer encodes events onto an HTTP response.
type Writer struct {
	w      http.ResponseWriter
	out    *common.FlushWriter
	mux    sync.Mutex
	closed bool
}

// ErrWriterClosed is returned by WriteEvent after Close.
var ErrWriterClosed = errors.New("event stream closed")

// NewWriter prepares w for streaming and writes the response headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming unsupported by %T", w)
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	return &Writer{w: w, out: common.NewFlushWriter(w)}, nil
}

// Open sends the status line so clients see the stream before the first event.
func (w *Writer) Open(status int) {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.closed {
		return
	}
	w.w.WriteHeader(status)
	_, _ = w.out.Write(nil)
}

// WriteEvent writes a single event and flushes it. A client that went away surfaces
// as an error rather than a panic.
func (w *Writer) WriteEvent(name string, data []byte) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	var builder strings.Builder
	if name != "" {
		builder.WriteString("event: ")
		builder.WriteString(name)
		builder.WriteString("\n")
	}
	for _, line := range strings.Split(string(data), "\n") {
		builder.WriteString("data: ")
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	builder.WriteString("\n")
	_, err := w.out.Write([]byte(builder.String()))
	return err
}

// Close waits for an in-flight write and rejects later ones. The response writer must
// not be used once its handler returned, so handlers call Close before returning.
func (w *Writer) Close() {
	w.mux.Lock()
	w.closed = true
	w.mux.Unlock()
}
