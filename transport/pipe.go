package transport

import (
	"sync"

	"github.com/viant/mcp-bridge/message"
)

const defaultBuffer = 64

// Pipe implements the signal side of Transport. Concrete transports embed it and
// call Deliver, Fail and Finish from their reader goroutines.
type Pipe struct {
	messages chan *message.Message
	errs     chan error
	done     chan struct{}
	once     sync.Once
}

// NewPipe creates a pipe with buffered message and error channels.
func NewPipe() *Pipe {
	return &Pipe{
		messages: make(chan *message.Message, defaultBuffer),
		errs:     make(chan error, defaultBuffer),
		done:     make(chan struct{}),
	}
}

func (p *Pipe) Messages() <-chan *message.Message { return p.messages }

func (p *Pipe) Errors() <-chan error { return p.errs }

func (p *Pipe) Done() <-chan struct{} { return p.done }

// Deliver queues msg for the consumer. It returns false once the pipe is finished.
func (p *Pipe) Deliver(msg *message.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.messages <- msg:
		return true
	case <-p.done:
		return false
	}
}

// Fail reports a non-terminal error. Errors are dropped when nobody keeps up.
func (p *Pipe) Fail(err error) {
	if err == nil {
		return
	}
	select {
	case <-p.done:
	case p.errs <- err:
	default:
	}
}

// Finish closes Done. Safe to call more than once.
func (p *Pipe) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Finished reports whether Finish was called.
func (p *Pipe) Finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
