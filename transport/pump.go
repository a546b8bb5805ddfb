package transport

import (
	"github.com/viant/mcp-bridge/message"
)

// Listener receives what a transport emits.
type Listener struct {
	OnMessage func(msg *message.Message)
	OnError   func(err error)
	OnClose   func()
}

// Pump consumes t until it is done, invoking l callbacks in arrival order.
// Messages and errors still buffered when Done closes are drained before OnClose.
// Pump blocks; run it in its own goroutine.
func Pump(t Transport, l Listener) {
	for {
		select {
		case msg := <-t.Messages():
			l.message(msg)
		case err := <-t.Errors():
			l.error(err)
		case <-t.Done():
			drain(t, l)
			if l.OnClose != nil {
				l.OnClose()
			}
			return
		}
	}
}

func drain(t Transport, l Listener) {
	for {
		select {
		case msg := <-t.Messages():
			l.message(msg)
		case err := <-t.Errors():
			l.error(err)
		default:
			return
		}
	}
}

func (l Listener) message(msg *message.Message) {
	if msg != nil && l.OnMessage != nil {
		l.OnMessage(msg)
	}
}

func (l Listener) error(err error) {
	if err != nil && l.OnError != nil {
		l.OnError(err)
	}
}
