package processor

import (
	"context"

	"github.com/viant/mcp-bridge/message"
)

type chain []Processor

// Payloads holds the auth payload of each chained processor, in chain order.
type Payloads []any

// Chain runs processors left to right. Authorize fails on the first error and returns
// Payloads; each processor later receives the payload its own Authorize produced. A
// dropped message stops the chain.
func Chain(processors ...Processor) Processor {
	if len(processors) == 1 {
		return processors[0]
	}
	return chain(processors)
}

func (c chain) Authorize(ctx context.Context, serverName, authHeader string) (any, error) {
	ret := make(Payloads, len(c))
	for i, p := range c {
		payload, err := p.Authorize(ctx, serverName, authHeader)
		if err != nil {
			return nil, err
		}
		ret[i] = payload
	}
	return ret, nil
}

// payload returns the i-th processor's payload; a value not produced by this chain is
// shared as is.
func (c chain) payload(authPayload any, i int) any {
	if payloads, ok := authPayload.(Payloads); ok && len(payloads) == len(c) {
		return payloads[i]
	}
	return authPayload
}

func (c chain) ForwardMessageToServer(ctx context.Context, serverName, sessionID string, msg *message.Message, authPayload any) (*message.Message, error) {
	var err error
	for i, p := range c {
		if msg, err = p.ForwardMessageToServer(ctx, serverName, sessionID, msg, c.payload(authPayload, i)); err != nil || msg == nil {
			return nil, err
		}
	}
	return msg, nil
}

func (c chain) ReturnMessageToClient(ctx context.Context, serverName, sessionID string, msg *message.Message, authPayload any) (*message.Message, error) {
	var err error
	for i, p := range c {
		if msg, err = p.ReturnMessageToClient(ctx, serverName, sessionID, msg, c.payload(authPayload, i)); err != nil || msg == nil {
			return nil, err
		}
	}
	return msg, nil
}
