package client

import (
	"encoding/json"
	"strings"

	"github.com/viant/mcp-bridge/internal/metrics"
	"github.com/viant/mcp-bridge/message"
)

// PendingClosed is the text of the error answering a request the downstream process
// never replied to.
const PendingClosed = "Server closed with message pending"

// connectionClosedMarkers identify errors after which the inbound client should
// reconnect.
var connectionClosedMarkers = []string{
	"Connection terminated",
	"SSE stream disconnected",
	"Maximum reconnection attempts",
	"Session terminated",
	"(401)",
	"Unauthorized",
}

// ErrorCode classifies err as ConnectionClosed or InternalError.
func ErrorCode(err error) int {
	text := err.Error()
	for _, marker := range connectionClosedMarkers {
		if strings.Contains(text, marker) {
			return message.ConnectionClosed
		}
	}
	return message.InternalError
}

// ErrorMessage converts err to an error response for id; a nil id yields "error".
func ErrorMessage(id json.RawMessage, err error) *message.Message {
	code := ErrorCode(err)
	metrics.RecordDownstreamError(code)
	return message.NewError(id, code, err.Error())
}
