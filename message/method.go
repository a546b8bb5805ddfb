package message

import "github.com/viant/mcp-protocol/schema"

// Methods the bridge inspects; everything else is forwarded opaquely.
const (
	MethodInitialize              = schema.MethodInitialize
	MethodNotificationInitialized = schema.MethodNotificationInitialized
)
