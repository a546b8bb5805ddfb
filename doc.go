// Package mcpbridge bridges Model Context Protocol clients and servers across
// transports.
//
// An inbound server endpoint (stdio, SSE or streamable HTTP) accepts protocol clients
// and opens one session per client. Each session forwards raw JSON-RPC messages to a
// client endpoint that connects to a downstream server over any of the same three
// transports, and relays the answers back. Messages are forwarded byte for byte; an
// optional processor can inspect, rewrite or drop them and authorize inbound
// connections.
//
// The packages are layered bottom-up:
//
//   - message: raw-preserving JSON-RPC values and synthesized error envelopes
//   - transport: the duplex channel contract and its inbound and outbound kinds
//   - session: forwarding, handshake caching and endpoint renegotiation
//   - endpoint/client, endpoint/server: outbound and inbound endpoints
//   - bridge: configuration, wiring and process lifecycle
//
// See cmd/mcp-bridge for the binary.
package mcpbridge
