// Package bridge wires a configured server endpoint to one or more client endpoints
// and runs the result as a process.
//
// A minimal configuration bridges a stdio client to a remote server:
//
//	server:
//	  type: stdio
//	clients:
//	  - type: streamable
//	    url: https://example.com/mcp
//
// Several clients need unique names; HTTP server kinds then serve each of them under
// /{name}/.
package bridge
