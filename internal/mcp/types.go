package mcp

import "fmt"

// Transport selects how the tool server talks to its client.
type Transport string

const (
	// TransportStdio serves a single client over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP serves clients via the MCP Streamable HTTP protocol
	// on the shared HTTP listener.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ParseTransport converts s into a [Transport]. The empty string selects
// [TransportStdio].
func ParseTransport(s string) (Transport, error) {
	if s == "" {
		return TransportStdio, nil
	}
	t := Transport(s)
	if !t.IsValid() {
		return "", fmt.Errorf("mcp: unknown transport %q (want %q or %q)", s, TransportStdio, TransportStreamableHTTP)
	}
	return t, nil
}
