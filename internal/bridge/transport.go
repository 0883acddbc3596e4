package bridge

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportKind selects how a tool server is reached.
type TransportKind string

const (
	// TransportStdio launches the server as a subprocess and speaks the
	// protocol over its stdin/stdout.
	TransportStdio TransportKind = "stdio"

	// TransportStreamable opens a long-lived streaming connection to the
	// server's HTTP endpoint.
	TransportStreamable TransportKind = "streamable"
)

// TransportConfig describes how to reach one tool server. Exactly one of the
// transport-specific field groups applies, selected by Kind.
type TransportConfig struct {
	Kind TransportKind `koanf:"kind" json:"kind"`

	// Command and Args launch the subprocess for the stdio transport.
	Command string   `koanf:"command" json:"command,omitempty"`
	Args    []string `koanf:"args" json:"args,omitempty"`

	// Env entries (KEY=VALUE) are appended to the subprocess environment.
	Env []string `koanf:"env" json:"env,omitempty"`

	// URL is the endpoint for the streamable transport.
	URL string `koanf:"url" json:"url,omitempty"`
}

// transport builds the protocol transport for this config. The rest of the
// bridge never branches on the transport kind; once built, both kinds carry
// the same initialize / list tools / call tool operations.
func (c TransportConfig) transport() (mcp.Transport, error) {
	switch c.Kind {
	case TransportStdio:
		if c.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		cmd := exec.Command(c.Command, c.Args...)
		cmd.Env = append(os.Environ(), c.Env...)
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportStreamable:
		if c.URL == "" {
			return nil, fmt.Errorf("streamable transport requires a url")
		}
		return &mcp.StreamableClientTransport{Endpoint: c.URL}, nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", c.Kind)
	}
}
