package bridge

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoParams is the input for the test server's echo tool.
type echoParams struct {
	Text string `json:"text" jsonschema:"Text to echo back"`
}

type emptyParams struct{}

// newTestServer builds an MCP server with one tool per protocol edge case.
func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()
	srv := mcp.NewServer(&mcp.Implementation{Name: "test-tools", Version: "0.1.0"}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the input text back",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *echoParams) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: params.Text}},
		}, nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "parts",
		Description: "Return several text content parts",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "first"},
				&mcp.TextContent{Text: "second"},
				&mcp.TextContent{Text: "third"},
			},
		}, nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "silent",
		Description: "Return no content at all",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{}}, nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "kaboom",
		Description: "Always fail",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "deliberate failure"}},
		}, nil, nil
	})

	return srv
}

// connectPair wires a fresh in-memory transport pair to the server and
// returns the client side.
func connectPair(t *testing.T, srv *mcp.Server) mcp.Transport {
	t.Helper()
	clientTr, serverTr := mcp.NewInMemoryTransports()
	_, err := srv.Connect(context.Background(), serverTr, nil)
	require.NoError(t, err)
	return clientTr
}

func TestConnectRegistersNamespacedProxies(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	descs, err := b.ConnectTransport(context.Background(), "s1", connectPair(t, srv))
	require.NoError(t, err)
	require.Len(t, descs, 4)

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
		assert.Equal(t, "s1", d.ServerID)
	}
	assert.Contains(t, names, "mcp_s1_echo")
	assert.Contains(t, names, "mcp_s1_kaboom")

	tools := b.Tools()
	require.Len(t, tools, 4)
	assert.Equal(t, "echo", tools[0].OriginalName)
	assert.Equal(t, "mcp_s1_echo", tools[0].Name)
	assert.NotNil(t, tools[0].InputSchema, "discovery should surface the parameter schema")
	assert.Equal(t, []string{"s1"}, b.ServerIDs())
}

func TestConnectEmptyServerIDKeepsBareNames(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	descs, err := b.ConnectTransport(context.Background(), "", connectPair(t, srv))
	require.NoError(t, err)

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "echo")
	assert.NotContains(t, names, "mcp__echo")
}

func TestInvokeEcho(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	_, err := b.ConnectTransport(context.Background(), "s1", connectPair(t, srv))
	require.NoError(t, err)

	result, err := b.Invoke(context.Background(), "mcp_s1_echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestInvokeConcatenatesTextParts(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	_, err := b.ConnectTransport(context.Background(), "s1", connectPair(t, srv))
	require.NoError(t, err)

	result, err := b.Invoke(context.Background(), "mcp_s1_parts", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "first, second, third", result)
}

func TestInvokeEmptyContentIsSuccess(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	_, err := b.ConnectTransport(context.Background(), "s1", connectPair(t, srv))
	require.NoError(t, err)

	result, err := b.Invoke(context.Background(), "mcp_s1_silent", map[string]any{})
	require.NoError(t, err, "absence of content is not an error")
	assert.Equal(t, "", result)
}

func TestInvokeRemoteErrorPassesThrough(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	_, err := b.ConnectTransport(context.Background(), "s1", connectPair(t, srv))
	require.NoError(t, err)

	_, err = b.Invoke(context.Background(), "mcp_s1_kaboom", map[string]any{})
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "deliberate failure", remote.Message)
	assert.Equal(t, "mcp_s1_kaboom", remote.Tool)
}

func TestInvokeUnknownTool(t *testing.T) {
	b := New(DefaultConfig())

	_, err := b.Invoke(context.Background(), "mcp_s1_echo", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestDisconnectRemovesExactlyOwnProxies(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	ctx := context.Background()
	_, err := b.ConnectTransport(ctx, "s1", connectPair(t, srv))
	require.NoError(t, err)
	_, err = b.ConnectTransport(ctx, "s2", connectPair(t, srv))
	require.NoError(t, err)
	require.Len(t, b.Tools(), 8)

	require.NoError(t, b.Disconnect("s1"))

	tools := b.Tools()
	require.Len(t, tools, 4)
	for _, d := range tools {
		assert.Equal(t, "s2", d.ServerID, "s2 proxies must survive s1 disconnect")
	}
	assert.Equal(t, []string{"s2"}, b.ServerIDs())

	// Invoking a removed proxy fails with tool not found.
	_, err = b.Invoke(ctx, "mcp_s1_echo", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	// The surviving server still works.
	result, err := b.Invoke(ctx, "mcp_s2_echo", map[string]any{"text": "still here"})
	require.NoError(t, err)
	assert.Equal(t, "still here", result)
}

func TestDisconnectUnknownServer(t *testing.T) {
	b := New(DefaultConfig())
	assert.ErrorIs(t, b.Disconnect("nope"), ErrServerNotConnected)
}

func TestReconnectReplacesProxies(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())
	defer func() { _ = b.DisconnectAll() }()

	ctx := context.Background()
	_, err := b.ConnectTransport(ctx, "s1", connectPair(t, srv))
	require.NoError(t, err)

	// Reconnect under the same id: proxy count must stay equal to the tool
	// count the server reports, not double.
	_, err = b.ConnectTransport(ctx, "s1", connectPair(t, srv))
	require.NoError(t, err)

	assert.Len(t, b.Tools(), 4)
	assert.Equal(t, []string{"s1"}, b.ServerIDs())

	result, err := b.Invoke(ctx, "mcp_s1_echo", map[string]any{"text": "fresh session"})
	require.NoError(t, err)
	assert.Equal(t, "fresh session", result)
}

func TestDisconnectAllClearsEverything(t *testing.T) {
	srv := newTestServer(t)
	b := New(DefaultConfig())

	ctx := context.Background()
	_, err := b.ConnectTransport(ctx, "s1", connectPair(t, srv))
	require.NoError(t, err)
	_, err = b.ConnectTransport(ctx, "s2", connectPair(t, srv))
	require.NoError(t, err)

	require.NoError(t, b.DisconnectAll())

	assert.Empty(t, b.Tools())
	assert.Empty(t, b.ServerIDs())
}

func TestTransportConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  TransportConfig
	}{
		{"stdio without command", TransportConfig{Kind: TransportStdio}},
		{"streamable without url", TransportConfig{Kind: TransportStreamable}},
		{"unknown kind", TransportConfig{Kind: "carrier-pigeon"}},
		{"empty kind", TransportConfig{}},
	}

	b := New(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Connect(context.Background(), "s1", tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestTransportConfigBuildsTransports(t *testing.T) {
	tr, err := TransportConfig{Kind: TransportStdio, Command: "tool-server", Args: []string{"--fast"}}.transport()
	require.NoError(t, err)
	assert.IsType(t, &mcp.CommandTransport{}, tr)

	tr, err = TransportConfig{Kind: TransportStreamable, URL: "http://localhost:7777/mcp"}.transport()
	require.NoError(t, err)
	assert.IsType(t, &mcp.StreamableClientTransport{}, tr)
}
