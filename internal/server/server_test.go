package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/flow"
)

func newTestServer(t *testing.T) (*Server, *flow.Manager, *bridge.Bridge) {
	t.Helper()
	br := bridge.New(bridge.DefaultConfig())
	t.Cleanup(func() { _ = br.DisconnectAll() })
	manager := flow.NewManager(flow.ManagerConfig{Bridge: br})
	return New(Config{Port: 0}, manager), manager, br
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
}

func TestFlowLifecycleOverHTTP(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/flows", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var started StartFlowResponse
	decode(t, rec, &started)
	require.NotEmpty(t, started.FlowID)
	assert.Equal(t, "initialized", started.State)

	rec = do(t, s, http.MethodPost, "/v1/flows/"+started.FlowID+"/advance", `{"event":"start"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var advanced AdvanceResponse
	decode(t, rec, &advanced)
	assert.Equal(t, "ready", advanced.State)

	rec = do(t, s, http.MethodPost, "/v1/flows/"+started.FlowID+"/advance", `{"event":"run"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/flows/"+started.FlowID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history HistoryResponse
	decode(t, rec, &history)
	assert.Len(t, history.Entries, 2)
}

func TestAdvanceErrorMapping(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/flows", "")
	var started StartFlowResponse
	decode(t, rec, &started)

	// Unknown flow maps to 404.
	rec = do(t, s, http.MethodPost, "/v1/flows/missing/advance", `{"event":"start"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Skipping ready maps to 409 and carries the hint.
	rec = do(t, s, http.MethodPost, "/v1/flows/"+started.FlowID+"/advance", `{"event":"run"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Contains(t, resp.Error, "ready")

	// Unknown event classifies through the fault taxonomy as bad request.
	rec = do(t, s, http.MethodPost, "/v1/flows/"+started.FlowID+"/advance", `{"event":"warp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "invalid_input", resp.Kind)
	assert.Equal(t, "advance", resp.Stage)
}

func TestAgentEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/flows", "")
	var started StartFlowResponse
	decode(t, rec, &started)
	base := "/v1/flows/" + started.FlowID

	rec = do(t, s, http.MethodPost, base+"/agents", `{"agent_id":"w1","name":"Worker"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Re-registering identically is idempotent; a different name conflicts.
	rec = do(t, s, http.MethodPost, base+"/agents", `{"agent_id":"w1","name":"Worker"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, s, http.MethodPost, base+"/agents", `{"agent_id":"w1","name":"Other"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPatch, base+"/agents/w1", `{"state":"active","task":"indexing","progress":0.4}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodPatch, base+"/agents/ghost", `{"state":"active"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, base+"/agents", `{"agent_id":"w2"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, s, http.MethodPost, base+"/messages", `{"from":"w1","to":"w2","payload":"ping"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, s, http.MethodGet, base+"/agents/w2/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox ReceiveResponse
	decode(t, rec, &inbox)
	require.Len(t, inbox.Messages, 1)
	assert.Equal(t, "ping", inbox.Messages[0].Payload)

	rec = do(t, s, http.MethodPut, base+"/shared/plan", `{"value":"v1","owner_id":"w1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodGet, base+"/shared/plan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, base+"/shared/absent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWaitEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/flows", "")
	var started StartFlowResponse
	decode(t, rec, &started)
	base := "/v1/flows/" + started.FlowID

	// No active agents: returns immediately.
	rec = do(t, s, http.MethodPost, base+"/wait", `{"timeout_seconds":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// One stuck agent: deadline maps to 504 listing it.
	do(t, s, http.MethodPost, base+"/agents", `{"agent_id":"stuck"}`)
	do(t, s, http.MethodPatch, base+"/agents/stuck", `{"state":"active"}`)
	rec = do(t, s, http.MethodPost, base+"/wait", `{"timeout_seconds":0.05}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Contains(t, resp.Error, "stuck")
}

func TestToolEndpoints(t *testing.T) {
	s, _, br := newTestServer(t)

	// Wire a real MCP server through the shared bridge.
	srv := mcp.NewServer(&mcp.Implementation{Name: "test-tools", Version: "0.1.0"}, nil)
	type echoParams struct {
		Text string `json:"text"`
	}
	mcp.AddTool(srv, &mcp.Tool{Name: "echo", Description: "echo"},
		func(ctx context.Context, req *mcp.CallToolRequest, params *echoParams) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: params.Text}}}, nil, nil
		})
	clientTr, serverTr := mcp.NewInMemoryTransports()
	_, err := srv.Connect(context.Background(), serverTr, nil)
	require.NoError(t, err)
	_, err = br.ConnectTransport(context.Background(), "s1", clientTr)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/v1/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tools ToolsResponse
	decode(t, rec, &tools)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "mcp_s1_echo", tools.Tools[0].Name)

	rec = do(t, s, http.MethodPost, "/v1/tools/invoke", `{"name":"mcp_s1_echo","arguments":{"text":"over http"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoked InvokeToolResponse
	decode(t, rec, &invoked)
	assert.Equal(t, "over http", invoked.Result)

	rec = do(t, s, http.MethodPost, "/v1/tools/invoke", `{"name":"mcp_s1_missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/tools/disconnect", `{"server_id":"s1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/tools", "")
	decode(t, rec, &tools)
	assert.Empty(t, tools.Tools)

	rec = do(t, s, http.MethodPost, "/v1/tools/disconnect", `{"server_id":"s1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Connecting with a broken transport config surfaces an error.
	rec = do(t, s, http.MethodPost, "/v1/tools/connect", `{"server_id":"bad","transport":{"kind":"stdio"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRemoveFlow(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/flows", "")
	var started StartFlowResponse
	decode(t, rec, &started)

	rec = do(t, s, http.MethodDelete, "/v1/flows/"+started.FlowID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/flows/"+started.FlowID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
