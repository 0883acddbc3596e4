// Package server exposes the orchestration call surface over HTTP.
//
// This package implements a graceful HTTP server with Echo router. Route
// handlers translate between JSON payloads and the flow manager; error
// mapping lives in status.go.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/collab"
	"github.com/fyrsmithlabs/flowd/internal/flow"
)

// Config configures the HTTP server.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration

	// Logger for structured logging.
	Logger *zap.Logger
}

// Server is the HTTP facade over a flow manager.
type Server struct {
	cfg     Config
	manager *flow.Manager
	echo    *echo.Echo
	logger  *zap.Logger
}

// New creates the HTTP server and registers all routes.
func New(cfg Config, manager *flow.Manager) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:     cfg,
		manager: manager,
		echo:    e,
		logger:  cfg.Logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")

	v1.POST("/flows", s.handleStartFlow)
	v1.POST("/flows/:id/advance", s.handleAdvance)
	v1.GET("/flows/:id/history", s.handleHistory)
	v1.POST("/flows/:id/wait", s.handleWait)
	v1.DELETE("/flows/:id", s.handleRemoveFlow)

	v1.POST("/flows/:id/agents", s.handleRegisterAgent)
	v1.PATCH("/flows/:id/agents/:agent", s.handleUpdateAgent)
	v1.POST("/flows/:id/agents/:agent/result", s.handleAgentResult)
	v1.POST("/flows/:id/agents/:agent/error", s.handleAgentError)
	v1.GET("/flows/:id/agents/:agent/messages", s.handleReceive)
	v1.POST("/flows/:id/messages", s.handleSend)
	v1.PUT("/flows/:id/shared/:key", s.handleShareData)
	v1.GET("/flows/:id/shared/:key", s.handleSharedData)

	v1.GET("/tools", s.handleListTools)
	v1.POST("/tools/connect", s.handleConnectTool)
	v1.POST("/tools/invoke", s.handleInvokeTool)
	v1.POST("/tools/disconnect", s.handleDisconnectTool)
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "flowd"})
}

// StartFlowResponse is the JSON response for POST /v1/flows.
type StartFlowResponse struct {
	FlowID string `json:"flow_id"`
	State  string `json:"state"`
}

func (s *Server) handleStartFlow(c echo.Context) error {
	id := s.manager.StartFlow()
	return c.JSON(http.StatusCreated, StartFlowResponse{FlowID: id, State: string(flow.StateInitialized)})
}

// AdvanceRequest carries the event for POST /v1/flows/:id/advance.
type AdvanceRequest struct {
	Event string `json:"event"`
}

// AdvanceResponse reports the state after an advance.
type AdvanceResponse struct {
	State string `json:"state"`
}

func (s *Server) handleAdvance(c echo.Context) error {
	var req AdvanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	state, err := s.manager.Advance(c.Param("id"), flow.Event(req.Event))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, AdvanceResponse{State: string(state)})
}

// HistoryResponse wraps a flow's history log.
type HistoryResponse struct {
	Entries []flow.HistoryEntry `json:"entries"`
}

func (s *Server) handleHistory(c echo.Context) error {
	entries, err := s.manager.GetHistory(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, HistoryResponse{Entries: entries})
}

// WaitRequest carries the deadline for POST /v1/flows/:id/wait.
type WaitRequest struct {
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleWait(c echo.Context) error {
	var req WaitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	if err := s.manager.WaitForCompletion(c.Request().Context(), c.Param("id"), timeout); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleRemoveFlow(c echo.Context) error {
	if err := s.manager.RemoveFlow(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RegisterAgentRequest carries the agent registration payload.
type RegisterAgentRequest struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name,omitempty"`
}

func (s *Server) handleRegisterAgent(c echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}
	// Remote registrations identify the handle by the advertised name.
	if err := s.manager.RegisterAgent(c.Param("id"), req.AgentID, req.Name, req.Name); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

// UpdateAgentRequest carries a lifecycle update. A nil progress leaves the
// recorded progress unchanged.
type UpdateAgentRequest struct {
	State    string   `json:"state"`
	Task     string   `json:"task,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

func (s *Server) handleUpdateAgent(c echo.Context) error {
	var req UpdateAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	progress := -1.0
	if req.Progress != nil {
		progress = *req.Progress
	}
	err := s.manager.UpdateAgentState(c.Param("id"), c.Param("agent"),
		collab.Lifecycle(req.State), req.Task, progress)
	if err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AgentResultRequest carries an agent's result payload.
type AgentResultRequest struct {
	Result any `json:"result"`
}

func (s *Server) handleAgentResult(c echo.Context) error {
	var req AgentResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.manager.RecordAgentResult(c.Param("id"), c.Param("agent"), req.Result); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AgentErrorRequest carries an agent's error message.
type AgentErrorRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleAgentError(c echo.Context) error {
	var req AgentErrorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.manager.RecordAgentError(c.Param("id"), c.Param("agent"), req.Error); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SendRequest carries an inter-agent message.
type SendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Payload any    `json:"payload"`
}

func (s *Server) handleSend(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.manager.SendMessage(c.Param("id"), req.From, req.To, req.Payload); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// ReceiveResponse wraps the drained inbox of one agent.
type ReceiveResponse struct {
	Messages []collab.Message `json:"messages"`
}

func (s *Server) handleReceive(c echo.Context) error {
	msgs, err := s.manager.ReceiveMessages(c.Param("id"), c.Param("agent"))
	if err != nil {
		return s.fail(c, err)
	}
	if msgs == nil {
		msgs = []collab.Message{}
	}
	return c.JSON(http.StatusOK, ReceiveResponse{Messages: msgs})
}

// ShareDataRequest carries a shared key/value write.
type ShareDataRequest struct {
	Value   any    `json:"value"`
	OwnerID string `json:"owner_id"`
}

func (s *Server) handleShareData(c echo.Context) error {
	var req ShareDataRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.manager.ShareData(c.Param("id"), c.Param("key"), req.Value, req.OwnerID); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSharedData(c echo.Context) error {
	entry, ok, err := s.manager.SharedData(c.Param("id"), c.Param("key"))
	if err != nil {
		return s.fail(c, err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no shared entry %q", c.Param("key")))
	}
	return c.JSON(http.StatusOK, entry)
}

// ToolsResponse lists registered tool proxies.
type ToolsResponse struct {
	Tools []bridge.ToolDescriptor `json:"tools"`
}

func (s *Server) handleListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, ToolsResponse{Tools: s.manager.Tools()})
}

// ConnectToolRequest declares a tool server connection.
type ConnectToolRequest struct {
	ServerID  string                 `json:"server_id"`
	Transport bridge.TransportConfig `json:"transport"`
}

func (s *Server) handleConnectTool(c echo.Context) error {
	var req ConnectToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tools, err := s.manager.ConnectTool(c.Request().Context(), req.ServerID, req.Transport)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ToolsResponse{Tools: tools})
}

// InvokeToolRequest invokes a tool proxy by its namespaced name.
type InvokeToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// InvokeToolResponse carries the concatenated text result.
type InvokeToolResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleInvokeTool(c echo.Context) error {
	var req InvokeToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := s.manager.InvokeTool(c.Request().Context(), req.Name, req.Arguments)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, InvokeToolResponse{Result: result})
}

// DisconnectToolRequest names the session to close; an empty server id
// closes every session.
type DisconnectToolRequest struct {
	ServerID string `json:"server_id,omitempty"`
}

func (s *Server) handleDisconnectTool(c echo.Context) error {
	var req DisconnectToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var err error
	if req.ServerID == "" {
		err = s.manager.DisconnectAllTools()
	} else {
		err = s.manager.DisconnectTool(req.ServerID)
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server and blocks until the context is cancelled.
// Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}
