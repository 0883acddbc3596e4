package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/collab"
	"github.com/fyrsmithlabs/flowd/internal/fault"
	"github.com/fyrsmithlabs/flowd/internal/flow"
)

// ErrorResponse is the JSON body for all failed requests.
type ErrorResponse struct {
	Error string         `json:"error"`
	Kind  string         `json:"kind,omitempty"`
	Stage string         `json:"stage,omitempty"`
	Extra map[string]any `json:"context,omitempty"`
}

// fail maps a core error to its HTTP status and logs it with the request id.
func (s *Server) fail(c echo.Context, err error) error {
	status := httpStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var f *fault.Error
	if errors.As(err, &f) {
		resp.Kind = string(f.Kind)
		resp.Stage = f.Stage
		resp.Extra = f.Context
	}

	s.logger.Warn("request failed",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err),
	)
	return c.JSON(status, resp)
}

// httpStatus resolves the response code for a core error. Faults classify
// through the taxonomy; core sentinels map individually.
func httpStatus(err error) int {
	var f *fault.Error
	if errors.As(err, &f) {
		return fault.Classify(f.Kind).HTTPStatus()
	}

	switch {
	case errors.Is(err, flow.ErrFlowNotFound),
		errors.Is(err, collab.ErrAgentNotFound),
		errors.Is(err, bridge.ErrToolNotFound),
		errors.Is(err, bridge.ErrServerNotConnected):
		return http.StatusNotFound
	case errors.Is(err, collab.ErrAgentConflict):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrNotConnected):
		return http.StatusGone
	case errors.Is(err, flow.ErrMaxErrors):
		return http.StatusInternalServerError
	}

	var terr *flow.TransitionError
	if errors.As(err, &terr) {
		return http.StatusConflict
	}
	var wt *collab.WaitTimeoutError
	if errors.As(err, &wt) {
		return http.StatusGatewayTimeout
	}
	var af *collab.AgentFailedError
	if errors.As(err, &af) {
		return http.StatusInternalServerError
	}
	var re *bridge.RemoteError
	if errors.As(err, &re) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
