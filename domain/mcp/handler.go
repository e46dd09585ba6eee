package mcp

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/auth"
	"github.com/homegraph/homegraph/pkg/apperror"
)

// Handler handles HTTP requests for MCP tool dispatch.
type Handler struct {
	svc *Service
}

// NewHandler creates a new MCP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListTools returns the tool catalog.
// GET /api/mcp/tools
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, ToolsListResult{Tools: h.svc.GetToolDefinitions()})
}

// CallTool executes one tool. The envelope always comes back with 200; only
// transport-level problems (bad body, missing auth) surface as HTTP errors.
// POST /api/mcp/tools/call
func (h *Handler) CallTool(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}

	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	if req.Name == "" {
		return apperror.NewInvalidArgument("tool name is required")
	}

	return c.JSON(http.StatusOK, h.svc.Call(c.Request().Context(), p, c.RealIP(), req))
}
