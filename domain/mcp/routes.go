package mcp

import (
	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/auth"
)

// RegisterRoutes registers all MCP routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/mcp")
	g.Use(authMiddleware.RequireAuth())

	g.GET("/tools", h.ListTools)
	g.POST("/tools/call", h.CallTool)
}
