package sync

import (
	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/auth"
)

// RegisterRoutes registers all sync routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/sync")
	g.Use(authMiddleware.RequireAuth())

	g.POST("/request", h.Request)
	g.POST("/push", h.Push)
	g.POST("/ack", h.Ack)
}
