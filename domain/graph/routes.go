package graph

import (
	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/auth"
)

// RegisterRoutes registers all graph routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	// All graph routes require authentication; write routes additionally
	// check the principal's role in the handler.
	g := e.Group("/api/graph")
	g.Use(authMiddleware.RequireAuth())

	entities := g.Group("/entities")
	entities.GET("", h.ListEntities)
	entities.POST("", h.CreateEntity)
	entities.GET("/:id", h.GetEntity)
	entities.PATCH("/:id", h.UpdateEntity)
	entities.DELETE("/:id", h.DeleteEntity)
	entities.GET("/:id/history", h.GetHistory)
	entities.GET("/:id/neighbors", h.Neighbors)
	entities.GET("/:id/subgraph", h.Subgraph)
	entities.GET("/:id/similar", h.Similar)

	relationships := g.Group("/relationships")
	relationships.POST("", h.CreateRelationship)
	relationships.GET("/:id", h.GetRelationship)
	relationships.DELETE("/:id", h.DeleteRelationship)

	g.GET("/search", h.Search)
	g.GET("/path", h.Path)
}
