package auth

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all auth routes. Login and code redemption are
// unauthenticated by nature and protected by the rate limiter instead.
func RegisterRoutes(e *echo.Echo, h *Handler, m *Middleware) {
	g := e.Group("/api/auth")

	g.POST("/login", h.Login)
	g.POST("/guest/redeem", h.RedeemGuestCode)

	admin := g.Group("", m.RequireAuth(), m.RequireAdmin())
	admin.POST("/guest/qr", h.GenerateGuestQR)
	admin.PUT("/password", h.SetPassword)
}
