package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/pkg/apperror"
)

// Handler handles HTTP requests for authentication.
type Handler struct {
	svc *Service
}

// NewHandler creates a new auth handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Login exchanges the admin password for a session token.
// POST /api/auth/login
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	if req.Password == "" {
		return apperror.NewInvalidArgument("password is required")
	}

	result, err := h.svc.Login(c.Request().Context(), req.Password, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result.ToResponse())
}

// GenerateGuestQR mints a one-time guest enrollment code. Admin only.
// POST /api/auth/guest/qr
func (h *Handler) GenerateGuestQR(c echo.Context) error {
	p := GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}

	var req GenerateGuestQRRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	if req.TTLSeconds < 0 {
		return apperror.NewInvalidArgument("ttl_seconds must not be negative")
	}

	qr, err := h.svc.GenerateGuestQR(c.Request().Context(), p.UserID, req.Permissions,
		time.Duration(req.TTLSeconds)*time.Second, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, qr)
}

// RedeemGuestCode exchanges an enrollment code for a guest token.
// POST /api/auth/guest/redeem
func (h *Handler) RedeemGuestCode(c echo.Context) error {
	var req RedeemGuestCodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	if req.Code == "" {
		return apperror.NewInvalidArgument("code is required")
	}

	result, err := h.svc.RedeemGuestCode(c.Request().Context(), req.Code, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result.ToResponse())
}

// SetPassword replaces the admin password. Admin only.
// PUT /api/auth/password
func (h *Handler) SetPassword(c echo.Context) error {
	var req SetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}

	if err := h.svc.SetAdminPassword(c.Request().Context(), req.Password); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
