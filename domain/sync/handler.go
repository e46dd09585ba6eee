package sync

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/auth"
	"github.com/homegraph/homegraph/pkg/apperror"
)

// Handler handles HTTP requests for the sync protocol.
type Handler struct {
	svc *Service
}

// NewHandler creates a new sync handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// requireWriter refuses guests. Replicas hold a full copy of the graph and
// push writes, so sync is an admin-device capability.
func requireWriter(c echo.Context) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return apperror.ErrUnauthorized
	}
	if !p.CanWrite() {
		return apperror.ErrPermissionDenied
	}
	return nil
}

// Request returns the delta a peer is missing.
// POST /api/sync/request
func (h *Handler) Request(c echo.Context) error {
	if err := requireWriter(c); err != nil {
		return err
	}
	req := new(SyncRequest)
	if err := c.Bind(req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	resp, err := h.svc.HandleRequest(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Push applies a peer's outgoing changes.
// POST /api/sync/push
func (h *Handler) Push(c echo.Context) error {
	if err := requireWriter(c); err != nil {
		return err
	}
	req := new(SyncRequest)
	if err := c.Bind(req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	resp, err := h.svc.HandlePush(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Ack commits a peer's post-exchange state.
// POST /api/sync/ack
func (h *Handler) Ack(c echo.Context) error {
	if err := requireWriter(c); err != nil {
		return err
	}
	req := new(AckRequest)
	if err := c.Bind(req); err != nil {
		return apperror.NewInvalidArgument("invalid request body")
	}
	if err := h.svc.HandleAck(c.Request().Context(), req); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
