package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/homegraph/homegraph/domain/audit"
	"github.com/homegraph/homegraph/pkg/apperror"
)

// Middleware guards routes with bearer-token authentication.
type Middleware struct {
	svc *Service
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(svc *Service) *Middleware {
	return &Middleware{svc: svc}
}

// RequireAuth verifies the Authorization bearer token and attaches the
// principal to the request context.
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c)
			if err != nil {
				return err
			}

			p, err := m.svc.VerifyToken(token, c.RealIP())
			if err != nil {
				return err
			}

			SetPrincipal(c, p)
			return next(c)
		}
	}
}

// RequireAdmin refuses non-admin principals. Must run after RequireAuth.
func (m *Middleware) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := GetPrincipal(c)
			if p == nil {
				return apperror.ErrUnauthorized
			}
			if p.Role != RoleAdmin {
				m.svc.audit.Record(audit.Event{
					Event:       audit.AccessDenied,
					ClientIP:    c.RealIP(),
					SubjectID:   p.UserID,
					RequestInfo: c.Request().Method + " " + c.Path(),
					Detail:      map[string]any{"required_role": string(RoleAdmin)},
				})
				return apperror.ErrPermissionDenied
			}
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", apperror.ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", apperror.ErrInvalidToken.WithMessage("Authorization header must be a bearer token")
	}
	return token, nil
}
