package auth

import (
	"github.com/labstack/echo/v4"
)

// Role is the subject role carried in a session token.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleGuest Role = "guest"
)

// Permission names an action a guest token may be granted.
const (
	PermissionRead = "read"
)

// Principal is the verified identity attached to a request.
type Principal struct {
	UserID  string
	Role    Role
	TokenID string

	// Permissions is the guest grant set from the token claims. Admins have
	// every permission implicitly.
	Permissions []string

	// ReadableTypes restricts which entity types a guest may read.
	ReadableTypes map[string]bool
}

// Has reports whether the principal holds a permission. An admin holds all
// of them; a guest holds exactly what the issuing admin put in the token.
func (p *Principal) Has(permission string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	for _, g := range p.Permissions {
		if g == permission {
			return true
		}
	}
	return false
}

// CanWrite reports whether the principal may mutate the graph.
func (p *Principal) CanWrite() bool {
	return p.Role == RoleAdmin
}

// CanRead reports whether the principal may read entities of the given type.
func (p *Principal) CanRead(entityType string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	return p.Has(PermissionRead) && p.ReadableTypes[entityType]
}

const principalContextKey = "auth.principal"

// GetPrincipal returns the request's verified principal, or nil.
func GetPrincipal(c echo.Context) *Principal {
	p, _ := c.Get(principalContextKey).(*Principal)
	return p
}

// SetPrincipal attaches a verified principal to the request context.
func SetPrincipal(c echo.Context, p *Principal) {
	c.Set(principalContextKey, p)
}
