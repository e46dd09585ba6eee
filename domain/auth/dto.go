package auth

import "time"

// LoginRequest is the admin login body.
type LoginRequest struct {
	Password string `json:"password"`
}

// TokenResponse is the API shape of an issued session token.
type TokenResponse struct {
	Token     string    `json:"token"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *TokenResult) ToResponse() *TokenResponse {
	return &TokenResponse{Token: r.Token, Role: r.Role, ExpiresAt: r.ExpiresAt}
}

// GenerateGuestQRRequest asks for a one-time guest enrollment code.
type GenerateGuestQRRequest struct {
	Permissions []string `json:"permissions,omitempty"`
	TTLSeconds  int      `json:"ttl_seconds,omitempty"`
}

// RedeemGuestCodeRequest presents an enrollment code for a guest token.
type RedeemGuestCodeRequest struct {
	Code string `json:"code"`
}

// SetPasswordRequest replaces the admin password.
type SetPasswordRequest struct {
	Password string `json:"password"`
}
