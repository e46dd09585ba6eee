package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/homegraph/homegraph/pkg/apperror"
)

const tokenIssuer = "homegraph"

// Claims is the JWT payload of a session token. Guest tokens additionally
// carry the permission grant, the issuing admin and the QR generation id.
type Claims struct {
	jwt.RegisteredClaims

	Role        Role     `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	IssuedBy    string   `json:"issued_by,omitempty"`
	QRID        string   `json:"qr_id,omitempty"`
}

// errAlgorithmNone flags a token that explicitly declares the "none"
// algorithm; the caller audits it as suspicious.
var errAlgorithmNone = errors.New("token uses the none algorithm")

// TokenService issues and verifies HS256 session tokens. The signing key is
// read-only for the lifetime of the process; rotation requires restart.
type TokenService struct {
	key      []byte
	adminTTL time.Duration
	guestTTL time.Duration
	now      func() time.Time
}

// NewTokenService creates a token service with the given signing key.
func NewTokenService(signingKey string, adminTTL, guestTTL time.Duration) *TokenService {
	return &TokenService{
		key:      []byte(signingKey),
		adminTTL: adminTTL,
		guestTTL: guestTTL,
		now:      time.Now,
	}
}

// IssueAdmin signs an admin session token.
func (s *TokenService) IssueAdmin(subject string) (string, *Claims, error) {
	return s.issue(&Claims{
		RegisteredClaims: s.registered(subject, s.adminTTL),
		Role:             RoleAdmin,
	})
}

// IssueGuest signs a guest token carrying the permissions the issuing admin
// granted. A non-positive ttl falls back to the configured guest TTL.
func (s *TokenService) IssueGuest(subject string, permissions []string, ttl time.Duration, issuedBy, qrID string) (string, *Claims, error) {
	if ttl <= 0 {
		ttl = s.guestTTL
	}
	return s.issue(&Claims{
		RegisteredClaims: s.registered(subject, ttl),
		Role:             RoleGuest,
		Permissions:      permissions,
		IssuedBy:         issuedBy,
		QRID:             qrID,
	})
}

func (s *TokenService) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) issue(claims *Claims) (string, *Claims, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify validates a token's signature and expiry. Only HS256 is accepted;
// a token declaring alg "none" fails with errAlgorithmNone so callers can
// audit it separately from garden-variety invalid tokens.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	if declaresAlgNone(tokenString) {
		return nil, errAlgorithmNone
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.ErrTokenExpired
		}
		return nil, apperror.ErrInvalidToken.WithInternal(err)
	}
	if !token.Valid {
		return nil, apperror.ErrInvalidToken
	}
	if claims.Role != RoleAdmin && claims.Role != RoleGuest {
		return nil, apperror.ErrInvalidToken.WithMessage("unknown role in token")
	}
	return claims, nil
}

// declaresAlgNone decodes the JOSE header and reports whether it declares the
// unsigned "none" algorithm, case-insensitively per RFC 7518.
func declaresAlgNone(tokenString string) bool {
	head, _, _ := strings.Cut(tokenString, ".")
	raw, err := base64.RawURLEncoding.DecodeString(head)
	if err != nil {
		return false
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return false
	}
	return strings.EqualFold(header.Alg, "none")
}
