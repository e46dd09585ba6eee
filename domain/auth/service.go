package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/homegraph/homegraph/domain/audit"
	"github.com/homegraph/homegraph/internal/config"
	"github.com/homegraph/homegraph/pkg/apperror"
	"github.com/homegraph/homegraph/pkg/logger"
)

// adminSubject is the subject id of the single provisioned admin account.
const adminSubject = "admin"

// PasswordStore persists the admin credential; *Repository in production.
type PasswordStore interface {
	GetPasswordRecord(ctx context.Context) (*PasswordRecord, error)
	SetPasswordRecord(ctx context.Context, rec *PasswordRecord) error
}

// Service implements login, guest enrollment and token verification, with
// rate limiting and audit logging wired through every outcome.
type Service struct {
	cfg     *config.Config
	repo    PasswordStore
	tokens  *TokenService
	limiter *Limiter
	codes   *CodeStore
	audit   audit.Recorder
	log     *slog.Logger

	readableTypes map[string]bool

	// sleep applies the progressive delay; injectable for tests.
	sleep func(context.Context, time.Duration)
}

// NewService creates the auth service.
func NewService(cfg *config.Config, repo *Repository, auditLog *audit.Logger, log *slog.Logger) *Service {
	readable := make(map[string]bool, len(cfg.Auth.GuestReadableTypes))
	for _, t := range cfg.Auth.GuestReadableTypes {
		readable[t] = true
	}

	return &Service{
		cfg:           cfg,
		repo:          repo,
		tokens:        NewTokenService(cfg.Auth.SigningKey, cfg.Auth.AdminTokenTTL, cfg.Auth.GuestTokenTTL),
		limiter:       NewLimiter(cfg.Auth.RateLimitWindow, cfg.Auth.RateLimitMax, cfg.Auth.RateLimitLockout, cfg.Auth.RateLimitBaseDelay),
		codes:         NewCodeStore(),
		audit:         auditLog,
		log:           log.With(logger.Scope("auth.svc")),
		readableTypes: readable,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Limiter exposes the rate limiter for background sweeping.
func (s *Service) Limiter() *Limiter { return s.limiter }

// Codes exposes the enrollment code store for background sweeping.
func (s *Service) Codes() *CodeStore { return s.codes }

// SeedPasswordRecord writes the pre-provisioned admin hash into auth_config
// when the table has no record yet. Called once at startup.
func (s *Service) SeedPasswordRecord(ctx context.Context) error {
	_, err := s.repo.GetPasswordRecord(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	s.log.Info("seeding admin password record from environment")
	return s.repo.SetPasswordRecord(ctx, &PasswordRecord{
		Hash:      s.cfg.Auth.AdminPasswordHash,
		Algorithm: "argon2id",
		CreatedAt: time.Now().UTC(),
	})
}

// TokenResult is an issued session token.
type TokenResult struct {
	Token     string
	Role      Role
	ExpiresAt time.Time
}

// Login exchanges the admin password for a session token. Failures are rate
// limited per IP with progressive delay and a lockout on the attempt after
// the window is exhausted.
func (s *Service) Login(ctx context.Context, password, clientIP string) (*TokenResult, error) {
	if err := s.checkLimit(ctx, clientIP, "login"); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetPasswordRecord(ctx)
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, rec.Hash)
	if err != nil {
		return nil, apperror.NewInternal("password verification failed", err)
	}
	if !ok {
		s.audit.Record(audit.Event{
			Event:     audit.AuthFailure,
			ClientIP:  clientIP,
			SubjectID: adminSubject,
			Detail:    map[string]any{"reason": "wrong_password"},
		})
		return nil, apperror.ErrUnauthorized.WithMessage("Invalid credentials")
	}

	token, claims, err := s.tokens.IssueAdmin(adminSubject)
	if err != nil {
		return nil, apperror.NewInternal("token issuance failed", err)
	}

	s.audit.Record(audit.Event{Event: audit.AuthSuccess, ClientIP: clientIP, SubjectID: adminSubject})
	s.audit.Record(audit.Event{
		Event:     audit.TokenIssued,
		ClientIP:  clientIP,
		SubjectID: adminSubject,
		Detail:    map[string]any{"role": string(RoleAdmin), "token_id": claims.ID},
	})

	return &TokenResult{Token: token, Role: RoleAdmin, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// checkLimit runs one attempt through the limiter, applying the progressive
// delay and auditing lockouts.
func (s *Service) checkLimit(ctx context.Context, clientIP, operation string) error {
	dec := s.limiter.Attempt(clientIP)
	if dec.Allowed {
		s.sleep(ctx, dec.Delay)
		return nil
	}

	kind := audit.SuspiciousRateLimit
	if dec.Locked {
		kind = audit.AuthLockout
	}
	s.audit.Record(audit.Event{
		Event:    kind,
		ClientIP: clientIP,
		Detail: map[string]any{
			"operation":   operation,
			"retry_after": dec.RetryAfter.Seconds(),
		},
	})

	return apperror.ErrTooManyRequests.WithDetails(map[string]any{
		"retry_after": int(dec.RetryAfter.Seconds()),
	})
}

// GuestQR is the enrollment artifact embedded in a QR code: the one-time
// code, the server's identity and the granted permissions.
type GuestQR struct {
	Code        string    `json:"code"`
	ServerID    string    `json:"server_id"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// GenerateGuestQR mints a one-time enrollment code. Admin only; enforced at
// the route. tokenTTL bounds the guest token issued on redemption.
func (s *Service) GenerateGuestQR(ctx context.Context, issuedBy string, permissions []string, tokenTTL time.Duration, clientIP string) (*GuestQR, error) {
	for _, p := range permissions {
		if p != PermissionRead {
			return nil, apperror.NewInvalidArgument("unknown permission " + p)
		}
	}
	if len(permissions) == 0 {
		permissions = []string{PermissionRead}
	}

	code, err := s.codes.Generate(permissions, tokenTTL, issuedBy)
	if err != nil {
		return nil, apperror.NewInternal("code generation failed", err)
	}

	s.audit.Record(audit.Event{
		Event:     audit.GuestQRGenerated,
		ClientIP:  clientIP,
		SubjectID: issuedBy,
		Detail: map[string]any{
			"qr_id":       code.QRID,
			"permissions": permissions,
			"token_ttl":   tokenTTL.String(),
		},
	})

	return &GuestQR{
		Code:        code.Code,
		ServerID:    tokenIssuer,
		Permissions: code.Permissions,
		ExpiresAt:   code.ExpiresAt,
	}, nil
}

// RedeemGuestCode exchanges a one-time enrollment code for a guest token.
// Redemption attempts are rate limited like logins.
func (s *Service) RedeemGuestCode(ctx context.Context, code, clientIP string) (*TokenResult, error) {
	if err := s.checkLimit(ctx, clientIP, "guest_redeem"); err != nil {
		return nil, err
	}

	gc, err := s.codes.Redeem(code)
	if err != nil {
		s.audit.Record(audit.Event{
			Event:    audit.AuthFailure,
			ClientIP: clientIP,
			Detail:   map[string]any{"reason": "bad_guest_code"},
		})
		return nil, err
	}

	subject := "guest-" + gc.QRID
	token, claims, err := s.tokens.IssueGuest(subject, gc.Permissions, gc.TokenTTL, gc.IssuedBy, gc.QRID)
	if err != nil {
		return nil, apperror.NewInternal("token issuance failed", err)
	}

	s.audit.Record(audit.Event{
		Event:     audit.GuestTokenIssued,
		ClientIP:  clientIP,
		SubjectID: subject,
		Detail: map[string]any{
			"qr_id":       gc.QRID,
			"issued_by":   gc.IssuedBy,
			"permissions": gc.Permissions,
		},
	})

	return &TokenResult{Token: token, Role: RoleGuest, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// VerifyToken validates a bearer token and builds the request principal.
func (s *Service) VerifyToken(tokenString, clientIP string) (*Principal, error) {
	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		switch {
		case errors.Is(err, errAlgorithmNone):
			s.audit.Record(audit.Event{Event: audit.SuspiciousInvalidAlgorithm, ClientIP: clientIP})
			return nil, apperror.ErrInvalidToken
		case errors.Is(err, apperror.ErrTokenExpired):
			s.audit.Record(audit.Event{Event: audit.TokenExpired, ClientIP: clientIP})
		default:
			s.audit.Record(audit.Event{Event: audit.TokenInvalid, ClientIP: clientIP})
		}
		return nil, err
	}

	p := &Principal{
		UserID:      claims.Subject,
		Role:        claims.Role,
		TokenID:     claims.ID,
		Permissions: claims.Permissions,
	}
	if p.Role == RoleGuest {
		p.ReadableTypes = s.readableTypes
		s.audit.Record(audit.Event{Event: audit.GuestAccess, ClientIP: clientIP, SubjectID: p.UserID})
	} else {
		s.audit.Record(audit.Event{Event: audit.TokenVerified, ClientIP: clientIP, SubjectID: p.UserID})
	}
	return p, nil
}

// SetAdminPassword replaces the stored admin credential. Strength rules are
// enforced here, on set, never on verify.
func (s *Service) SetAdminPassword(ctx context.Context, password string) error {
	if err := ValidatePasswordStrength(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return apperror.NewInternal("password hashing failed", err)
	}
	return s.repo.SetPasswordRecord(ctx, &PasswordRecord{
		Hash:      hash,
		Algorithm: "argon2id",
		CreatedAt: time.Now().UTC(),
	})
}
