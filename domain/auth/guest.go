package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homegraph/homegraph/pkg/apperror"
)

// codeValidity is how long an unredeemed enrollment code stays presentable.
const codeValidity = 10 * time.Minute

// GuestCode is one single-use enrollment code generated for a QR handoff.
type GuestCode struct {
	Code        string
	QRID        string
	Permissions []string
	TokenTTL    time.Duration
	IssuedBy    string
	ExpiresAt   time.Time

	used bool
}

// CodeStore holds outstanding enrollment codes. Codes are single-use and
// process-local; an unredeemed code dies with the process.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*GuestCode
	now   func() time.Time
}

// NewCodeStore creates an empty code store.
func NewCodeStore() *CodeStore {
	return &CodeStore{
		codes: make(map[string]*GuestCode),
		now:   time.Now,
	}
}

// Generate mints a new one-time code granting the given permissions. tokenTTL
// bounds the lifetime of the guest token issued on redemption, not of the
// code itself.
func (s *CodeStore) Generate(permissions []string, tokenTTL time.Duration, issuedBy string) (*GuestCode, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	code := &GuestCode{
		Code:        hex.EncodeToString(raw),
		QRID:        uuid.NewString(),
		Permissions: append([]string(nil), permissions...),
		TokenTTL:    tokenTTL,
		IssuedBy:    issuedBy,
		ExpiresAt:   s.now().UTC().Add(codeValidity),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return code, nil
}

// Redeem consumes a code. Unknown, expired and already-used codes are all
// refused identically so a caller cannot probe which it was.
func (s *CodeStore) Redeem(code string) (*GuestCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok || c.used || s.now().After(c.ExpiresAt) {
		return nil, apperror.ErrInvalidToken.WithMessage("Enrollment code is invalid or expired")
	}
	c.used = true
	delete(s.codes, code)
	return c, nil
}

// Sweep drops expired codes. Registered with the process scheduler.
func (s *CodeStore) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for code, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, code)
		}
	}
}
