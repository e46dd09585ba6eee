package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeStoreSingleUse(t *testing.T) {
	s := NewCodeStore()

	code, err := s.Generate([]string{PermissionRead}, time.Hour, "admin")
	require.NoError(t, err)
	assert.Len(t, code.Code, 32)
	assert.NotEmpty(t, code.QRID)

	redeemed, err := s.Redeem(code.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{PermissionRead}, redeemed.Permissions)
	assert.Equal(t, time.Hour, redeemed.TokenTTL)
	assert.Equal(t, "admin", redeemed.IssuedBy)

	// Presenting the same code again is refused.
	_, err = s.Redeem(code.Code)
	assert.Error(t, err)
}

func TestCodeStoreUnknownCode(t *testing.T) {
	s := NewCodeStore()
	_, err := s.Redeem("no-such-code")
	assert.Error(t, err)
}

func TestCodeStoreExpiry(t *testing.T) {
	s := NewCodeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	code, err := s.Generate(nil, time.Hour, "admin")
	require.NoError(t, err)

	now = now.Add(codeValidity + time.Second)
	_, err = s.Redeem(code.Code)
	assert.Error(t, err)
}

func TestCodeStoreSweep(t *testing.T) {
	s := NewCodeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	expired, err := s.Generate(nil, time.Hour, "admin")
	require.NoError(t, err)
	now = now.Add(codeValidity + time.Second)
	fresh, err := s.Generate(nil, time.Hour, "admin")
	require.NoError(t, err)

	s.Sweep()

	s.mu.Lock()
	_, hasExpired := s.codes[expired.Code]
	_, hasFresh := s.codes[fresh.Code]
	s.mu.Unlock()

	assert.False(t, hasExpired)
	assert.True(t, hasFresh)
}
