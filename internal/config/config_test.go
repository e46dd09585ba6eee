package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SIGNING_KEY", "test-signing-key")
	t.Setenv("ADMIN_PASSWORD_HASH", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA")
}

func TestNewConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 168*time.Hour, cfg.Auth.AdminTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.GuestTokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RateLimitWindow)
	assert.Equal(t, 5, cfg.Auth.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cfg.Auth.RateLimitLockout)
	assert.Equal(t, 50*time.Millisecond, cfg.Auth.RateLimitBaseDelay)
	assert.Equal(t, 1000, cfg.Sync.BatchMax)
	assert.Contains(t, cfg.Auth.GuestReadableTypes, "room")
}

func TestNewConfigMissingSigningKey(t *testing.T) {
	t.Setenv("SIGNING_KEY", "")
	t.Setenv("ADMIN_PASSWORD_HASH", "x")

	_, err := NewConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "SIGNING_KEY")
}

func TestNewConfigMissingAdminHash(t *testing.T) {
	t.Setenv("SIGNING_KEY", "k")
	t.Setenv("ADMIN_PASSWORD_HASH", "")

	_, err := NewConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD_HASH")
}

func TestNewConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SYNC_BATCH_MAX", "250")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 250, cfg.Sync.BatchMax)
	assert.Equal(t, time.Minute, cfg.Auth.RateLimitWindow)
}

func TestNewConfigRejectsBadPort(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "70000")

	_, err := NewConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}
