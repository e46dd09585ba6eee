package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := ErrParentUnknown.WithMessage("parent v0 missing for entity E1")
	assert.ErrorIs(t, err, ErrParentUnknown)
	assert.NotErrorIs(t, err, ErrTypeImmutable)
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewStoreUnavailable(inner)
	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRetryable(t *testing.T) {
	assert.True(t, ErrStoreUnavailable.Retryable())
	assert.True(t, ErrTooManyRequests.Retryable())
	assert.False(t, ErrInvalidArgument.Retryable())
	assert.False(t, ErrParentUnknown.Retryable())
	assert.False(t, ErrProtocolMismatch.Retryable())
}

func TestWithDetailsDoesNotMutateSentinel(t *testing.T) {
	err := ErrTooManyRequests.WithDetails(map[string]any{"retry_after": 900})
	assert.Equal(t, 900, err.Details["retry_after"])
	assert.Nil(t, ErrTooManyRequests.Details)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
}

func TestTaxonomyStatusCodes(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ErrInvalidArgument, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrParentUnknown, http.StatusBadRequest},
		{ErrTypeImmutable, http.StatusBadRequest},
		{ErrTooManyRequests, http.StatusTooManyRequests},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrStoreUnavailable, http.StatusServiceUnavailable},
		{ErrProtocolMismatch, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus)
		})
	}
}
