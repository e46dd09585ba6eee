package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/homegraph/homegraph/internal/config"
	"github.com/homegraph/homegraph/internal/database"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config error", fmt.Errorf("%w: SIGNING_KEY is required", config.ErrInvalid), 2},
		{"storage unavailable", fmt.Errorf("%w: ping: connection refused", database.ErrStartupUnavailable), 3},
		{"wrapped config error", fmt.Errorf("fx provide: %w", fmt.Errorf("%w: PORT 0 out of range", config.ErrInvalid)), 2},
		{"anything else", errors.New("listen tcp: address in use"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
