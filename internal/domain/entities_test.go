package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func TestRetryable(t *testing.T) {
	permanent := []error{
		domain.ErrInvalidArgument,
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrUnauthorized,
		domain.ErrInsufficientCredits,
		domain.ErrContentPolicy,
		domain.ErrProviderPermanent,
	}
	for _, err := range permanent {
		assert.False(t, domain.Retryable(err), err.Error())
		assert.False(t, domain.Retryable(fmt.Errorf("wrapped: %w", err)), err.Error())
	}

	assert.True(t, domain.Retryable(domain.ErrTransient))
	assert.True(t, domain.Retryable(domain.ErrInternal))
	assert.True(t, domain.Retryable(errors.New("connection reset by peer")))
}

func TestAttemptCap(t *testing.T) {
	// Classified errors run to the configured maximum.
	assert.Equal(t, 3, domain.AttemptCap(domain.ErrTransient, 3))
	assert.Equal(t, 3, domain.AttemptCap(fmt.Errorf("voice: %w", domain.ErrTransient), 3))
	assert.Equal(t, 3, domain.AttemptCap(domain.ErrInternal, 3))
	assert.Equal(t, 3, domain.AttemptCap(domain.ErrProviderPermanent, 3))

	// Anything outside the taxonomy gets one retry, never more.
	assert.Equal(t, 2, domain.AttemptCap(errors.New("boom"), 3))
	assert.Equal(t, 2, domain.AttemptCap(errors.New("boom"), 10))
	assert.Equal(t, 1, domain.AttemptCap(errors.New("boom"), 1))
}
