package accounting

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("extracts kind from wrapped chain", func(t *testing.T) {
		err := fmt.Errorf("processing job: %w", NewRateLimitedError(time.Minute, errors.New("429")))

		assert.Equal(t, ErrorKindRateLimited, KindOf(err))
		assert.Equal(t, time.Minute, RetryAfterOf(err))
	})

	t.Run("defaults unclassified errors to transient", func(t *testing.T) {
		assert.Equal(t, ErrorKindTransient, KindOf(errors.New("dial tcp: timeout")))
		assert.Zero(t, RetryAfterOf(errors.New("dial tcp: timeout")))
	})
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, ErrorKindTransient.Retryable())
	assert.True(t, ErrorKindRateLimited.Retryable())
	assert.True(t, ErrorKindValidationRejected.Retryable())
	assert.False(t, ErrorKindReauthorizationRequired.Retryable())
	assert.False(t, ErrorKindNotFoundRemote.Retryable())
	assert.False(t, ErrorKindPermanentLocal.Retryable())
}

func TestSyncError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransientError("create invoice", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient_network")
	assert.Contains(t, err.Error(), "connection refused")
}
