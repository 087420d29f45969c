package handler

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthStateManager(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	orgID := uuid.New()

	t.Run("round trips organization and nonce", func(t *testing.T) {
		m := NewOAuthStateManager(secret, 10*time.Minute)

		state, nonce, err := m.Issue(orgID)
		require.NoError(t, err)
		require.NotEmpty(t, state)
		require.NotEmpty(t, nonce)

		gotOrg, gotNonce, err := m.Verify(state)
		require.NoError(t, err)
		assert.Equal(t, orgID, gotOrg)
		assert.Equal(t, nonce, gotNonce)
	})

	t.Run("each issue gets a distinct nonce", func(t *testing.T) {
		m := NewOAuthStateManager(secret, 10*time.Minute)

		_, nonce1, err := m.Issue(orgID)
		require.NoError(t, err)
		_, nonce2, err := m.Issue(orgID)
		require.NoError(t, err)

		assert.NotEqual(t, nonce1, nonce2)
	})

	t.Run("rejects tokens signed with another secret", func(t *testing.T) {
		m := NewOAuthStateManager(secret, 10*time.Minute)
		other := NewOAuthStateManager("another-secret-value-entirely-xx", 10*time.Minute)

		state, _, err := other.Issue(orgID)
		require.NoError(t, err)

		_, _, err = m.Verify(state)
		assert.ErrorIs(t, err, ErrStateInvalid)
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		m := NewOAuthStateManager(secret, 10*time.Minute)
		expired := &OAuthStateManager{secret: []byte(secret), ttl: -time.Minute}

		state, _, err := expired.Issue(orgID)
		require.NoError(t, err)

		_, _, err = m.Verify(state)
		assert.ErrorIs(t, err, ErrStateExpired)
	})

	t.Run("rejects tampered tokens", func(t *testing.T) {
		m := NewOAuthStateManager(secret, 10*time.Minute)

		state, _, err := m.Issue(orgID)
		require.NoError(t, err)

		tampered := state[:len(state)-2] + "xx"
		_, _, err = m.Verify(tampered)
		assert.ErrorIs(t, err, ErrStateInvalid)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		m := NewOAuthStateManager(secret, 10*time.Minute)
		_, _, err := m.Verify("not-a-jwt")
		assert.ErrorIs(t, err, ErrStateInvalid)
	})
}
