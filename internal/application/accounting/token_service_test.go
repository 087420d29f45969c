package accounting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
)

func seedConnection(t *testing.T, repo *fakeConnectionRepo, expiresIn time.Duration) (uuid.UUID, *accounting.Connection) {
	t.Helper()
	orgID := uuid.New()
	conn := accounting.NewConnection(orgID, "9130350", accounting.TokenPair{
		AccessToken:  "stale-access",
		RefreshToken: "current-refresh",
		ExpiresAt:    time.Now().Add(expiresIn),
	})
	require.NoError(t, repo.Create(context.Background(), conn))
	return orgID, conn
}

func TestTokenService_FreshConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the stored token while fresh", func(t *testing.T) {
		repo := newFakeConnectionRepo()
		endpoint := &fakeTokenEndpoint{}
		orgID, _ := seedConnection(t, repo, time.Hour)

		svc := NewTokenService(TokenServiceConfig{Connections: repo, Endpoint: endpoint, Margin: 2 * time.Minute})

		conn, err := svc.FreshConnection(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, "stale-access", conn.AccessToken)
		assert.Equal(t, 0, endpoint.refreshCount())
	})

	t.Run("refreshes an expiring token and persists the result", func(t *testing.T) {
		repo := newFakeConnectionRepo()
		endpoint := &fakeTokenEndpoint{pair: accounting.TokenPair{
			AccessToken:  "fresh-access",
			RefreshToken: "rotated-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		}}
		orgID, _ := seedConnection(t, repo, 30*time.Second)

		svc := NewTokenService(TokenServiceConfig{Connections: repo, Endpoint: endpoint, Margin: 2 * time.Minute})

		conn, err := svc.FreshConnection(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, "fresh-access", conn.AccessToken)
		assert.Equal(t, 1, endpoint.refreshCount())

		stored, err := repo.FindByOrganization(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, "fresh-access", stored.AccessToken)
		assert.Equal(t, "rotated-refresh", stored.RefreshToken)
	})

	t.Run("concurrent callers share one refresh", func(t *testing.T) {
		repo := newFakeConnectionRepo()
		endpoint := &fakeTokenEndpoint{
			delay: 50 * time.Millisecond,
			pair: accounting.TokenPair{
				AccessToken:  "fresh-access",
				RefreshToken: "rotated-refresh",
				ExpiresAt:    time.Now().Add(time.Hour),
			},
		}
		orgID, _ := seedConnection(t, repo, 0)

		svc := NewTokenService(TokenServiceConfig{Connections: repo, Endpoint: endpoint, Margin: 2 * time.Minute})

		const callers = 10
		var wg sync.WaitGroup
		results := make([]string, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				conn, err := svc.FreshConnection(ctx, orgID)
				if assert.NoError(t, err) {
					results[n] = conn.AccessToken
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, endpoint.refreshCount(), "exactly one refresh request may reach the provider")
		for _, token := range results {
			assert.Equal(t, "fresh-access", token)
		}
	})

	t.Run("revoked refresh token errors the connection", func(t *testing.T) {
		repo := newFakeConnectionRepo()
		endpoint := &fakeTokenEndpoint{err: accounting.NewReauthorizationRequiredError("refresh token revoked")}
		orgID, _ := seedConnection(t, repo, 0)

		svc := NewTokenService(TokenServiceConfig{Connections: repo, Endpoint: endpoint, Margin: 2 * time.Minute})

		_, err := svc.FreshConnection(ctx, orgID)
		assert.Equal(t, accounting.ErrorKindReauthorizationRequired, accounting.KindOf(err))

		stored, err := repo.FindByOrganization(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, accounting.ConnectionStatusError, stored.Status)

		// Subsequent calls fail fast without touching the endpoint again.
		before := endpoint.refreshCount()
		_, err = svc.FreshConnection(ctx, orgID)
		assert.Equal(t, accounting.ErrorKindReauthorizationRequired, accounting.KindOf(err))
		assert.Equal(t, before, endpoint.refreshCount())
	})

	t.Run("transient endpoint failure does not error the connection", func(t *testing.T) {
		repo := newFakeConnectionRepo()
		endpoint := &fakeTokenEndpoint{err: accounting.NewTransientError("token endpoint unavailable", nil)}
		orgID, _ := seedConnection(t, repo, 0)

		svc := NewTokenService(TokenServiceConfig{Connections: repo, Endpoint: endpoint, Margin: 2 * time.Minute})

		_, err := svc.FreshConnection(ctx, orgID)
		assert.Equal(t, accounting.ErrorKindTransient, accounting.KindOf(err))

		stored, err := repo.FindByOrganization(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, accounting.ConnectionStatusConnected, stored.Status)
	})

	t.Run("disconnected organization is not connected", func(t *testing.T) {
		repo := newFakeConnectionRepo()
		svc := NewTokenService(TokenServiceConfig{Connections: repo, Endpoint: &fakeTokenEndpoint{}})

		_, err := svc.FreshConnection(ctx, uuid.New())
		assert.ErrorIs(t, err, accounting.ErrNotConnected)
	})
}
