package accounting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
)

type staticAuthorize struct{}

func (staticAuthorize) AuthCodeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func newConnectionService(connections *fakeConnectionRepo, jobs *fakeJobRepo, endpoint *fakeTokenEndpoint) *ConnectionService {
	return NewConnectionService(ConnectionServiceConfig{
		Connections: connections,
		Jobs:        jobs,
		Endpoint:    endpoint,
		Authorize:   staticAuthorize{},
	})
}

func TestConnectionService_CompleteConnect(t *testing.T) {
	ctx := context.Background()
	pair := accounting.TokenPair{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	t.Run("stores the connection from the callback", func(t *testing.T) {
		connections := newFakeConnectionRepo()
		svc := newConnectionService(connections, newFakeJobRepo(), &fakeTokenEndpoint{pair: pair})
		orgID := uuid.New()

		conn, err := svc.CompleteConnect(ctx, orgID, "auth-code", "9130350")
		require.NoError(t, err)
		assert.Equal(t, "9130350", conn.RealmID)
		assert.True(t, conn.Settings.Enabled)

		stored, err := connections.FindByOrganization(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, conn.ID, stored.ID)
	})

	t.Run("rejects a second connection", func(t *testing.T) {
		connections := newFakeConnectionRepo()
		svc := newConnectionService(connections, newFakeJobRepo(), &fakeTokenEndpoint{pair: pair})
		orgID := uuid.New()

		_, err := svc.CompleteConnect(ctx, orgID, "auth-code", "9130350")
		require.NoError(t, err)

		_, err = svc.CompleteConnect(ctx, orgID, "auth-code-2", "9999999")
		assert.ErrorIs(t, err, accounting.ErrAlreadyConnected)
	})

	t.Run("propagates a failed code exchange", func(t *testing.T) {
		connections := newFakeConnectionRepo()
		endpoint := &fakeTokenEndpoint{err: accounting.NewValidationRejectedError("invalid code")}
		svc := newConnectionService(connections, newFakeJobRepo(), endpoint)

		_, err := svc.CompleteConnect(ctx, uuid.New(), "bad-code", "9130350")
		assert.Error(t, err)
	})
}

func TestConnectionService_Disconnect(t *testing.T) {
	ctx := context.Background()

	connections := newFakeConnectionRepo()
	jobs := newFakeJobRepo()
	svc := newConnectionService(connections, jobs, &fakeTokenEndpoint{})
	orgID, _ := seedConnection(t, connections, time.Hour)

	invoiceID := uuid.New()
	_, err := jobs.Enqueue(ctx, orgID, accounting.EntityTypeInvoice, invoiceID, accounting.ReasonLocalMutation)
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect(ctx, orgID))

	_, err = connections.FindByOrganization(ctx, orgID)
	assert.ErrorIs(t, err, accounting.ErrNotConnected)

	counts, err := jobs.CountByState(ctx, orgID)
	require.NoError(t, err)
	assert.Zero(t, counts[accounting.JobStatePending])
	assert.Equal(t, int64(1), counts[accounting.JobStateDead])
}

func TestConnectionService_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	connections := newFakeConnectionRepo()
	svc := newConnectionService(connections, newFakeJobRepo(), &fakeTokenEndpoint{})
	orgID, _ := seedConnection(t, connections, time.Hour)

	conn, err := svc.UpdateSettings(ctx, orgID, accounting.SyncSettings{
		Enabled:         false,
		AccountMappings: map[string]string{"labor": "81"},
	})
	require.NoError(t, err)
	assert.False(t, conn.Settings.Enabled)

	stored, err := connections.FindByOrganization(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "81", stored.Settings.AccountMappings["labor"])
}

func TestDiagnosticsService_Status(t *testing.T) {
	ctx := context.Background()
	connections := newFakeConnectionRepo()
	jobs := newFakeJobRepo()
	svc := NewDiagnosticsService(connections, jobs, nil)

	t.Run("unconnected organization reads as disconnected", func(t *testing.T) {
		view, err := svc.Status(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, view.Connected)
		assert.Equal(t, string(accounting.ConnectionStatusDisconnected), view.Status)
	})

	t.Run("reports counts and categorized failures", func(t *testing.T) {
		orgID, _ := seedConnection(t, connections, time.Hour)

		job, err := jobs.Enqueue(ctx, orgID, accounting.EntityTypeInvoice, uuid.New(), accounting.ReasonLocalMutation)
		require.NoError(t, err)
		job.Fail(accounting.ErrorKindValidationRejected, "Invalid Reference Id", accounting.DefaultBackoffPolicy(), 0)
		require.NoError(t, jobs.MarkFailed(ctx, "", job))

		view, err := svc.Status(ctx, orgID)
		require.NoError(t, err)
		assert.True(t, view.Connected)
		assert.Equal(t, int64(1), view.JobCounts[accounting.JobStateFailed])
		require.Len(t, view.RecentFailures, 1)
		assert.Equal(t, "validation_rejected", view.RecentFailures[0].Kind)
		assert.Equal(t, "Invalid Reference Id", view.RecentFailures[0].Summary)
	})
}

func TestDiagnosticsService_RetryJob(t *testing.T) {
	ctx := context.Background()
	connections := newFakeConnectionRepo()
	jobs := newFakeJobRepo()
	svc := NewDiagnosticsService(connections, jobs, nil)
	orgID, _ := seedConnection(t, connections, time.Hour)

	job, err := jobs.Enqueue(ctx, orgID, accounting.EntityTypeInvoice, uuid.New(), accounting.ReasonLocalMutation)
	require.NoError(t, err)
	job.MarkDead(accounting.ErrorKindValidationRejected, "rejected")
	require.NoError(t, jobs.MarkFailed(ctx, "", job))

	t.Run("resets a dead job", func(t *testing.T) {
		reset, err := svc.RetryJob(ctx, orgID, job.ID)
		require.NoError(t, err)
		assert.Equal(t, accounting.JobStatePending, reset.State)
		assert.Equal(t, accounting.ReasonManualRetry, reset.Reason)
	})

	t.Run("hides jobs of other organizations", func(t *testing.T) {
		_, err := svc.RetryJob(ctx, uuid.New(), job.ID)
		assert.Error(t, err)
	})
}
