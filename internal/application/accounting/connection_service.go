package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

// AuthorizeURLBuilder builds the provider consent URL for the connect flow
type AuthorizeURLBuilder interface {
	AuthCodeURL(state string) string
}

// ConnectionService drives the connection lifecycle: the OAuth connect
// flow, settings changes, and disconnect.
type ConnectionService struct {
	connections accounting.ConnectionRepository
	jobs        accounting.SyncJobRepository
	endpoint    accounting.TokenEndpoint
	authorize   AuthorizeURLBuilder
	publisher   shared.EventPublisher
	logger      *zap.Logger
}

// ConnectionServiceConfig holds the dependencies for ConnectionService
type ConnectionServiceConfig struct {
	Connections accounting.ConnectionRepository
	Jobs        accounting.SyncJobRepository
	Endpoint    accounting.TokenEndpoint
	Authorize   AuthorizeURLBuilder
	Publisher   shared.EventPublisher
	Logger      *zap.Logger
}

// NewConnectionService creates a new ConnectionService
func NewConnectionService(cfg ConnectionServiceConfig) *ConnectionService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionService{
		connections: cfg.Connections,
		jobs:        cfg.Jobs,
		endpoint:    cfg.Endpoint,
		authorize:   cfg.Authorize,
		publisher:   cfg.Publisher,
		logger:      logger,
	}
}

// AuthorizeURL returns the provider consent URL carrying the given opaque
// state
func (s *ConnectionService) AuthorizeURL(state string) string {
	return s.authorize.AuthCodeURL(state)
}

// CompleteConnect finishes the OAuth flow: it trades the authorization code
// for tokens and stores the connection. An organization can hold only one
// active connection.
func (s *ConnectionService) CompleteConnect(ctx context.Context, organizationID uuid.UUID, code, realmID string) (*accounting.Connection, error) {
	pair, err := s.endpoint.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("authorization code exchange failed",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	conn := accounting.NewConnection(organizationID, realmID, pair)
	if err := s.connections.Create(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("accounting connection established",
		zap.String("organization_id", organizationID.String()),
		zap.String("realm_id", realmID),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewConnectionEstablishedEvent(conn))
	}
	return conn, nil
}

// Reconnect replaces an errored connection's credentials after the user
// reauthorizes. The existing connection record is kept so job history and
// settings survive.
func (s *ConnectionService) Reconnect(ctx context.Context, organizationID uuid.UUID, code, realmID string) (*accounting.Connection, error) {
	conn, err := s.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	pair, err := s.endpoint.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	conn.RealmID = realmID
	conn.ApplyTokens(pair)
	if err := s.connections.Update(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("accounting connection reauthorized",
		zap.String("organization_id", organizationID.String()),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewConnectionEstablishedEvent(conn))
	}
	return conn, nil
}

// UpdateSettings replaces the organization's sync settings
func (s *ConnectionService) UpdateSettings(ctx context.Context, organizationID uuid.UUID, settings accounting.SyncSettings) (*accounting.Connection, error) {
	conn, err := s.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	conn.Settings = settings
	conn.UpdatedAt = time.Now()
	if err := s.connections.Update(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Disconnect severs the connection and cancels the organization's queued
// jobs. Local invoices are untouched; only synchronization stops.
func (s *ConnectionService) Disconnect(ctx context.Context, organizationID uuid.UUID) error {
	conn, err := s.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		return err
	}

	conn.Disconnect()
	if err := s.connections.Update(ctx, conn); err != nil {
		return err
	}

	cancelled, err := s.jobs.CancelPendingForOrganization(ctx, organizationID)
	if err != nil {
		s.logger.Error("failed to cancel queued jobs on disconnect",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("accounting connection disconnected",
		zap.String("organization_id", organizationID.String()),
		zap.Int64("cancelled_jobs", cancelled),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewConnectionDisconnectedEvent(conn, cancelled))
	}
	return nil
}
