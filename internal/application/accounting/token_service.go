package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

// TokenService hands out fresh access tokens for outbound provider calls.
// Refreshes are deduplicated per organization: when several workers hit an
// expiring token at once, exactly one refresh request reaches the provider
// and the rest share its result.
type TokenService struct {
	connections accounting.ConnectionRepository
	endpoint    accounting.TokenEndpoint
	margin      time.Duration
	publisher   shared.EventPublisher
	logger      *zap.Logger

	group singleflight.Group
}

// TokenServiceConfig holds the dependencies for TokenService
type TokenServiceConfig struct {
	Connections accounting.ConnectionRepository
	Endpoint    accounting.TokenEndpoint
	// Margin is how long before expiry a token is treated as stale
	Margin    time.Duration
	Publisher shared.EventPublisher
	Logger    *zap.Logger
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	margin := cfg.Margin
	if margin <= 0 {
		margin = 2 * time.Minute
	}
	return &TokenService{
		connections: cfg.Connections,
		endpoint:    cfg.Endpoint,
		margin:      margin,
		publisher:   cfg.Publisher,
		logger:      logger,
	}
}

// FreshConnection returns the organization's connection with an access token
// valid for at least the configured margin, refreshing it first when needed.
// A revoked refresh token flips the connection into the error state and
// surfaces as ErrorKindReauthorizationRequired.
func (s *TokenService) FreshConnection(ctx context.Context, organizationID uuid.UUID) (*accounting.Connection, error) {
	conn, err := s.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if conn.Status == accounting.ConnectionStatusError {
		return nil, accounting.NewReauthorizationRequiredError("connection requires reauthorization")
	}
	if conn.TokenFresh(s.margin) {
		return conn, nil
	}

	// Collapse concurrent refreshes for the same organization into one
	// provider call. Refresh tokens may be single-use: a doubled refresh
	// can invalidate the connection entirely.
	result, err, _ := s.group.Do(organizationID.String(), func() (any, error) {
		return s.refresh(ctx, organizationID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*accounting.Connection), nil
}

func (s *TokenService) refresh(ctx context.Context, organizationID uuid.UUID) (*accounting.Connection, error) {
	// Re-read inside the flight: a caller that queued behind a finished
	// refresh must not trigger a second one.
	conn, err := s.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if conn.TokenFresh(s.margin) {
		return conn, nil
	}

	pair, err := s.endpoint.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		if accounting.KindOf(err) == accounting.ErrorKindReauthorizationRequired {
			s.markErrored(ctx, conn, err)
		}
		return nil, err
	}

	conn.ApplyTokens(pair)
	if err := s.connections.Update(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("access token refreshed",
		zap.String("organization_id", organizationID.String()),
		zap.Time("expires_at", conn.TokenExpiresAt),
	)
	return conn, nil
}

func (s *TokenService) markErrored(ctx context.Context, conn *accounting.Connection, cause error) {
	conn.MarkError()
	if err := s.connections.Update(ctx, conn); err != nil {
		s.logger.Error("failed to mark connection errored",
			zap.String("organization_id", conn.OrganizationID.String()),
			zap.Error(err),
		)
		return
	}

	s.logger.Warn("connection requires reauthorization",
		zap.String("organization_id", conn.OrganizationID.String()),
		zap.Error(cause),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewConnectionErroredEvent(conn, "refresh token revoked or expired"))
	}
}
