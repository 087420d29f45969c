package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus represents the lifecycle state of an accounting connection
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	// ConnectionStatusError means token refresh failed with a revoked-token
	// class of error. No jobs are scheduled for the organization until the
	// user reconnects.
	ConnectionStatusError ConnectionStatus = "error"
)

// IsValid returns true if the status is a known value
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusConnected, ConnectionStatusDisconnected, ConnectionStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s ConnectionStatus) String() string {
	return string(s)
}

// SyncSettings holds per-organization synchronization configuration
type SyncSettings struct {
	// Enabled gates all automatic synchronization for the organization
	Enabled bool `json:"enabled"`
	// AccountMappings maps local expense/income categories to external
	// chart-of-accounts identifiers
	AccountMappings map[string]string `json:"account_mappings"`
}

// TokenPair is the credential set returned by the provider token endpoint
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Connection is the OAuth connection between one organization and the
// external accounting provider. At most one active connection exists per
// organization; the refresh token is the durable credential.
type Connection struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	// RealmID is the provider-side tenant identifier
	RealmID         string
	AccessToken     string
	RefreshToken    string
	TokenExpiresAt  time.Time
	Status          ConnectionStatus
	LastRefreshedAt *time.Time
	Settings        SyncSettings
	DisconnectedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewConnection creates a connected Connection from an OAuth callback result
func NewConnection(organizationID uuid.UUID, realmID string, tokens TokenPair) *Connection {
	now := time.Now()
	return &Connection{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		RealmID:        realmID,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: tokens.ExpiresAt,
		Status:         ConnectionStatusConnected,
		Settings: SyncSettings{
			Enabled:         true,
			AccountMappings: map[string]string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true while the connection may serve outbound calls
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusConnected
}

// TokenFresh reports whether the stored access token remains valid for at
// least the given safety margin.
func (c *Connection) TokenFresh(margin time.Duration) bool {
	return time.Now().Add(margin).Before(c.TokenExpiresAt)
}

// ApplyTokens records the result of a successful refresh. Providers that
// rotate refresh tokens return a new one; when the response omits it the
// stored refresh token is still valid and must be kept.
func (c *Connection) ApplyTokens(tokens TokenPair) {
	now := time.Now()
	c.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		c.RefreshToken = tokens.RefreshToken
	}
	c.TokenExpiresAt = tokens.ExpiresAt
	c.Status = ConnectionStatusConnected
	c.LastRefreshedAt = &now
	c.UpdatedAt = now
}

// MarkError flags the connection after a revoked-token refresh failure
func (c *Connection) MarkError() {
	c.Status = ConnectionStatusError
	c.UpdatedAt = time.Now()
}

// Disconnect soft-deletes the connection. Local-effect-only: it does not
// need to succeed against the provider.
func (c *Connection) Disconnect() {
	now := time.Now()
	c.Status = ConnectionStatusDisconnected
	c.DisconnectedAt = &now
	c.UpdatedAt = now
}

// ConnectionRepository persists accounting connections
type ConnectionRepository interface {
	// FindByOrganization returns the active connection for an organization,
	// or ErrNotConnected when none exists
	FindByOrganization(ctx context.Context, organizationID uuid.UUID) (*Connection, error)

	// FindByRealmID maps a provider realm back to its active connection
	FindByRealmID(ctx context.Context, realmID string) (*Connection, error)

	// Create persists a new connection. Returns ErrAlreadyConnected when an
	// active connection already exists for the organization.
	Create(ctx context.Context, conn *Connection) error

	// Update persists token, status, and settings changes
	Update(ctx context.Context, conn *Connection) error
}
