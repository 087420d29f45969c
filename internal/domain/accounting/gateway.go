package accounting

import "context"

// RemoteInvoice is the provider-side view of an invoice used for conflict
// detection. Only the fields this core depends on are modeled; the provider's
// exact schema is out of scope.
type RemoteInvoice struct {
	ExternalID string
	// SyncToken is the provider's optimistic-concurrency marker, echoed back
	// on updates
	SyncToken string
	Deleted   bool
}

// AccountingGateway is the outbound port to the external accounting API.
// Implementations classify failures into the SyncError taxonomy; callers
// never see raw transport errors.
type AccountingGateway interface {
	// CreateInvoice pushes a new invoice and returns its external id
	CreateInvoice(ctx context.Context, accessToken, realmID string, inv *InvoiceSnapshot, settings SyncSettings) (string, error)

	// UpdateInvoice pushes local state over the existing external record.
	// Local state is authoritative for fields owned by this system.
	// Returns ErrorKindNotFoundRemote when the record was deleted out-of-band.
	UpdateInvoice(ctx context.Context, accessToken, realmID, externalID string, inv *InvoiceSnapshot, settings SyncSettings) error

	// GetInvoice is an idempotent read used for conflict detection
	GetInvoice(ctx context.Context, accessToken, realmID, externalID string) (*RemoteInvoice, error)
}

// TokenEndpoint is the outbound port to the provider's OAuth token service
type TokenEndpoint interface {
	// Exchange trades an authorization code for an initial token pair
	Exchange(ctx context.Context, code string) (TokenPair, error)

	// Refresh trades a refresh token for a fresh token pair. A revoked or
	// expired refresh token yields ErrorKindReauthorizationRequired;
	// network and 5xx failures yield ErrorKindTransient.
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}
