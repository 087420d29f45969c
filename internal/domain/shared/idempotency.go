package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed identities to prevent duplicate processing.
// Used for webhook event deduplication and single-use OAuth state nonces.
type IdempotencyStore interface {
	// MarkProcessed marks an identity as processed with a TTL
	// Returns true if the identity was newly marked, false if already present
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an identity has already been processed
	IsProcessed(ctx context.Context, id string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed identities. After this duration
	// the same identity can be processed again. Providers redeliver webhooks
	// well inside this window.
	TTL time.Duration

	// Enabled determines whether idempotency checking is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     7 * 24 * time.Hour,
		Enabled: true,
	}
}
