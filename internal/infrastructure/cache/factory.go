package cache

import (
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/config"
)

// NewIdempotencyStore returns the idempotency store matching the deployment
// shape: Redis when configured, otherwise the in-memory store.
func NewIdempotencyStore(cfg config.RedisConfig) (shared.IdempotencyStore, error) {
	if cfg.Enabled {
		return NewRedisIdempotencyStore(cfg)
	}
	return NewInMemoryIdempotencyStore(), nil
}
