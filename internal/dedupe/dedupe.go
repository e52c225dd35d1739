// Package dedupe remembers recently seen webhook message IDs so redelivered
// webhooks are acknowledged without reprocessing. The cache is advisory: the
// database unique constraint on external message IDs is the final guard.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/storechat/storechat/internal/config"
)

// Cache tracks seen (channel, external message ID) pairs with a TTL.
type Cache interface {
	// Seen reports whether the key was marked within its TTL.
	Seen(ctx context.Context, channel, externalID string) (bool, error)
	// Mark records the key for ttl.
	Mark(ctx context.Context, channel, externalID string, ttl time.Duration) error
	Close() error
}

// Key builds the cache key for a channel-scoped message ID.
func Key(channel, externalID string) string {
	return channel + ":" + externalID
}

// Open builds the configured backend.
func Open(cfg config.DedupeConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", cfg.Backend)
	}
}
