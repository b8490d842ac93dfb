package domain

import (
	"context"
	"time"
)

// Cache is the multi-tier cache boundary. Factor entries are keyed by
// source + input key + rate table version id, so activating a new version
// invalidates them by key-space change. Only the active-version pointer
// needs explicit invalidation on deployment.
type Cache interface {
	// Raw byte operations
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Resolved factor entries, version-scoped
	GetFactor(ctx context.Context, source, key, versionID string) (*RatingFactor, error)
	SetFactor(ctx context.Context, source, key, versionID string, f *RatingFactor, ttl time.Duration) error

	// Active-version pointer for a (jurisdiction, product) pair
	GetActiveVersionID(ctx context.Context, jurisdiction, productType string) (string, error)
	SetActiveVersionID(ctx context.Context, jurisdiction, productType, versionID string, ttl time.Duration) error
	InvalidateActiveVersion(ctx context.Context, jurisdiction, productType string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community tier, and L1 in two-tier mode)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro tier, L2)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoTier layers the local LRU in front of Redis.
	EnableTwoTier bool

	// TTLs per entry class
	FactorTTL        time.Duration
	ActivePointerTTL time.Duration
}
