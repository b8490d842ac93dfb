// Package resolver maps normalized request attributes to numeric rating
// factors against a rate table version. Resolvers are pure lookups; an
// unknown key is always an error, never a default of 1.0.
package resolver

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// cached is shared lookup-through-cache plumbing. Cache entries are scoped
// by (source, key, version id), so a version change invalidates them by
// key-space change alone.
type cached struct {
	cache domain.Cache
	ttl   time.Duration
}

func (c cached) get(ctx context.Context, source, key, versionID string) *domain.RatingFactor {
	if c.cache == nil {
		return nil
	}
	f, err := c.cache.GetFactor(ctx, source, key, versionID)
	if err != nil {
		return nil // cache failures never fail a lookup
	}
	return f
}

func (c cached) put(ctx context.Context, source, key, versionID string, f *domain.RatingFactor) {
	if c.cache == nil {
		return
	}
	_ = c.cache.SetFactor(ctx, source, key, versionID, f, c.ttl)
}
