package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TerritoryKey identifies a geographic rating unit within a jurisdiction.
type TerritoryKey struct {
	Jurisdiction string
	Territory    string
}

// CacheKey returns the stable string form used for cache scoping.
func (k TerritoryKey) CacheKey() string {
	return k.Jurisdiction + ":" + k.Territory
}

// Territory resolves the territorial rating factor: base territorial rate
// combined with catastrophe exposure and population density multipliers.
type Territory struct {
	cached
}

// NewTerritory creates a territory resolver. cache may be nil.
func NewTerritory(cache domain.Cache, ttl time.Duration) *Territory {
	return &Territory{cached{cache: cache, ttl: ttl}}
}

// Resolve looks up the territory factor in the version's tables.
func (r *Territory) Resolve(ctx context.Context, ver *domain.RateTableVersion, key TerritoryKey) (*domain.RatingFactor, error) {
	if f := r.get(ctx, domain.SourceTerritory, key.CacheKey(), ver.ID); f != nil {
		return f, nil
	}

	rate, ok := ver.Tables.Territory[key.Territory]
	if !ok {
		return nil, domain.NewUnknownFactorKey(domain.SourceTerritory, key.CacheKey())
	}

	value := rate.Base.Mul(rate.Catastrophe).Mul(rate.Density)
	f := &domain.RatingFactor{
		Name:   "territory." + key.Territory,
		Value:  value,
		Kind:   domain.FactorMultiplicative,
		Source: domain.SourceTerritory,
		Explanation: fmt.Sprintf("territory %s: base %s, catastrophe %s, density %s",
			key.Territory, rate.Base, rate.Catastrophe, rate.Density),
	}

	r.put(ctx, domain.SourceTerritory, key.CacheKey(), ver.ID, f)
	return f, nil
}

// BulkResolve resolves a batch of territory keys, keyed by CacheKey.
func (r *Territory) BulkResolve(ctx context.Context, ver *domain.RateTableVersion, keys []TerritoryKey) (map[string]*domain.RatingFactor, error) {
	out := make(map[string]*domain.RatingFactor, len(keys))
	for _, k := range keys {
		f, err := r.Resolve(ctx, ver, k)
		if err != nil {
			return nil, err
		}
		out[k.CacheKey()] = f
	}
	return out, nil
}
