package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CoverageKey is the full set of selected coverage lines for one request.
type CoverageKey struct {
	Selections []domain.CoverageSelection
}

// CacheKey returns the stable string form used for cache scoping.
func (k CoverageKey) CacheKey() string {
	parts := make([]string, 0, len(k.Selections))
	for _, s := range k.Selections {
		ded := "none"
		if s.Deductible != nil {
			ded = fmt.Sprintf("%d", *s.Deductible)
		}
		parts = append(parts, s.Type+"/"+s.Level+"/"+ded)
	}
	return strings.Join(parts, ",")
}

// Coverage resolves the combined coverage factor for the selected
// level/deductible combinations. Liability may not carry a deductible;
// collision must.
type Coverage struct {
	cached
}

// NewCoverage creates a coverage resolver. cache may be nil.
func NewCoverage(cache domain.Cache, ttl time.Duration) *Coverage {
	return &Coverage{cached{cache: cache, ttl: ttl}}
}

// Resolve validates deductible rules and composes the coverage multipliers.
func (r *Coverage) Resolve(ctx context.Context, ver *domain.RateTableVersion, key CoverageKey) (*domain.RatingFactor, error) {
	if len(key.Selections) == 0 {
		return nil, domain.NewUnknownFactorKey(domain.SourceCoverage, "empty coverage selection")
	}

	for _, sel := range key.Selections {
		if sel.Type == domain.CoverageLiability && sel.Deductible != nil {
			return nil, domain.NewRuleViolation(ver.Jurisdiction,
				"liability coverage may not carry a deductible")
		}
		if sel.Type == domain.CoverageCollision && sel.Deductible == nil {
			return nil, domain.NewRuleViolation(ver.Jurisdiction,
				"collision coverage requires a deductible")
		}
	}

	if f := r.get(ctx, domain.SourceCoverage, key.CacheKey(), ver.ID); f != nil {
		return f, nil
	}

	value := decimal.NewFromInt(1)
	lines := make([]string, 0, len(key.Selections))

	for _, sel := range key.Selections {
		tableKey := sel.Type + "/" + sel.Level
		rate, ok := ver.Tables.Coverage[tableKey]
		if !ok {
			return nil, domain.NewUnknownFactorKey(domain.SourceCoverage, tableKey)
		}

		lineFactor := rate.Factor
		if sel.Deductible != nil {
			dedFactor, ok := rate.Deductibles[*sel.Deductible]
			if !ok {
				return nil, domain.NewUnknownFactorKey(domain.SourceCoverage,
					fmt.Sprintf("%s:deductible:%d", tableKey, *sel.Deductible))
			}
			lineFactor = lineFactor.Mul(dedFactor)
		}

		value = value.Mul(lineFactor)
		lines = append(lines, fmt.Sprintf("%s → %s", tableKey, lineFactor))
	}

	f := &domain.RatingFactor{
		Name:        "coverage.selection",
		Value:       value,
		Kind:        domain.FactorMultiplicative,
		Source:      domain.SourceCoverage,
		Explanation: "coverage: " + strings.Join(lines, ", "),
	}

	r.put(ctx, domain.SourceCoverage, key.CacheKey(), ver.ID, f)
	return f, nil
}

// BulkResolve resolves a batch of coverage keys, keyed by CacheKey.
func (r *Coverage) BulkResolve(ctx context.Context, ver *domain.RateTableVersion, keys []CoverageKey) (map[string]*domain.RatingFactor, error) {
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
