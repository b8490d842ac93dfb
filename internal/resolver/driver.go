package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DriverKey aggregates a household's drivers under one strategy.
type DriverKey struct {
	Drivers  []domain.Driver
	Strategy domain.AggregationStrategy
}

// CacheKey returns the stable string form used for cache scoping.
func (k DriverKey) CacheKey() string {
	key := string(k.Strategy)
	for _, d := range k.Drivers {
		key += fmt.Sprintf(":%d-%d-%d-%d", d.Age, d.YearsLicensed, d.Violations, d.AtFaultAccidents)
	}
	return key
}

// HouseholdDriver resolves per-driver factors and folds them into a single
// household factor. Default policy: the highest-risk driver dominates.
// Jurisdiction overlays may replace the strategy with averaging.
type HouseholdDriver struct {
	cached
}

// NewDriver creates a driver resolver. cache may be nil.
func NewDriver(cache domain.Cache, ttl time.Duration) *HouseholdDriver {
	return &HouseholdDriver{cached{cache: cache, ttl: ttl}}
}

// Resolve computes the household driver factor.
func (r *HouseholdDriver) Resolve(ctx context.Context, ver *domain.RateTableVersion, key DriverKey) (*domain.RatingFactor, error) {
	if len(key.Drivers) == 0 {
		return nil, domain.NewUnknownFactorKey(domain.SourceDriver, "empty driver list")
	}

	if f := r.get(ctx, domain.SourceDriver, key.CacheKey(), ver.ID); f != nil {
		return f, nil
	}

	strategy := key.Strategy
	if strategy == "" {
		strategy = domain.AggregateMaxRisk
	}

	tables := ver.Tables.Driver

	perDriver := make([]decimal.Decimal, 0, len(key.Drivers))
	for i, d := range key.Drivers {
		f, err := r.driverFactor(tables, d)
		if err != nil {
			return nil, fmt.Errorf("driver %d: %w", i, err)
		}
		perDriver = append(perDriver, f)
	}

	var value decimal.Decimal
	switch strategy {
	case domain.AggregateMaxRisk:
		value = perDriver[0]
		for _, f := range perDriver[1:] {
			if f.GreaterThan(value) {
				value = f
			}
		}
	case domain.AggregateAverage:
		sum := decimal.Zero
		for _, f := range perDriver {
			sum = sum.Add(f)
		}
		value = sum.Div(decimal.NewFromInt(int64(len(perDriver)))).Round(4)
	default:
		return nil, &domain.RatingError{
			Kind:    domain.ErrKindFactorResolution,
			Source:  domain.SourceDriver,
			Key:     string(strategy),
			Message: "unknown aggregation strategy",
		}
	}

	f := &domain.RatingFactor{
		Name:   "driver.household",
		Value:  value,
		Kind:   domain.FactorMultiplicative,
		Source: domain.SourceDriver,
		Explanation: fmt.Sprintf("%d driver(s), %s aggregation → %s",
			len(key.Drivers), strategy, value),
	}

	r.put(ctx, domain.SourceDriver, key.CacheKey(), ver.ID, f)
	return f, nil
}

// BulkResolve resolves a batch of household keys, keyed by CacheKey.
func (r *HouseholdDriver) BulkResolve(ctx context.Context, ver *domain.RateTableVersion, keys []DriverKey) (map[string]*domain.RatingFactor, error) {
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

// driverFactor computes a single driver's factor: age band adjusted by
// violation and at-fault accident surcharges, with an inexperience
// multiplier for drivers licensed under three years.
func (r *HouseholdDriver) driverFactor(tables domain.DriverTables, d domain.Driver) (decimal.Decimal, error) {
	base, ok := lookupAgeBand(tables.AgeBands, d.Age)
	if !ok {
		return decimal.Zero, domain.NewUnknownFactorKey(domain.SourceDriver, fmt.Sprintf("age:%d", d.Age))
	}

	one := decimal.NewFromInt(1)
	value := base

	if d.Violations > 0 && tables.ViolationSurcharge.IsPositive() {
		value = value.Mul(one.Add(tables.ViolationSurcharge.Mul(decimal.NewFromInt(int64(d.Violations)))))
	}
	if d.AtFaultAccidents > 0 && tables.AccidentSurcharge.IsPositive() {
		value = value.Mul(one.Add(tables.AccidentSurcharge.Mul(decimal.NewFromInt(int64(d.AtFaultAccidents)))))
	}
	if d.YearsLicensed < 3 && tables.InexperienceFactor.IsPositive() {
		value = value.Mul(tables.InexperienceFactor)
	}

	return value, nil
}
