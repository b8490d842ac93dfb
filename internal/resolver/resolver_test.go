package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratingtest"
)

func TestValidateVIN(t *testing.T) {
	t.Run("ValidVIN", func(t *testing.T) {
		if err := ValidateVIN(ratingtest.ValidVIN); err != nil {
			t.Errorf("expected valid VIN, got: %v", err)
		}
	})

	t.Run("WrongCheckDigit", func(t *testing.T) {
		// Same VIN with the check digit (position 9) flipped.
		if err := ValidateVIN("1HGBH41J1MN109186"); err == nil {
			t.Error("expected check digit mismatch")
		}
	})

	t.Run("WrongLength", func(t *testing.T) {
		if err := ValidateVIN("1HGBH41JXMN10918"); err == nil {
			t.Error("expected length error for 16 characters")
		}
	})

	t.Run("ForbiddenCharacter", func(t *testing.T) {
		// I, O and Q are not legal VIN characters.
		if err := ValidateVIN("1HGBH41JXMN1091I6"); err == nil {
			t.Error("expected error for forbidden character")
		}
	})
}

func TestTerritoryResolver(t *testing.T) {
	ctx := context.Background()
	ver := ratingtest.Version()
	r := NewTerritory(nil, time.Minute)

	t.Run("KnownTerritory", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, TerritoryKey{Jurisdiction: "CA", Territory: "T-042"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.20")) {
			t.Errorf("expected 1.20, got %s", f.Value)
		}
		if f.Kind != domain.FactorMultiplicative {
			t.Errorf("expected multiplicative, got %s", f.Kind)
		}
		if f.Source != domain.SourceTerritory {
			t.Errorf("expected territory source, got %s", f.Source)
		}
		if f.Explanation == "" {
			t.Error("expected an explanation")
		}
	})

	t.Run("CombinesMultipliers", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, TerritoryKey{Jurisdiction: "CA", Territory: "T-001"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		// 0.95 × 1.05 × 1.10
		want := decimal.RequireFromString("1.097250")
		if !f.Value.Equal(want) {
			t.Errorf("expected %s, got %s", want, f.Value)
		}
	})

	t.Run("UnknownTerritory", func(t *testing.T) {
		_, err := r.Resolve(ctx, ver, TerritoryKey{Jurisdiction: "CA", Territory: "T-999"})
		if domain.KindOf(err) != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY, got %v", err)
		}
	})

	t.Run("CachedByVersion", func(t *testing.T) {
		c := cache.NewLRUCache(10)
		cached := NewTerritory(c, time.Minute)
		key := TerritoryKey{Jurisdiction: "CA", Territory: "T-042"}

		if _, err := cached.Resolve(ctx, ver, key); err != nil {
			t.Fatalf("first Resolve failed: %v", err)
		}

		f, err := c.GetFactor(ctx, domain.SourceTerritory, key.CacheKey(), ver.ID)
		if err != nil || f == nil {
			t.Fatalf("expected factor cached under version %s", ver.ID)
		}
	})
}

func TestVehicleResolver(t *testing.T) {
	ctx := context.Background()
	ver := ratingtest.Version()
	r := NewVehicle(nil, time.Minute)

	baseKey := VehicleKey{
		VIN:           ratingtest.ValidVIN,
		Type:          "sedan",
		ModelYear:     2024,
		SafetyRating:  "A",
		AntiTheft:     false,
		EffectiveYear: 2026,
	}

	t.Run("NeutralSedan", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, baseKey)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.00")) {
			t.Errorf("expected 1.00, got %s", f.Value)
		}
	})

	t.Run("InvalidVIN", func(t *testing.T) {
		key := baseKey
		key.VIN = "1HGBH41J1MN109186"
		_, err := r.Resolve(ctx, ver, key)
		if domain.KindOf(err) != domain.ErrKindFactorResolution {
			t.Errorf("expected FACTOR_RESOLUTION for bad VIN, got %v", err)
		}
	})

	t.Run("AgeFromEffectiveDate", func(t *testing.T) {
		key := baseKey
		key.ModelYear = 2012 // age 14 → open-ended band 0.90
		f, err := r.Resolve(ctx, ver, key)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("0.90")) {
			t.Errorf("expected 0.90, got %s", f.Value)
		}
	})

	t.Run("FutureModelYearClampsToZero", func(t *testing.T) {
		key := baseKey
		key.ModelYear = 2027
		if key.Age() != 0 {
			t.Errorf("expected age 0 for future model year, got %d", key.Age())
		}
	})

	t.Run("AntiTheftDiscount", func(t *testing.T) {
		key := baseKey
		key.AntiTheft = true
		f, err := r.Resolve(ctx, ver, key)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("0.98")) {
			t.Errorf("expected 0.98, got %s", f.Value)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		key := baseKey
		key.Type = "hovercraft"
		_, err := r.Resolve(ctx, ver, key)
		if domain.KindOf(err) != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY, got %v", err)
		}
	})
}

func TestDriverResolver(t *testing.T) {
	ctx := context.Background()
	ver := ratingtest.Version()
	r := NewDriver(nil, time.Minute)

	t.Run("SingleYoungDriver", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, DriverKey{
			Drivers:  []domain.Driver{{Age: 22, YearsLicensed: 5}},
			Strategy: domain.AggregateMaxRisk,
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.50")) {
			t.Errorf("expected 1.50, got %s", f.Value)
		}
	})

	t.Run("Surcharges", func(t *testing.T) {
		// 1.00 × (1 + 2×0.10) × (1 + 1×0.20) = 1.44
		f, err := r.Resolve(ctx, ver, DriverKey{
			Drivers:  []domain.Driver{{Age: 40, YearsLicensed: 20, Violations: 2, AtFaultAccidents: 1}},
			Strategy: domain.AggregateMaxRisk,
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.44")) {
			t.Errorf("expected 1.44, got %s", f.Value)
		}
	})

	t.Run("Inexperience", func(t *testing.T) {
		// 1.00 × 1.10 for a driver licensed under three years.
		f, err := r.Resolve(ctx, ver, DriverKey{
			Drivers:  []domain.Driver{{Age: 30, YearsLicensed: 1}},
			Strategy: domain.AggregateMaxRisk,
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.10")) {
			t.Errorf("expected 1.10, got %s", f.Value)
		}
	})

	t.Run("MaxRiskAggregation", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, DriverKey{
			Drivers: []domain.Driver{
				{Age: 40, YearsLicensed: 20}, // 1.00
				{Age: 22, YearsLicensed: 5},  // 1.50
			},
			Strategy: domain.AggregateMaxRisk,
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.50")) {
			t.Errorf("expected worst driver to dominate, got %s", f.Value)
		}
	})

	t.Run("AverageAggregation", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, DriverKey{
			Drivers: []domain.Driver{
				{Age: 40, YearsLicensed: 20}, // 1.00
				{Age: 22, YearsLicensed: 5},  // 1.50
			},
			Strategy: domain.AggregateAverage,
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.25")) {
			t.Errorf("expected 1.25 average, got %s", f.Value)
		}
	})

	t.Run("EmptyHousehold", func(t *testing.T) {
		_, err := r.Resolve(ctx, ver, DriverKey{Strategy: domain.AggregateMaxRisk})
		if domain.KindOf(err) != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY for empty household, got %v", err)
		}
	})

	t.Run("StrategyChangesCacheKey", func(t *testing.T) {
		drivers := []domain.Driver{{Age: 22, YearsLicensed: 5}}
		maxKey := DriverKey{Drivers: drivers, Strategy: domain.AggregateMaxRisk}.CacheKey()
		avgKey := DriverKey{Drivers: drivers, Strategy: domain.AggregateAverage}.CacheKey()
		if maxKey == avgKey {
			t.Error("expected different cache keys per aggregation strategy")
		}
	})
}

func TestCoverageResolver(t *testing.T) {
	ctx := context.Background()
	ver := ratingtest.Version()
	r := NewCoverage(nil, time.Minute)

	deductible := func(v int64) *int64 { return &v }

	t.Run("LiabilityStandard", func(t *testing.T) {
		f, err := r.Resolve(ctx, ver, CoverageKey{
			Selections: []domain.CoverageSelection{
				{Type: domain.CoverageLiability, Level: "standard"},
			},
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("1.00")) {
			t.Errorf("expected 1.00, got %s", f.Value)
		}
	})

	t.Run("CombinedLines", func(t *testing.T) {
		// liability/standard 1.00 × collision/standard 1.00 × 0.92 (1000 deductible)
		f, err := r.Resolve(ctx, ver, CoverageKey{
			Selections: []domain.CoverageSelection{
				{Type: domain.CoverageLiability, Level: "standard"},
				{Type: domain.CoverageCollision, Level: "standard", Deductible: deductible(1000)},
			},
		})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !f.Value.Equal(decimal.RequireFromString("0.92")) {
			t.Errorf("expected 0.92, got %s", f.Value)
		}
	})

	t.Run("LiabilityRejectsDeductible", func(t *testing.T) {
		_, err := r.Resolve(ctx, ver, CoverageKey{
			Selections: []domain.CoverageSelection{
				{Type: domain.CoverageLiability, Level: "standard", Deductible: deductible(500)},
			},
		})
		if domain.KindOf(err) != domain.ErrKindRuleViolation {
			t.Errorf("expected RULE_VIOLATION, got %v", err)
		}
	})

	t.Run("CollisionRequiresDeductible", func(t *testing.T) {
		_, err := r.Resolve(ctx, ver, CoverageKey{
			Selections: []domain.CoverageSelection{
				{Type: domain.CoverageCollision, Level: "standard"},
			},
		})
		if domain.KindOf(err) != domain.ErrKindRuleViolation {
			t.Errorf("expected RULE_VIOLATION, got %v", err)
		}
	})

	t.Run("UnknownDeductible", func(t *testing.T) {
		_, err := r.Resolve(ctx, ver, CoverageKey{
			Selections: []domain.CoverageSelection{
				{Type: domain.CoverageCollision, Level: "standard", Deductible: deductible(750)},
			},
		})
		if domain.KindOf(err) != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY, got %v", err)
		}
	})

	t.Run("UnknownLevel", func(t *testing.T) {
		_, err := r.Resolve(ctx, ver, CoverageKey{
			Selections: []domain.CoverageSelection{
				{Type: domain.CoverageLiability, Level: "platinum"},
			},
		})
		if domain.KindOf(err) != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY, got %v", err)
		}
	})
}
