// Package ratingtest provides shared fixtures for package tests: a fully
// populated rate table set and a canonical quote request whose expected
// premium is known (1000.00 × 1.20 × 1.00 × 1.50 × 1.00 × 1.05 = 1890.00
// with the neutral-risk stub replaced by 1.05).
package ratingtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ValidVIN passes the ISO 3779 check digit.
const ValidVIN = "1HGBH41JXMN109186"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Tables returns a complete, validation-clean rate table set.
func Tables() domain.RateTables {
	return domain.RateTables{
		BasePremium: dec("1000.00"),
		Territory: map[string]domain.TerritoryRate{
			"T-042": {Base: dec("1.20"), Catastrophe: dec("1.00"), Density: dec("1.00")},
			"T-001": {Base: dec("0.95"), Catastrophe: dec("1.05"), Density: dec("1.10")},
		},
		Vehicle: domain.VehicleTables{
			Type: map[string]decimal.Decimal{
				"sedan":  dec("1.00"),
				"suv":    dec("1.10"),
				"truck":  dec("1.15"),
				"sports": dec("1.35"),
			},
			AgeBands: []domain.AgeBand{
				{Min: 0, Max: 5, Factor: dec("1.00")},
				{Min: 6, Max: 12, Factor: dec("0.95")},
				{Min: 13, Max: -1, Factor: dec("0.90")},
			},
			Safety: map[string]decimal.Decimal{
				"A": dec("1.00"),
				"B": dec("1.05"),
				"C": dec("1.12"),
			},
			AntiTheftFactor: dec("0.98"),
		},
		Driver: domain.DriverTables{
			AgeBands: []domain.AgeBand{
				{Min: 16, Max: 24, Factor: dec("1.50")},
				{Min: 25, Max: 64, Factor: dec("1.00")},
				{Min: 65, Max: -1, Factor: dec("1.15")},
			},
			ViolationSurcharge: dec("0.10"),
			AccidentSurcharge:  dec("0.20"),
			InexperienceFactor: dec("1.10"),
		},
		Coverage: map[string]domain.CoverageRate{
			"liability/basic":    {Factor: dec("0.90")},
			"liability/standard": {Factor: dec("1.00")},
			"liability/premium":  {Factor: dec("1.15")},
			"collision/basic": {Factor: dec("0.95"), Deductibles: map[int64]decimal.Decimal{
				500: dec("1.00"), 1000: dec("0.92"),
			}},
			"collision/standard": {Factor: dec("1.00"), Deductibles: map[int64]decimal.Decimal{
				250: dec("1.10"), 500: dec("1.00"), 1000: dec("0.92"),
			}},
			"collision/premium": {Factor: dec("1.10"), Deductibles: map[int64]decimal.Decimal{
				250: dec("1.10"), 500: dec("1.00"),
			}},
			"comprehensive/basic":    {Factor: dec("0.90")},
			"comprehensive/standard": {Factor: dec("1.00")},
			"comprehensive/premium": {Factor: dec("1.08"), Deductibles: map[int64]decimal.Decimal{
				500: dec("1.00"), 1000: dec("0.94"),
			}},
		},
	}
}

// Version returns an active rate table version covering all of 2026.
func Version() *domain.RateTableVersion {
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.RateTableVersion{
		ID:             "11111111-1111-1111-1111-111111111111",
		Jurisdiction:   "CA",
		ProductType:    "personal-auto",
		VersionNumber:  1,
		EffectiveDate:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: &expiry,
		Status:         domain.StatusActive,
		Tables:         Tables(),
		CreatedBy:      "actuarial-team",
		CreatedAt:      time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Request returns the canonical quote request: territory 1.20, vehicle 1.00,
// driver 1.50, coverage 1.00.
func Request() *domain.RatingRequest {
	return &domain.RatingRequest{
		Jurisdiction:  "CA",
		ProductType:   "personal-auto",
		EffectiveDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Territory:     "T-042",
		Vehicle: domain.Vehicle{
			VIN:          ValidVIN,
			Type:         "sedan",
			ModelYear:    2024,
			SafetyRating: "A",
			AntiTheft:    false,
		},
		Drivers: []domain.Driver{
			{Age: 22, YearsLicensed: 5, Violations: 0, AtFaultAccidents: 0},
		},
		Coverages: []domain.CoverageSelection{
			{Type: domain.CoverageLiability, Level: "standard"},
		},
	}
}

// RiskStub is a deterministic risk adapter for tests.
type RiskStub struct {
	Adjustment string
	Err        error
	Delay      time.Duration
}

// Score implements domain.RiskAdapter.
func (s *RiskStub) Score(ctx context.Context, req *domain.RatingRequest) (*domain.RiskScore, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	adj := s.Adjustment
	if adj == "" {
		adj = "1.05"
	}
	return &domain.RiskScore{
		Score:            0.55,
		AdjustmentFactor: dec(adj),
		Explanations:     []string{"stub adapter"},
		Confidence:       0.9,
		ModelVersion:     "stub-1",
	}, nil
}
