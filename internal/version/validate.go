package version

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Coverage tiers every rate table must price. Collision lines must offer at
// least one deductible; liability lines must offer none.
var (
	requiredCoverageTypes  = []string{domain.CoverageLiability, domain.CoverageCollision, domain.CoverageComprehensive}
	requiredCoverageLevels = []string{"basic", "standard", "premium"}
)

// ValidateTables runs the business self-checks that gate draft → validated.
func ValidateTables(t *domain.RateTables) error {
	if !t.BasePremium.IsPositive() {
		return fmt.Errorf("base premium must be positive, got %s", t.BasePremium)
	}

	if len(t.Territory) == 0 {
		return fmt.Errorf("territory table is empty")
	}
	for code, rate := range t.Territory {
		if !rate.Base.IsPositive() || !rate.Catastrophe.IsPositive() || !rate.Density.IsPositive() {
			return fmt.Errorf("territory %s: all multipliers must be positive", code)
		}
	}

	if len(t.Vehicle.Type) == 0 {
		return fmt.Errorf("vehicle type table is empty")
	}
	for name, f := range t.Vehicle.Type {
		if !f.IsPositive() {
			return fmt.Errorf("vehicle type %s: factor must be positive", name)
		}
	}
	for name, f := range t.Vehicle.Safety {
		if !f.IsPositive() {
			return fmt.Errorf("vehicle safety %s: factor must be positive", name)
		}
	}
	if err := validateAgeBands("vehicle", t.Vehicle.AgeBands); err != nil {
		return err
	}

	if err := validateAgeBands("driver", t.Driver.AgeBands); err != nil {
		return err
	}
	if t.Driver.ViolationSurcharge.IsNegative() || t.Driver.AccidentSurcharge.IsNegative() {
		return fmt.Errorf("driver surcharges must not be negative")
	}

	for _, typ := range requiredCoverageTypes {
		for _, level := range requiredCoverageLevels {
			key := typ + "/" + level
			rate, ok := t.Coverage[key]
			if !ok {
				return fmt.Errorf("missing coverage tier %s", key)
			}
			if !rate.Factor.IsPositive() {
				return fmt.Errorf("coverage %s: factor must be positive", key)
			}
			switch typ {
			case domain.CoverageLiability:
				if len(rate.Deductibles) != 0 {
					return fmt.Errorf("coverage %s: liability may not define deductibles", key)
				}
			case domain.CoverageCollision:
				if len(rate.Deductibles) == 0 {
					return fmt.Errorf("coverage %s: collision requires at least one deductible", key)
				}
			}
		}
	}

	return nil
}

// validateAgeBands checks that bands are contiguous from the first band's
// minimum, non-overlapping, open-ended at the top, with positive factors.
func validateAgeBands(table string, bands []domain.AgeBand) error {
	if len(bands) == 0 {
		return fmt.Errorf("%s age bands are empty", table)
	}

	next := bands[0].Min
	for i, b := range bands {
		if b.Min != next {
			return fmt.Errorf("%s age bands: gap or overlap at band %d (min %d, want %d)", table, i, b.Min, next)
		}
		if !b.Factor.IsPositive() {
			return fmt.Errorf("%s age bands: band %d factor must be positive", table, i)
		}
		if b.Max < 0 {
			if i != len(bands)-1 {
				return fmt.Errorf("%s age bands: open-ended band %d must be last", table, i)
			}
			return nil
		}
		if b.Max < b.Min {
			return fmt.Errorf("%s age bands: band %d max below min", table, i)
		}
		next = b.Max + 1
	}

	return fmt.Errorf("%s age bands: last band must be open-ended", table)
}
