package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var kindOrder = map[domain.FactorKind]int{
	domain.FactorMultiplicative: 0,
	domain.FactorAdditive:       1,
	domain.FactorCredit:         2,
	domain.FactorSurcharge:      3,
}

// Arrange orders factors into the declared application order:
// multiplicative → additive → credits → surcharges. The sort is stable so
// declared intra-group order is preserved; concurrency in resolution never
// changes the order factors are applied in.
func Arrange(factors []domain.RatingFactor) []domain.RatingFactor {
	arranged := make([]domain.RatingFactor, 0, len(factors))
	for rank := 0; rank <= kindOrder[domain.FactorSurcharge]; rank++ {
		for _, f := range factors {
			if kindOrder[f.Kind] == rank {
				arranged = append(arranged, f)
			}
		}
	}
	return arranged
}

// Apply folds factors over the base premium in list order. The stored factor
// list of a calculation is its application order, which makes replay exact.
// The running total never goes below zero.
func Apply(base decimal.Decimal, factors []domain.RatingFactor) decimal.Decimal {
	total := base
	for _, f := range factors {
		switch f.Kind {
		case domain.FactorMultiplicative:
			total = total.Mul(f.Value)
		case domain.FactorAdditive, domain.FactorSurcharge:
			total = total.Add(f.Value)
		case domain.FactorCredit:
			total = total.Sub(f.Value)
			if total.IsNegative() {
				total = decimal.Zero
			}
		}
	}
	return total
}

// Replay recomputes a stored calculation from its base premium and factor
// list and verifies the totals. This is the audit round-trip: any stored
// PremiumCalculation must reproduce exactly.
func Replay(calc *domain.PremiumCalculation) error {
	total := Apply(calc.BasePremium, calc.Factors).Round(2)
	if !total.Equal(calc.TotalPremium) {
		return fmt.Errorf("replay mismatch: computed total %s, stored %s", total, calc.TotalPremium)
	}

	monthly := domain.MonthlyFrom(total)
	if !monthly.Equal(calc.MonthlyPremium) {
		return fmt.Errorf("replay mismatch: computed monthly %s, stored %s", monthly, calc.MonthlyPremium)
	}

	return nil
}
