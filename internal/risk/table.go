package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// tableModelVersion identifies the in-tree scoring model.
const tableModelVersion = "kestrel-table-1"

// TableAdapter is a deterministic, table-driven risk model used when no
// external provider is configured. It scores from driver history and
// vehicle class only, so repeated calls for the same request always return
// the same adjustment.
type TableAdapter struct {
	// Spread controls how far the adjustment moves from neutral per unit
	// of score above/below 0.5. Default 0.4.
	Spread decimal.Decimal
}

// NewTableAdapter creates the default table-driven adapter.
func NewTableAdapter() *TableAdapter {
	return &TableAdapter{Spread: decimal.NewFromFloat(0.4)}
}

// Score computes a bounded adjustment from request attributes.
func (a *TableAdapter) Score(ctx context.Context, req *domain.RatingRequest) (*domain.RiskScore, error) {
	if len(req.Drivers) == 0 {
		return nil, fmt.Errorf("request has no drivers to score")
	}

	score := 0.5
	var explanations []string

	for _, d := range req.Drivers {
		if d.Age < 25 {
			score += 0.08
			explanations = append(explanations, fmt.Sprintf("driver age %d below 25", d.Age))
		}
		if d.Violations > 0 {
			score += 0.05 * float64(d.Violations)
			explanations = append(explanations, fmt.Sprintf("%d moving violation(s)", d.Violations))
		}
		if d.AtFaultAccidents > 0 {
			score += 0.10 * float64(d.AtFaultAccidents)
			explanations = append(explanations, fmt.Sprintf("%d at-fault accident(s)", d.AtFaultAccidents))
		}
		if d.YearsLicensed >= 10 {
			score -= 0.04
			explanations = append(explanations, "driver licensed 10+ years")
		}
	}

	if req.Vehicle.Type == "sports" {
		score += 0.07
		explanations = append(explanations, "sports vehicle class")
	}
	if req.Vehicle.AntiTheft {
		score -= 0.02
		explanations = append(explanations, "anti-theft device fitted")
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	// adjustment = 1 + (score - 0.5) * spread
	delta := decimal.NewFromFloat(score - 0.5).Mul(a.Spread)
	adjustment := decimal.NewFromInt(1).Add(delta).Round(4)

	if len(explanations) == 0 {
		explanations = []string{"no elevated risk signals"}
	}

	return &domain.RiskScore{
		Score:            score,
		AdjustmentFactor: adjustment,
		Explanations:     explanations,
		Confidence:       0.6, // table model, moderate confidence
		ModelVersion:     tableModelVersion,
	}, nil
}
