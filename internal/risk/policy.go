// Package risk wraps the external risk-scoring capability boundary.
package risk

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Policy enforces the configured unavailability behavior and adjustment
// bounds around any RiskAdapter implementation.
type Policy struct {
	adapter domain.RiskAdapter
	cfg     domain.RiskConfig
}

// NewPolicy wraps adapter with the configured policy. adapter may be nil,
// which is treated as permanently unavailable.
func NewPolicy(adapter domain.RiskAdapter, cfg domain.RiskConfig) *Policy {
	if cfg.MinAdjustment <= 0 {
		cfg.MinAdjustment = 0.5
	}
	if cfg.MaxAdjustment <= cfg.MinAdjustment {
		cfg.MaxAdjustment = 1.5
	}
	return &Policy{adapter: adapter, cfg: cfg}
}

// Neutral is the exact factor substituted in degraded mode.
var Neutral = decimal.NewFromInt(1)

// Score calls the adapter and applies the unavailability policy. The
// returned degraded flag is true when a neutral factor was substituted; it
// must be surfaced in the calculation result, never absorbed.
func (p *Policy) Score(ctx context.Context, req *domain.RatingRequest) (*domain.RiskScore, bool, error) {
	var (
		score *domain.RiskScore
		err   error
	)

	if p.adapter == nil {
		err = domain.NewRiskAdapterError(nil)
	} else {
		score, err = p.adapter.Score(ctx, req)
	}

	if err != nil {
		if p.cfg.Policy == domain.RiskPolicyRequired {
			return nil, false, domain.NewRiskAdapterError(err)
		}

		slog.Warn("risk adapter unavailable, applying neutral factor",
			"jurisdiction", req.Jurisdiction,
			"error", err,
		)
		return &domain.RiskScore{
			Score:            0,
			AdjustmentFactor: Neutral,
			Explanations:     []string{"risk adapter unavailable, neutral adjustment applied"},
			Confidence:       0,
			ModelVersion:     "degraded",
		}, true, nil
	}

	score.AdjustmentFactor = p.clamp(score.AdjustmentFactor)
	return score, false, nil
}

// clamp bounds the adjustment factor to the configured range.
func (p *Policy) clamp(f decimal.Decimal) decimal.Decimal {
	min := decimal.NewFromFloat(p.cfg.MinAdjustment)
	max := decimal.NewFromFloat(p.cfg.MaxAdjustment)
	if f.LessThan(min) {
		return min
	}
	if f.GreaterThan(max) {
		return max
	}
	return f
}
