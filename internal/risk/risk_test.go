package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratingtest"
)

func TestPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("PassesThroughHealthyAdapter", func(t *testing.T) {
		p := NewPolicy(&ratingtest.RiskStub{Adjustment: "1.05"}, domain.RiskConfig{
			Policy: domain.RiskPolicyDegraded,
		})

		score, degraded, err := p.Score(ctx, ratingtest.Request())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if degraded {
			t.Error("expected non-degraded score")
		}
		if !score.AdjustmentFactor.Equal(decimal.RequireFromString("1.05")) {
			t.Errorf("expected 1.05, got %s", score.AdjustmentFactor)
		}
	})

	t.Run("DegradedSubstitutesNeutral", func(t *testing.T) {
		p := NewPolicy(&ratingtest.RiskStub{Err: errors.New("provider down")}, domain.RiskConfig{
			Policy: domain.RiskPolicyDegraded,
		})

		score, degraded, err := p.Score(ctx, ratingtest.Request())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !degraded {
			t.Error("expected degraded flag")
		}
		if !score.AdjustmentFactor.Equal(Neutral) {
			t.Errorf("expected neutral adjustment, got %s", score.AdjustmentFactor)
		}
	})

	t.Run("RequiredFailsClosed", func(t *testing.T) {
		p := NewPolicy(&ratingtest.RiskStub{Err: errors.New("provider down")}, domain.RiskConfig{
			Policy: domain.RiskPolicyRequired,
		})

		_, _, err := p.Score(ctx, ratingtest.Request())
		if domain.KindOf(err) != domain.ErrKindRiskAdapter {
			t.Errorf("expected RISK_ADAPTER, got %v", err)
		}
	})

	t.Run("NilAdapterIsUnavailable", func(t *testing.T) {
		p := NewPolicy(nil, domain.RiskConfig{Policy: domain.RiskPolicyDegraded})

		_, degraded, err := p.Score(ctx, ratingtest.Request())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !degraded {
			t.Error("nil adapter must degrade")
		}
	})

	t.Run("ClampsAdjustment", func(t *testing.T) {
		p := NewPolicy(&ratingtest.RiskStub{Adjustment: "9.99"}, domain.RiskConfig{
			Policy:        domain.RiskPolicyDegraded,
			MinAdjustment: 0.5,
			MaxAdjustment: 1.5,
		})

		score, _, err := p.Score(ctx, ratingtest.Request())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !score.AdjustmentFactor.Equal(decimal.RequireFromString("1.5")) {
			t.Errorf("expected clamp to 1.5, got %s", score.AdjustmentFactor)
		}

		p = NewPolicy(&ratingtest.RiskStub{Adjustment: "0.01"}, domain.RiskConfig{
			Policy:        domain.RiskPolicyDegraded,
			MinAdjustment: 0.5,
			MaxAdjustment: 1.5,
		})
		score, _, err = p.Score(ctx, ratingtest.Request())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !score.AdjustmentFactor.Equal(decimal.RequireFromString("0.5")) {
			t.Errorf("expected clamp to 0.5, got %s", score.AdjustmentFactor)
		}
	})
}

func TestTableAdapter(t *testing.T) {
	ctx := context.Background()
	adapter := NewTableAdapter()

	t.Run("Deterministic", func(t *testing.T) {
		first, err := adapter.Score(ctx, ratingtest.Request())
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, err := adapter.Score(ctx, ratingtest.Request())
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			if !again.AdjustmentFactor.Equal(first.AdjustmentFactor) {
				t.Fatalf("run %d: %s != %s", i, again.AdjustmentFactor, first.AdjustmentFactor)
			}
		}
	})

	t.Run("RiskySignalsRaiseAdjustment", func(t *testing.T) {
		clean := ratingtest.Request()
		clean.Drivers = []domain.Driver{{Age: 45, YearsLicensed: 20}}

		risky := ratingtest.Request()
		risky.Drivers = []domain.Driver{{Age: 19, YearsLicensed: 1, Violations: 2, AtFaultAccidents: 1}}
		risky.Vehicle.Type = "sports"

		cleanScore, err := adapter.Score(ctx, clean)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		riskyScore, err := adapter.Score(ctx, risky)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}

		if !riskyScore.AdjustmentFactor.GreaterThan(cleanScore.AdjustmentFactor) {
			t.Errorf("risky household %s should exceed clean %s",
				riskyScore.AdjustmentFactor, cleanScore.AdjustmentFactor)
		}
		if len(riskyScore.Explanations) == 0 {
			t.Error("expected explanations for elevated signals")
		}
	})

	t.Run("RejectsEmptyHousehold", func(t *testing.T) {
		req := ratingtest.Request()
		req.Drivers = nil
		if _, err := adapter.Score(ctx, req); err == nil {
			t.Error("expected error for empty household")
		}
	})
}
