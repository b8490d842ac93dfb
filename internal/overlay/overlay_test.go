package overlay

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratingtest"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func surcharge(name, value string) *domain.RatingFactor {
	return &domain.RatingFactor{
		Name:        name,
		Value:       dec(value),
		Kind:        domain.FactorSurcharge,
		Explanation: "test surcharge",
	}
}

func TestRegister(t *testing.T) {
	t.Run("ValidOverlay", func(t *testing.T) {
		r, err := NewRegistry()
		if err != nil {
			t.Fatalf("NewRegistry failed: %v", err)
		}

		err = r.Register(&Overlay{
			Name:         "ca-uninsured-motorist",
			Jurisdiction: "CA",
			Priority:     10,
			AddFactor:    surcharge("uninsured-motorist", "25.00"),
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if r.Count("CA") != 1 {
			t.Errorf("expected 1 overlay for CA, got %d", r.Count("CA"))
		}
	})

	t.Run("RequiresExactlyOneEffect", func(t *testing.T) {
		r, _ := NewRegistry()

		err := r.Register(&Overlay{
			Name:         "two-effects",
			Jurisdiction: "CA",
			AddFactor:    surcharge("x", "1.00"),
			Reject:       "no",
		})
		if err == nil {
			t.Error("expected error for overlay with two effects")
		}

		err = r.Register(&Overlay{Name: "no-effects", Jurisdiction: "CA"})
		if err == nil {
			t.Error("expected error for overlay with no effect")
		}
	})

	t.Run("FactorNameConflict", func(t *testing.T) {
		r, _ := NewRegistry()

		first := &Overlay{
			Name:         "first",
			Jurisdiction: "CA",
			AddFactor:    surcharge("uninsured-motorist", "25.00"),
		}
		if err := r.Register(first); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		second := &Overlay{
			Name:         "second",
			Jurisdiction: "CA",
			AddFactor:    surcharge("uninsured-motorist", "30.00"),
		}
		err := r.Register(second)
		if domain.KindOf(err) != domain.ErrKindOverlayConflict {
			t.Errorf("expected OVERLAY_CONFLICT, got %v", err)
		}
	})

	t.Run("SameFactorDifferentJurisdiction", func(t *testing.T) {
		r, _ := NewRegistry()

		_ = r.Register(&Overlay{
			Name:         "ca",
			Jurisdiction: "CA",
			AddFactor:    surcharge("uninsured-motorist", "25.00"),
		})
		err := r.Register(&Overlay{
			Name:         "ny",
			Jurisdiction: "NY",
			AddFactor:    surcharge("uninsured-motorist", "30.00"),
		})
		if err != nil {
			t.Errorf("same factor name across jurisdictions must not conflict: %v", err)
		}
	})

	t.Run("BadPredicate", func(t *testing.T) {
		r, _ := NewRegistry()

		err := r.Register(&Overlay{
			Name:         "broken",
			Jurisdiction: "CA",
			When:         "this is not CEL !!!",
			Reject:       "never",
		})
		if err == nil {
			t.Error("expected compile error for malformed predicate")
		}
	})

	t.Run("NonBoolPredicate", func(t *testing.T) {
		r, _ := NewRegistry()

		err := r.Register(&Overlay{
			Name:         "non-bool",
			Jurisdiction: "CA",
			When:         `jurisdiction`,
			Reject:       "never",
		})
		if err == nil {
			t.Error("expected error for non-bool predicate")
		}
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("NoOverlaysForJurisdiction", func(t *testing.T) {
		r, _ := NewRegistry()
		outcome, err := r.Apply(ctx, ratingtest.Request(), nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if len(outcome.Factors) != 0 || outcome.Aggregation != "" || outcome.Cap != nil {
			t.Error("expected empty outcome when no overlays registered")
		}
	})

	t.Run("PredicateGatesFactor", func(t *testing.T) {
		r, _ := NewRegistry()
		_ = r.Register(&Overlay{
			Name:         "young-driver-surcharge",
			Jurisdiction: "CA",
			When:         `drivers.exists(d, d.age < 25)`,
			AddFactor:    surcharge("young-driver", "50.00"),
		})

		outcome, err := r.Apply(ctx, ratingtest.Request(), nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if len(outcome.Factors) != 1 {
			t.Fatalf("expected 1 overlay factor, got %d", len(outcome.Factors))
		}
		if outcome.Factors[0].Source != domain.SourceOverlay {
			t.Errorf("expected overlay source, got %s", outcome.Factors[0].Source)
		}

		// Older household: predicate must not fire.
		req := ratingtest.Request()
		req.Drivers = []domain.Driver{{Age: 45, YearsLicensed: 20}}
		outcome, err = r.Apply(ctx, req, nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if len(outcome.Factors) != 0 {
			t.Error("expected no factors for non-matching household")
		}
	})

	t.Run("PredicateSeesResolvedFactors", func(t *testing.T) {
		r, _ := NewRegistry()
		_ = r.Register(&Overlay{
			Name:         "high-territory-cap",
			Jurisdiction: "CA",
			When:         `factors["territory.T-042"] > 1.1`,
			CapPremium:   capOf("5000.00"),
		})

		factors := []domain.RatingFactor{{
			Name:  "territory.T-042",
			Value: dec("1.20"),
			Kind:  domain.FactorMultiplicative,
		}}
		outcome, err := r.Apply(ctx, ratingtest.Request(), factors)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if outcome.Cap == nil || !outcome.Cap.Equal(dec("5000.00")) {
			t.Errorf("expected cap 5000.00, got %v", outcome.Cap)
		}
	})

	t.Run("Reject", func(t *testing.T) {
		r, _ := NewRegistry()
		_ = r.Register(&Overlay{
			Name:         "no-sports-cars",
			Jurisdiction: "CA",
			When:         `vehicle.type == "sports"`,
			Reject:       "sports vehicles are not insurable in this jurisdiction",
		})

		req := ratingtest.Request()
		req.Vehicle.Type = "sports"
		_, err := r.Apply(ctx, req, nil)
		if domain.KindOf(err) != domain.ErrKindRuleViolation {
			t.Errorf("expected RULE_VIOLATION, got %v", err)
		}
	})

	t.Run("AggregationOverride", func(t *testing.T) {
		r, _ := NewRegistry()
		_ = r.Register(&Overlay{
			Name:           "average-household",
			Jurisdiction:   "CA",
			SetAggregation: domain.AggregateAverage,
		})

		outcome, err := r.Apply(ctx, ratingtest.Request(), nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if outcome.Aggregation != domain.AggregateAverage {
			t.Errorf("expected average aggregation, got %s", outcome.Aggregation)
		}
	})

	t.Run("LowestCapWins", func(t *testing.T) {
		r, _ := NewRegistry()
		_ = r.Register(&Overlay{
			Name:         "cap-a",
			Jurisdiction: "CA",
			Priority:     1,
			CapPremium:   capOf("4000.00"),
		})
		_ = r.Register(&Overlay{
			Name:         "cap-b",
			Jurisdiction: "CA",
			Priority:     2,
			CapPremium:   capOf("3000.00"),
		})

		outcome, err := r.Apply(ctx, ratingtest.Request(), nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if outcome.Cap == nil || !outcome.Cap.Equal(dec("3000.00")) {
			t.Errorf("expected lowest cap 3000.00, got %v", outcome.Cap)
		}
	})

	t.Run("PriorityOrder", func(t *testing.T) {
		r, _ := NewRegistry()
		_ = r.Register(&Overlay{
			Name:         "late",
			Jurisdiction: "CA",
			Priority:     20,
			AddFactor:    surcharge("late-fee", "10.00"),
		})
		_ = r.Register(&Overlay{
			Name:         "early",
			Jurisdiction: "CA",
			Priority:     5,
			AddFactor:    surcharge("early-fee", "5.00"),
		})

		outcome, err := r.Apply(ctx, ratingtest.Request(), nil)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if len(outcome.Factors) != 2 {
			t.Fatalf("expected 2 factors, got %d", len(outcome.Factors))
		}
		if outcome.Factors[0].Name != "early-fee" || outcome.Factors[1].Name != "late-fee" {
			t.Errorf("expected priority order early-fee, late-fee; got %s, %s",
				outcome.Factors[0].Name, outcome.Factors[1].Name)
		}
	})
}

func capOf(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestLoadFile(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadFile("/nonexistent/overlays.json"); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
