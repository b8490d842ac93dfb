package engine

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratingtest"
)

func TestBulkCalculate(t *testing.T) {
	ctx := context.Background()

	t.Run("ResultsInInputOrder", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})

		reqs := make([]*domain.RatingRequest, 5)
		for i := range reqs {
			reqs[i] = ratingtest.Request()
		}
		// A poison request in the middle must not affect its neighbours.
		reqs[2] = ratingtest.Request()
		reqs[2].Territory = "T-999"

		results := h.engine.BulkCalculate(ctx, reqs)
		if len(results) != 5 {
			t.Fatalf("expected 5 results, got %d", len(results))
		}

		for i, r := range results {
			if i == 2 {
				if domain.KindOf(r.Err) != domain.ErrKindUnknownFactorKey {
					t.Errorf("result 2: expected UNKNOWN_FACTOR_KEY, got %v", r.Err)
				}
				continue
			}
			if r.Err != nil {
				t.Errorf("result %d: unexpected error %v", i, r.Err)
				continue
			}
			if !r.Calculation.TotalPremium.Equal(dec("1890.00")) {
				t.Errorf("result %d: expected 1890.00, got %s", i, r.Calculation.TotalPremium)
			}
		}
	})

	t.Run("OverloadedBeyondAdmissionCapacity", func(t *testing.T) {
		h := newHarness(t, harnessOpts{
			risk: &ratingtest.RiskStub{Delay: 100 * time.Millisecond},
			cfg: domain.EngineConfig{
				BulkConcurrency: 1,
				BulkQueueDepth:  0,
			},
		})

		reqs := []*domain.RatingRequest{
			ratingtest.Request(),
			ratingtest.Request(),
			ratingtest.Request(),
		}

		results := h.engine.BulkCalculate(ctx, reqs)

		if results[0].Err != nil {
			t.Errorf("admitted request failed: %v", results[0].Err)
		}
		for i := 1; i < 3; i++ {
			if domain.KindOf(results[i].Err) != domain.ErrKindOverloaded {
				t.Errorf("result %d: expected OVERLOADED, got %v", i, results[i].Err)
			}
		}
	})

	t.Run("QueueDepthAdmitsWaiters", func(t *testing.T) {
		h := newHarness(t, harnessOpts{
			risk: &ratingtest.RiskStub{Delay: 20 * time.Millisecond},
			cfg: domain.EngineConfig{
				BulkConcurrency: 1,
				BulkQueueDepth:  2,
			},
		})

		reqs := []*domain.RatingRequest{
			ratingtest.Request(),
			ratingtest.Request(),
			ratingtest.Request(),
		}

		results := h.engine.BulkCalculate(ctx, reqs)
		for i, r := range results {
			if r.Err != nil {
				t.Errorf("result %d: unexpected error %v", i, r.Err)
			}
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		results := h.engine.BulkCalculate(ctx, nil)
		if len(results) != 0 {
			t.Errorf("expected empty results, got %d", len(results))
		}
	})
}
