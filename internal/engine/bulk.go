package engine

import (
	"context"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BulkResult pairs one request's outcome with its position in the input.
// Exactly one of Calculation and Err is set.
type BulkResult struct {
	Calculation *domain.PremiumCalculation `json:"calculation,omitempty"`
	Err         error                      `json:"-"`
}

// BulkCalculate rates a batch of requests. At most BulkConcurrency run at
// once; up to BulkQueueDepth more may wait for a slot. Requests beyond that
// are rejected immediately with Overloaded rather than queued unboundedly.
// Each request is isolated: one failure never affects its neighbours, and
// results come back in input order.
func (e *Engine) BulkCalculate(ctx context.Context, reqs []*domain.RatingRequest) []BulkResult {
	results := make([]BulkResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		select {
		case e.admission <- struct{}{}:
		default:
			results[i] = BulkResult{Err: domain.NewOverloaded(cap(e.admission))}
			continue
		}

		wg.Add(1)
		go func(i int, req *domain.RatingRequest) {
			defer wg.Done()
			defer func() { <-e.admission }()

			if err := e.sem.Acquire(ctx, 1); err != nil {
				results[i] = BulkResult{Err: domain.NewCalculationTimeout(e.cfg.CalculationTimeout)}
				return
			}
			defer e.sem.Release(1)

			calc, err := e.Calculate(ctx, req)
			results[i] = BulkResult{Calculation: calc, Err: err}
		}(i, req)
	}
	wg.Wait()

	return results
}
