// Package overlay implements the jurisdiction rule engine: an ordered
// pipeline of per-jurisdiction rule overlays applied on top of the resolved
// factor set.
package overlay

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Overlay is one jurisdiction-specific rule. Overlays execute in ascending
// Priority order. An overlay with a When expression only fires when the
// compiled CEL predicate evaluates to true against the request and current
// factor set.
//
// Exactly one effect must be set: AddFactor, SetAggregation, CapPremium or
// Reject.
type Overlay struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	Priority     int    `json:"priority"`

	// When is a CEL predicate; empty means the overlay always fires.
	When string `json:"when,omitempty"`

	// AddFactor appends a factor (e.g. a mandatory-coverage surcharge).
	AddFactor *domain.RatingFactor `json:"addFactor,omitempty"`

	// SetAggregation replaces the driver aggregation strategy.
	SetAggregation domain.AggregationStrategy `json:"setAggregation,omitempty"`

	// CapPremium clamps the total premium; the clamp is recorded as a
	// credit factor so the calculation stays replayable.
	CapPremium *decimal.Decimal `json:"capPremium,omitempty"`

	// Reject fails the request with a rule violation carrying this message.
	Reject string `json:"reject,omitempty"`
}

// effectCount reports how many effects are configured.
func (o *Overlay) effectCount() int {
	n := 0
	if o.AddFactor != nil {
		n++
	}
	if o.SetAggregation != "" {
		n++
	}
	if o.CapPremium != nil {
		n++
	}
	if o.Reject != "" {
		n++
	}
	return n
}

// Outcome is the accumulated result of applying a jurisdiction's overlays.
type Outcome struct {
	// Factors added by overlays, in priority order.
	Factors []domain.RatingFactor

	// Aggregation is the replacement driver aggregation strategy, or ""
	// when unchanged.
	Aggregation domain.AggregationStrategy

	// Cap is the premium ceiling, nil when uncapped. When multiple
	// overlays cap, the lowest ceiling wins.
	Cap *decimal.Decimal
}
