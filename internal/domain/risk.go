package domain

import (
	"context"
)

// RiskAdapter is the capability boundary to an external scoring provider.
// The engine never calls a provider directly; everything goes through this
// interface so that the provider can be statistical, ML-backed, or a local
// table-driven model.
type RiskAdapter interface {
	// Score produces a bounded adjustment factor for the request, with
	// explanations and a confidence value.
	Score(ctx context.Context, req *RatingRequest) (*RiskScore, error)
}

// RiskPolicy decides how adapter unavailability is handled.
type RiskPolicy string

const (
	// RiskPolicyRequired fails the whole calculation when the adapter is
	// unavailable.
	RiskPolicyRequired RiskPolicy = "required"

	// RiskPolicyDegraded substitutes a neutral factor of exactly 1.0 and
	// surfaces degraded=true in the result. Never silently absorbed.
	RiskPolicyDegraded RiskPolicy = "degraded"
)

// RiskConfig holds risk adapter settings.
type RiskConfig struct {
	Policy RiskPolicy `json:"policy"`

	// Adjustment factor clamp bounds.
	MinAdjustment float64 `json:"minAdjustment"`
	MaxAdjustment float64 `json:"maxAdjustment"`
}
