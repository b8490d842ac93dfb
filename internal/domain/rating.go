package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatingRequest is a fully-formed rate-shopping request handed over by the
// Quote Service. The caller has already authenticated and structurally
// validated customer data; the engine treats the request as immutable.
type RatingRequest struct {
	Jurisdiction  string    `json:"jurisdiction"`
	ProductType   string    `json:"productType"`
	EffectiveDate time.Time `json:"effectiveDate"`

	// Territory is the geographic rating unit, derived from address/zip
	// by the caller.
	Territory string `json:"territory"`

	Vehicle   Vehicle             `json:"vehicle"`
	Drivers   []Driver            `json:"drivers"`
	Coverages []CoverageSelection `json:"coverages"`
}

// Vehicle holds the rated vehicle's attributes.
type Vehicle struct {
	VIN          string `json:"vin"`
	Type         string `json:"type"` // "sedan", "suv", "truck", "sports"
	ModelYear    int    `json:"modelYear"`
	SafetyRating string `json:"safetyRating"` // letter grade, e.g. "A", "B", "C"
	AntiTheft    bool   `json:"antiTheft"`
}

// Driver holds a single driver's rating attributes.
type Driver struct {
	Age              int `json:"age"`
	YearsLicensed    int `json:"yearsLicensed"`
	Violations       int `json:"violations"`
	AtFaultAccidents int `json:"atFaultAccidents"`
}

// CoverageSelection is one selected coverage line.
// Deductible is nil when the coverage carries no deductible.
type CoverageSelection struct {
	Type       string `json:"type"`  // "liability", "collision", "comprehensive"
	Level      string `json:"level"` // "basic", "standard", "premium"
	Deductible *int64 `json:"deductible,omitempty"`
}

// Coverage type constants.
const (
	CoverageLiability     = "liability"
	CoverageCollision     = "collision"
	CoverageComprehensive = "comprehensive"
)

// FactorKind is the closed set of ways a factor composes into a premium.
type FactorKind string

const (
	FactorMultiplicative FactorKind = "multiplicative"
	FactorAdditive       FactorKind = "additive"
	FactorCredit         FactorKind = "credit"
	FactorSurcharge      FactorKind = "surcharge"
)

// Factor sources. Every factor carries the source that produced it.
const (
	SourceTerritory = "territory"
	SourceVehicle   = "vehicle"
	SourceDriver    = "driver"
	SourceCoverage  = "coverage"
	SourceRisk      = "risk"
	SourceOverlay   = "overlay"
)

// RatingFactor is an immutable value applied to the base premium.
// Composition is commutative within a kind group but factors are kept in
// their declared order so that a calculation can be replayed for audit.
type RatingFactor struct {
	Name        string          `json:"name"`
	Value       decimal.Decimal `json:"value"`
	Kind        FactorKind      `json:"kind"`
	Source      string          `json:"source"`
	Explanation string          `json:"explanation"`
}

// AggregationStrategy decides how per-driver factors combine into a single
// household factor. Max-risk is the default; jurisdiction overlays may
// replace it.
type AggregationStrategy string

const (
	AggregateMaxRisk AggregationStrategy = "max-risk"
	AggregateAverage AggregationStrategy = "average"
)

// RiskScore is produced by the external risk adapter. The adjustment factor
// is treated as one more multiplicative rating factor.
type RiskScore struct {
	Score            float64         `json:"score"` // [0,1]
	AdjustmentFactor decimal.Decimal `json:"adjustmentFactor"`
	Explanations     []string        `json:"explanations"`
	Confidence       float64         `json:"confidence"`
	ModelVersion     string          `json:"modelVersion"`
}

// PremiumCalculation is the sole output artifact of the engine. It is fully
// traceable: replaying Factors against BasePremium in order reproduces
// TotalPremium exactly.
type PremiumCalculation struct {
	ID           string `json:"id"`
	Jurisdiction string `json:"jurisdiction"`
	ProductType  string `json:"productType"`

	BasePremium    decimal.Decimal `json:"basePremium"`
	Factors        []RatingFactor  `json:"factors"`
	TotalPremium   decimal.Decimal `json:"totalPremium"`
	MonthlyPremium decimal.Decimal `json:"monthlyPremium"`

	RateTableVersionID string `json:"rateTableVersionId"`

	// Degraded is set when the risk adapter was unavailable and a neutral
	// adjustment was substituted under the degraded policy. Never silent.
	Degraded bool `json:"degraded,omitempty"`

	CalculatedAt time.Time `json:"calculatedAt"`
	DurationMs   int64     `json:"calculationDurationMs"`
}

// MonthlyFrom derives the monthly installment from a total annual premium,
// rounded half-up to cents.
func MonthlyFrom(total decimal.Decimal) decimal.Decimal {
	return total.Div(decimal.NewFromInt(12)).Round(2)
}
