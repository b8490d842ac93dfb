package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VersionStatus is the rate table lifecycle state.
// Content is mutable only in draft; from validated on the version is frozen
// and any change requires a new version.
type VersionStatus string

const (
	StatusDraft     VersionStatus = "draft"
	StatusValidated VersionStatus = "validated"
	StatusApproved  VersionStatus = "approved"
	StatusActive    VersionStatus = "active"
	StatusRetired   VersionStatus = "retired"
)

var statusTransitions = map[VersionStatus][]VersionStatus{
	StatusDraft:     {StatusValidated},
	StatusValidated: {StatusApproved},
	StatusApproved:  {StatusActive},
	StatusActive:    {StatusRetired},
	StatusRetired:   {},
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s VersionStatus) CanTransitionTo(next VersionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RateTableVersion is an immutable snapshot of base rates and factor tables
// for one (jurisdiction, product). VersionNumber is monotonic per key pair.
type RateTableVersion struct {
	ID             string        `json:"id"`
	Jurisdiction   string        `json:"jurisdiction"`
	ProductType    string        `json:"productType"`
	VersionNumber  int           `json:"versionNumber"`
	EffectiveDate  time.Time     `json:"effectiveDate"`
	ExpirationDate *time.Time    `json:"expirationDate,omitempty"`
	Status         VersionStatus `json:"status"`

	Tables RateTables `json:"tables"`

	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	ApprovedBy  string     `json:"approvedBy,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

// CoversDate reports whether the effective window contains d.
func (v *RateTableVersion) CoversDate(d time.Time) bool {
	if d.Before(v.EffectiveDate) {
		return false
	}
	if v.ExpirationDate != nil && !d.Before(*v.ExpirationDate) {
		return false
	}
	return true
}

// RateTables holds the typed factor tables for a version. The submission
// format is schema-flexible JSON; ingestion converts it into these closed
// structs and rejects anything that does not fit.
type RateTables struct {
	BasePremium decimal.Decimal `json:"basePremium"`

	Territory map[string]TerritoryRate `json:"territory"` // key: territory code
	Vehicle   VehicleTables            `json:"vehicle"`
	Driver    DriverTables             `json:"driver"`
	Coverage  map[string]CoverageRate  `json:"coverage"` // key: "type/level"
}

// TerritoryRate combines the base territorial factor with catastrophe
// exposure and population density multipliers.
type TerritoryRate struct {
	Base        decimal.Decimal `json:"base"`
	Catastrophe decimal.Decimal `json:"catastrophe"`
	Density     decimal.Decimal `json:"density"` // urban/rural multiplier
}

// VehicleTables maps vehicle attributes to multipliers.
type VehicleTables struct {
	Type            map[string]decimal.Decimal `json:"type"`
	AgeBands        []AgeBand                  `json:"ageBands"`
	Safety          map[string]decimal.Decimal `json:"safety"`
	AntiTheftFactor decimal.Decimal            `json:"antiTheftFactor"` // applied when anti-theft fitted
}

// DriverTables maps driver attributes to multipliers.
type DriverTables struct {
	AgeBands           []AgeBand       `json:"ageBands"`
	ViolationSurcharge decimal.Decimal `json:"violationSurcharge"` // per violation
	AccidentSurcharge  decimal.Decimal `json:"accidentSurcharge"`  // per at-fault accident
	InexperienceFactor decimal.Decimal `json:"inexperienceFactor"` // licensed < 3 years
}

// CoverageRate maps a coverage level to its factor and the permitted
// deductible adjustments.
type CoverageRate struct {
	Factor      decimal.Decimal           `json:"factor"`
	Deductibles map[int64]decimal.Decimal `json:"deductibles,omitempty"`
}

// AgeBand maps an inclusive age range to a factor. Max < 0 means open-ended.
type AgeBand struct {
	Min    int             `json:"min"`
	Max    int             `json:"max"`
	Factor decimal.Decimal `json:"factor"`
}

// Contains reports whether age falls inside the band.
func (b AgeBand) Contains(age int) bool {
	if age < b.Min {
		return false
	}
	return b.Max < 0 || age <= b.Max
}

// RateTableSubmission is the structured document consumed by the version
// manager. Schema validation is the draft → validated gate.
type RateTableSubmission struct {
	Jurisdiction   string     `json:"jurisdiction"`
	ProductType    string     `json:"productType"`
	EffectiveDate  time.Time  `json:"effectiveDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	Tables         RateTables `json:"tables"`
	SubmittedBy    string     `json:"submittedBy"`
}

// DeploymentResult records a completed atomic activation.
type DeploymentResult struct {
	ActivatedID  string    `json:"activatedId"`
	RetiredID    string    `json:"retiredId,omitempty"`
	Jurisdiction string    `json:"jurisdiction"`
	ProductType  string    `json:"productType"`
	ApprovedBy   string    `json:"approvedBy"`
	ActivatedAt  time.Time `json:"activatedAt"`
}
