package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies rating failures. Errors are explicit return values;
// every kind carries enough structured context (source, key, version) to
// support audit and replay.
type ErrorKind string

const (
	ErrKindNoActiveRateTable ErrorKind = "NO_ACTIVE_RATE_TABLE"
	ErrKindFactorResolution  ErrorKind = "FACTOR_RESOLUTION"
	ErrKindUnknownFactorKey  ErrorKind = "UNKNOWN_FACTOR_KEY"
	ErrKindRuleViolation     ErrorKind = "RULE_VIOLATION"
	ErrKindOverlayConflict   ErrorKind = "OVERLAY_CONFLICT"
	ErrKindRiskAdapter       ErrorKind = "RISK_ADAPTER"
	ErrKindDeployment        ErrorKind = "DEPLOYMENT"
	ErrKindTimeout           ErrorKind = "CALCULATION_TIMEOUT"
	ErrKindOverloaded        ErrorKind = "OVERLOADED"
)

// RatingError is the typed failure result of the engine.
type RatingError struct {
	Kind      ErrorKind
	Source    string // resolver source, for factor errors
	Key       string // offending input key, if any
	VersionID string // rate table version in effect, if resolved
	Message   string
	Err       error
}

func (e *RatingError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Source != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Source, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *RatingError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry with backoff.
func (e *RatingError) Retryable() bool {
	return e.Kind == ErrKindTimeout || e.Kind == ErrKindOverloaded
}

// Business reports whether the failure is client-correctable rather than a
// system fault. The API layer maps these to 4xx responses.
func (e *RatingError) Business() bool {
	switch e.Kind {
	case ErrKindRuleViolation, ErrKindUnknownFactorKey, ErrKindNoActiveRateTable:
		return true
	}
	return false
}

// KindOf extracts the error kind, or "" for non-rating errors.
func KindOf(err error) ErrorKind {
	var re *RatingError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func NewNoActiveRateTable(jurisdiction, product string) *RatingError {
	return &RatingError{
		Kind:    ErrKindNoActiveRateTable,
		Key:     jurisdiction + "/" + product,
		Message: fmt.Sprintf("no active rate table for %s/%s", jurisdiction, product),
	}
}

func NewFactorResolutionError(source string, err error) *RatingError {
	return &RatingError{
		Kind:    ErrKindFactorResolution,
		Source:  source,
		Message: "factor resolution failed",
		Err:     err,
	}
}

func NewUnknownFactorKey(source, key string) *RatingError {
	return &RatingError{
		Kind:    ErrKindUnknownFactorKey,
		Source:  source,
		Key:     key,
		Message: fmt.Sprintf("no %s factor for key %q", source, key),
	}
}

func NewRuleViolation(jurisdiction, msg string) *RatingError {
	return &RatingError{
		Kind:    ErrKindRuleViolation,
		Key:     jurisdiction,
		Message: msg,
	}
}

func NewOverlayConflict(jurisdiction, factorName string) *RatingError {
	return &RatingError{
		Kind:    ErrKindOverlayConflict,
		Key:     jurisdiction,
		Message: fmt.Sprintf("overlays in %s conflict on factor %q", jurisdiction, factorName),
	}
}

func NewRiskAdapterError(err error) *RatingError {
	return &RatingError{
		Kind:    ErrKindRiskAdapter,
		Source:  SourceRisk,
		Message: "risk adapter unavailable",
		Err:     err,
	}
}

func NewDeploymentError(versionID, msg string, err error) *RatingError {
	return &RatingError{
		Kind:      ErrKindDeployment,
		VersionID: versionID,
		Message:   msg,
		Err:       err,
	}
}

func NewCalculationTimeout(budget time.Duration) *RatingError {
	return &RatingError{
		Kind:    ErrKindTimeout,
		Message: fmt.Sprintf("calculation exceeded the %s deadline", budget),
	}
}

func NewOverloaded(capacity int) *RatingError {
	return &RatingError{
		Kind:    ErrKindOverloaded,
		Message: fmt.Sprintf("bulk admission queue is full (capacity %d)", capacity),
	}
}
