// Package version manages the rate table lifecycle:
// draft → validated → approved → active → retired.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Manager drives lifecycle transitions and the atomic deployment step.
type Manager struct {
	store      domain.Store
	cache      domain.Cache
	bus        domain.EventBus
	pointerTTL time.Duration
}

// NewManager creates a version manager. cache and bus may be nil.
func NewManager(store domain.Store, cache domain.Cache, bus domain.EventBus, pointerTTL time.Duration) *Manager {
	if pointerTTL == 0 {
		pointerTTL = time.Minute
	}
	return &Manager{
		store:      store,
		cache:      cache,
		bus:        bus,
		pointerTTL: pointerTTL,
	}
}

// Submit ingests a rate table submission document as a new draft version.
// The version number is monotonic per (jurisdiction, product).
func (m *Manager) Submit(ctx context.Context, sub *domain.RateTableSubmission) (*domain.RateTableVersion, error) {
	if sub.Jurisdiction == "" || sub.ProductType == "" {
		return nil, fmt.Errorf("jurisdiction and productType are required")
	}
	if sub.EffectiveDate.IsZero() {
		return nil, fmt.Errorf("effectiveDate is required")
	}
	if sub.ExpirationDate != nil && !sub.ExpirationDate.After(sub.EffectiveDate) {
		return nil, fmt.Errorf("expirationDate must be after effectiveDate")
	}

	number, err := m.store.NextVersionNumber(ctx, sub.Jurisdiction, sub.ProductType)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version number: %w", err)
	}

	v := &domain.RateTableVersion{
		ID:             uuid.New().String(),
		Jurisdiction:   sub.Jurisdiction,
		ProductType:    sub.ProductType,
		VersionNumber:  number,
		EffectiveDate:  sub.EffectiveDate,
		ExpirationDate: sub.ExpirationDate,
		Status:         domain.StatusDraft,
		Tables:         sub.Tables,
		CreatedBy:      sub.SubmittedBy,
		CreatedAt:      time.Now().UTC(),
	}

	if err := m.store.SaveVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to save draft version: %w", err)
	}

	slog.Info("rate table draft submitted",
		"version_id", v.ID,
		"jurisdiction", v.Jurisdiction,
		"product", v.ProductType,
		"version_number", v.VersionNumber,
	)

	return v, nil
}

// Validate runs the draft → validated gate: schema and business self-checks.
// A failing check returns a deployment error and leaves the draft untouched.
func (m *Manager) Validate(ctx context.Context, versionID string) (*domain.RateTableVersion, error) {
	v, err := m.get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !v.Status.CanTransitionTo(domain.StatusValidated) {
		return nil, domain.NewDeploymentError(versionID,
			fmt.Sprintf("cannot validate a %s version", v.Status), nil)
	}

	if err := ValidateTables(&v.Tables); err != nil {
		return nil, domain.NewDeploymentError(versionID, "self-check failed", err)
	}

	v.Status = domain.StatusValidated
	if err := m.store.UpdateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to persist validation: %w", err)
	}

	slog.Info("rate table validated", "version_id", v.ID)
	return v, nil
}

// Approve records sign-off. Authorization of the approver is enforced by the
// external admin collaborator; this component only records the reference.
func (m *Manager) Approve(ctx context.Context, versionID, approver string) (*domain.RateTableVersion, error) {
	if approver == "" {
		return nil, fmt.Errorf("approver identity is required")
	}

	v, err := m.get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !v.Status.CanTransitionTo(domain.StatusApproved) {
		return nil, domain.NewDeploymentError(versionID,
			fmt.Sprintf("cannot approve a %s version", v.Status), nil)
	}

	v.Status = domain.StatusApproved
	v.ApprovedBy = approver
	if err := m.store.UpdateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	slog.Info("rate table approved", "version_id", v.ID, "approver", approver)
	return v, nil
}

// Activate deploys an approved version. The store performs the atomic
// retire-and-activate transaction; the active-version pointer cache is
// invalidated and a deployment event published as part of the same step.
func (m *Manager) Activate(ctx context.Context, versionID, approver string) (*domain.DeploymentResult, error) {
	if approver == "" {
		return nil, domain.NewDeploymentError(versionID, "approver identity is required", nil)
	}

	result, err := m.store.ActivateVersion(ctx, versionID, approver)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if err := m.cache.InvalidateActiveVersion(ctx, result.Jurisdiction, result.ProductType); err != nil {
			slog.Warn("failed to invalidate active-version pointer",
				"jurisdiction", result.Jurisdiction,
				"product", result.ProductType,
				"error", err,
			)
		}
		_ = m.cache.SetActiveVersionID(ctx, result.Jurisdiction, result.ProductType, result.ActivatedID, m.pointerTTL)
	}

	if m.bus != nil {
		payload, _ := json.Marshal(result)
		if err := m.bus.Publish(ctx, domain.TopicRateTableActivated, payload); err != nil {
			slog.Error("failed to publish activation event",
				"version_id", versionID,
				"error", err,
			)
		}
	}

	slog.Info("rate table activated",
		"version_id", result.ActivatedID,
		"retired_id", result.RetiredID,
		"jurisdiction", result.Jurisdiction,
		"product", result.ProductType,
		"approver", approver,
	)

	return result, nil
}

// ActiveVersion resolves the active version for a key pair, preferring the
// cached pointer. Used on the hot calculation path.
func (m *Manager) ActiveVersion(ctx context.Context, jurisdiction, productType string) (*domain.RateTableVersion, error) {
	if m.cache != nil {
		if id, err := m.cache.GetActiveVersionID(ctx, jurisdiction, productType); err == nil && id != "" {
			v, err := m.store.GetVersion(ctx, id)
			if err == nil && v.Status == domain.StatusActive {
				return v, nil
			}
			// Stale pointer: fall through to the store lookup.
			_ = m.cache.InvalidateActiveVersion(ctx, jurisdiction, productType)
		}
	}

	v, err := m.store.GetActiveVersion(ctx, jurisdiction, productType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNoActiveRateTable(jurisdiction, productType)
		}
		return nil, err
	}

	if m.cache != nil {
		_ = m.cache.SetActiveVersionID(ctx, jurisdiction, productType, v.ID, m.pointerTTL)
	}

	return v, nil
}

// Get retrieves a version by ID.
func (m *Manager) Get(ctx context.Context, versionID string) (*domain.RateTableVersion, error) {
	return m.get(ctx, versionID)
}

// List retrieves all versions for a key pair, newest first.
func (m *Manager) List(ctx context.Context, jurisdiction, productType string) ([]*domain.RateTableVersion, error) {
	return m.store.ListVersions(ctx, jurisdiction, productType)
}

func (m *Manager) get(ctx context.Context, versionID string) (*domain.RateTableVersion, error) {
	v, err := m.store.GetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewDeploymentError(versionID, "version not found", err)
		}
		return nil, err
	}
	return v, nil
}
