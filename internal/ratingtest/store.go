package ratingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// FakeStore is an in-memory domain.Store for tests that do not need a
// database. It mirrors the SQL store's error semantics.
type FakeStore struct {
	mu           sync.RWMutex
	versions     map[string]*domain.RateTableVersion
	calculations map[string]*domain.PremiumCalculation

	// SaveCalcErr, when set, is returned by SaveCalculation.
	SaveCalcErr error
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		versions:     make(map[string]*domain.RateTableVersion),
		calculations: make(map[string]*domain.PremiumCalculation),
	}
}

// NewActiveStore creates a fake store seeded with the canonical active
// version from Version().
func NewActiveStore() *FakeStore {
	s := NewFakeStore()
	_ = s.SaveVersion(context.Background(), Version())
	return s
}

func (s *FakeStore) SaveVersion(ctx context.Context, v *domain.RateTableVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

func (s *FakeStore) UpdateVersion(ctx context.Context, v *domain.RateTableVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[v.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

func (s *FakeStore) GetVersion(ctx context.Context, id string) (*domain.RateTableVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *FakeStore) ListVersions(ctx context.Context, jurisdiction, productType string) ([]*domain.RateTableVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.RateTableVersion
	for _, v := range s.versions {
		if v.Jurisdiction == jurisdiction && v.ProductType == productType {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber > out[j].VersionNumber
	})
	return out, nil
}

func (s *FakeStore) GetActiveVersion(ctx context.Context, jurisdiction, productType string) (*domain.RateTableVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.Jurisdiction == jurisdiction && v.ProductType == productType && v.Status == domain.StatusActive {
			cp := *v
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *FakeStore) NextVersionNumber(ctx context.Context, jurisdiction, productType string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, v := range s.versions {
		if v.Jurisdiction == jurisdiction && v.ProductType == productType && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max + 1, nil
}

func (s *FakeStore) ActivateVersion(ctx context.Context, versionID, approver string) (*domain.DeploymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return nil, domain.NewDeploymentError(versionID, "version not found", repository.ErrNotFound)
	}
	if v.Status != domain.StatusApproved {
		return nil, domain.NewDeploymentError(versionID,
			"only approved versions can be activated, status is "+string(v.Status), nil)
	}

	now := time.Now().UTC()
	result := &domain.DeploymentResult{
		ActivatedID:  v.ID,
		Jurisdiction: v.Jurisdiction,
		ProductType:  v.ProductType,
		ApprovedBy:   approver,
		ActivatedAt:  now,
	}

	for _, other := range s.versions {
		if other.ID != v.ID && other.Jurisdiction == v.Jurisdiction &&
			other.ProductType == v.ProductType && other.Status == domain.StatusActive {
			other.Status = domain.StatusRetired
			result.RetiredID = other.ID
		}
	}

	v.Status = domain.StatusActive
	v.ActivatedAt = &now
	return result, nil
}

func (s *FakeStore) SaveCalculation(ctx context.Context, calc *domain.PremiumCalculation) error {
	if s.SaveCalcErr != nil {
		return s.SaveCalcErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *calc
	s.calculations[calc.ID] = &cp
	return nil
}

func (s *FakeStore) GetCalculation(ctx context.Context, id string) (*domain.PremiumCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	calc, ok := s.calculations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *calc
	return &cp, nil
}

func (s *FakeStore) Ping(ctx context.Context) error { return nil }

func (s *FakeStore) Close() error { return nil }
