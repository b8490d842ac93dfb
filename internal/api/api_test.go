package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/overlay"
	"github.com/opensource-finance/kestrel/internal/ratingtest"
	"github.com/opensource-finance/kestrel/internal/resolver"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/version"
)

func newTestServer(t *testing.T) (*Server, *ratingtest.FakeStore) {
	t.Helper()

	store := ratingtest.NewActiveStore()
	c := cache.NewLRUCache(1000)
	versions := version.NewManager(store, c, nil, time.Minute)

	overlays, err := overlay.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	eng := engine.New(engine.Deps{
		Versions:  versions,
		Territory: resolver.NewTerritory(c, time.Minute),
		Vehicle:   resolver.NewVehicle(c, time.Minute),
		Driver:    resolver.NewDriver(c, time.Minute),
		Coverage:  resolver.NewCoverage(c, time.Minute),
		Risk:      risk.NewPolicy(&ratingtest.RiskStub{}, domain.RiskConfig{Policy: domain.RiskPolicyDegraded}),
		Overlays:  overlays,
		Store:     store,
	}, domain.EngineConfig{})

	srv := NewServer(domain.ServerConfig{}, eng, versions, store, c, nil, "test")
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRateEndpoint(t *testing.T) {
	t.Run("RatesValidQuote", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/rate", ratingtest.Request(), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp RateResponse
		decodeBody(t, rec, &resp)
		if resp.Calculation == nil {
			t.Fatal("expected calculation in response")
		}
		if !resp.Calculation.TotalPremium.Equal(decimal.RequireFromString("1890.00")) {
			t.Errorf("expected total 1890.00, got %s", resp.Calculation.TotalPremium)
		}
		if resp.Metadata.Version != "test" {
			t.Errorf("expected build version in metadata, got %q", resp.Metadata.Version)
		}
	})

	t.Run("RejectsMalformedJSON", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/rate", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("RejectsIncompleteRequest", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := ratingtest.Request()
		req.Drivers = nil
		rec := doJSON(t, srv, http.MethodPost, "/rate", req, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for empty household, got %d", rec.Code)
		}
	})

	t.Run("UnknownTerritoryIs422", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := ratingtest.Request()
		req.Territory = "T-999"
		rec := doJSON(t, srv, http.MethodPost, "/rate", req, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}

		var body struct {
			Kind domain.ErrorKind `json:"kind"`
		}
		decodeBody(t, rec, &body)
		if body.Kind != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY kind, got %s", body.Kind)
		}
	})

	t.Run("NoActiveRateTableIs404", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := ratingtest.Request()
		req.Jurisdiction = "TX"
		rec := doJSON(t, srv, http.MethodPost, "/rate", req, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestBulkRateEndpoint(t *testing.T) {
	t.Run("PartialFailure", func(t *testing.T) {
		srv, _ := newTestServer(t)

		poison := ratingtest.Request()
		poison.Territory = "T-999"
		body := BulkRateRequest{
			Requests: []*domain.RatingRequest{
				ratingtest.Request(),
				poison,
				ratingtest.Request(),
			},
		}

		rec := doJSON(t, srv, http.MethodPost, "/rate/bulk", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp BulkRateResponse
		decodeBody(t, rec, &resp)
		if resp.Succeeded != 2 || resp.Failed != 1 {
			t.Errorf("expected 2 succeeded / 1 failed, got %d/%d", resp.Succeeded, resp.Failed)
		}
		if resp.Results[1].ErrorKind != domain.ErrKindUnknownFactorKey {
			t.Errorf("expected UNKNOWN_FACTOR_KEY at position 1, got %s", resp.Results[1].ErrorKind)
		}
		if resp.Results[0].Calculation == nil || resp.Results[2].Calculation == nil {
			t.Error("neighbours of a failed entry must still be rated")
		}
	})

	t.Run("RejectsEmptyBatch", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/rate/bulk", BulkRateRequest{}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for empty batch, got %d", rec.Code)
		}
	})

	t.Run("RejectsInvalidEntry", func(t *testing.T) {
		srv, _ := newTestServer(t)

		invalid := ratingtest.Request()
		invalid.Coverages = nil
		rec := doJSON(t, srv, http.MethodPost, "/rate/bulk", BulkRateRequest{
			Requests: []*domain.RatingRequest{invalid},
		}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for invalid entry, got %d", rec.Code)
		}
	})
}

func TestCalculationEndpoints(t *testing.T) {
	t.Run("GetAndReplay", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/rate", ratingtest.Request(), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("rate failed: %d", rec.Code)
		}
		var rated RateResponse
		decodeBody(t, rec, &rated)

		rec = doJSON(t, srv, http.MethodGet, "/calculations/"+rated.Calculation.ID, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var calc domain.PremiumCalculation
		decodeBody(t, rec, &calc)
		if !calc.TotalPremium.Equal(rated.Calculation.TotalPremium) {
			t.Errorf("stored total %s != rated %s", calc.TotalPremium, rated.Calculation.TotalPremium)
		}

		rec = doJSON(t, srv, http.MethodGet, "/calculations/"+rated.Calculation.ID+"/replay", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 replay, got %d: %s", rec.Code, rec.Body.String())
		}
		var replay struct {
			Verified bool `json:"verified"`
		}
		decodeBody(t, rec, &replay)
		if !replay.Verified {
			t.Error("expected verified replay")
		}
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodGet, "/calculations/missing", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("ReplayMismatchIs409", func(t *testing.T) {
		srv, store := newTestServer(t)

		tampered := &domain.PremiumCalculation{
			ID:             "tampered-001",
			Jurisdiction:   "CA",
			ProductType:    "personal-auto",
			BasePremium:    decimal.RequireFromString("1000.00"),
			TotalPremium:   decimal.RequireFromString("999.00"),
			MonthlyPremium: decimal.RequireFromString("83.25"),
			CalculatedAt:   time.Now().UTC(),
		}
		if err := store.SaveCalculation(context.Background(), tampered); err != nil {
			t.Fatalf("SaveCalculation failed: %v", err)
		}

		rec := doJSON(t, srv, http.MethodGet, "/calculations/tampered-001/replay", nil, nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409 for tampered calculation, got %d", rec.Code)
		}
	})
}

func TestRateTableEndpoints(t *testing.T) {
	submission := func() domain.RateTableSubmission {
		return domain.RateTableSubmission{
			Jurisdiction:  "NY",
			ProductType:   "personal-auto",
			EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Tables:        ratingtest.Tables(),
			SubmittedBy:   "actuarial-team",
		}
	}

	t.Run("FullLifecycle", func(t *testing.T) {
		srv, _ := newTestServer(t)
		approver := map[string]string{ApproverIDHeader: "jane.actuary"}

		rec := doJSON(t, srv, http.MethodPost, "/ratetables", submission(), nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var ver domain.RateTableVersion
		decodeBody(t, rec, &ver)
		if ver.Status != domain.StatusDraft {
			t.Fatalf("expected draft, got %s", ver.Status)
		}

		rec = doJSON(t, srv, http.MethodPost, "/ratetables/"+ver.ID+"/validate", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("validate: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, srv, http.MethodPost, "/ratetables/"+ver.ID+"/approve", nil, approver)
		if rec.Code != http.StatusOK {
			t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, srv, http.MethodPost, "/ratetables/"+ver.ID+"/activate", nil, approver)
		if rec.Code != http.StatusOK {
			t.Fatalf("activate: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doJSON(t, srv, http.MethodGet, "/ratetables/active?jurisdiction=NY&product=personal-auto", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("active lookup: expected 200, got %d", rec.Code)
		}
		var active domain.RateTableVersion
		decodeBody(t, rec, &active)
		if active.ID != ver.ID || active.Status != domain.StatusActive {
			t.Errorf("expected %s active, got %s (%s)", ver.ID, active.ID, active.Status)
		}

		// A quote in the new jurisdiction now rates successfully.
		req := ratingtest.Request()
		req.Jurisdiction = "NY"
		req.EffectiveDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
		rec = doJSON(t, srv, http.MethodPost, "/rate", req, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("rate after activation: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("ApproveRequiresApproverHeader", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodPost, "/ratetables/some-id/approve", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without approver header, got %d", rec.Code)
		}

		rec = doJSON(t, srv, http.MethodPost, "/ratetables/some-id/activate", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without approver header, got %d", rec.Code)
		}
	})

	t.Run("InvalidTablesFailValidation", func(t *testing.T) {
		srv, _ := newTestServer(t)

		sub := submission()
		sub.Tables.BasePremium = decimal.Zero
		rec := doJSON(t, srv, http.MethodPost, "/ratetables", sub, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201 for draft, got %d", rec.Code)
		}
		var ver domain.RateTableVersion
		decodeBody(t, rec, &ver)

		rec = doJSON(t, srv, http.MethodPost, "/ratetables/"+ver.ID+"/validate", nil, nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409 for failed self-check, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("ListVersions", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodGet, "/ratetables?jurisdiction=CA&product=personal-auto", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body struct {
			Versions []domain.RateTableVersion `json:"versions"`
		}
		decodeBody(t, rec, &body)
		if len(body.Versions) != 1 {
			t.Errorf("expected 1 seeded version, got %d", len(body.Versions))
		}
	})

	t.Run("ListRequiresKeyPair", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodGet, "/ratetables", nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without key pair, got %d", rec.Code)
		}
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := doJSON(t, srv, http.MethodGet, "/ratetables/missing", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
