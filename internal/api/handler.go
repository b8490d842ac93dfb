package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/version"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *engine.Engine
	versions *version.Manager
	store    domain.Store
	cache    domain.Cache
	bus      domain.EventBus
	build    string
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Engine, versions *version.Manager, store domain.Store, cache domain.Cache, bus domain.EventBus, build string) *Handler {
	return &Handler{
		engine:   eng,
		versions: versions,
		store:    store,
		cache:    cache,
		bus:      bus,
		build:    build,
	}
}

// RateResponse is the response for POST /rate.
type RateResponse struct {
	Calculation *domain.PremiumCalculation `json:"calculation"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Rate handles POST /rate requests: one quote, rated synchronously.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if msg := validateRatingRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": msg,
		})
		return
	}

	calc, err := h.engine.Calculate(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := RateResponse{Calculation: calc}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.build

	writeJSON(w, http.StatusOK, resp)
}

// BulkRateRequest is the request body for POST /rate/bulk.
type BulkRateRequest struct {
	Requests []*domain.RatingRequest `json:"requests"`
}

// BulkRateItem is one entry of a bulk response, in input order.
type BulkRateItem struct {
	Calculation *domain.PremiumCalculation `json:"calculation,omitempty"`
	Error       string                     `json:"error,omitempty"`
	ErrorKind   domain.ErrorKind           `json:"errorKind,omitempty"`
}

// BulkRateResponse is the response for POST /rate/bulk.
type BulkRateResponse struct {
	Results   []BulkRateItem `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	TotalMs   int64          `json:"totalMs"`
}

// RateBulk handles POST /rate/bulk requests. Each quote is isolated; partial
// failure is reported per entry, never for the batch as a whole.
func (h *Handler) RateBulk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req BulkRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Requests) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "requests must not be empty",
		})
		return
	}
	for i, rr := range req.Requests {
		if rr == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "request entries must not be null",
			})
			return
		}
		if msg := validateRatingRequest(rr); msg != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "request " + strconv.Itoa(i) + ": " + msg,
			})
			return
		}
	}

	results := h.engine.BulkCalculate(ctx, req.Requests)

	resp := BulkRateResponse{
		Results: make([]BulkRateItem, len(results)),
	}
	for i, res := range results {
		if res.Err != nil {
			resp.Results[i] = BulkRateItem{
				Error:     res.Err.Error(),
				ErrorKind: domain.KindOf(res.Err),
			}
			resp.Failed++
			continue
		}
		resp.Results[i] = BulkRateItem{Calculation: res.Calculation}
		resp.Succeeded++
	}
	resp.TotalMs = time.Since(start).Milliseconds()

	writeJSON(w, http.StatusOK, resp)
}

// GetCalculation retrieves a stored calculation by ID.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	calcID := chi.URLParam(r, "id")

	if calcID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "calculation id is required",
		})
		return
	}

	calc, err := h.store.GetCalculation(ctx, calcID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "calculation not found",
			})
			return
		}
		slog.Error("failed to get calculation", "id", calcID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, calc)
}

// ReplayCalculation re-derives a stored calculation from its factor list and
// verifies the totals. Auditors use this to prove a historical premium.
func (h *Handler) ReplayCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	calcID := chi.URLParam(r, "id")

	calc, err := h.engine.Replay(ctx, calcID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "calculation not found",
			})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"calculation": calc,
		"verified":    true,
	})
}

// SubmitRateTable handles POST /ratetables: a new draft version.
func (h *Handler) SubmitRateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub domain.RateTableSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if sub.Jurisdiction == "" || sub.ProductType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "jurisdiction and productType are required",
		})
		return
	}
	if sub.EffectiveDate.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "effectiveDate is required",
		})
		return
	}

	ver, err := h.versions.Submit(ctx, &sub)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rate table submitted",
		"version_id", ver.ID,
		"jurisdiction", ver.Jurisdiction,
		"product", ver.ProductType,
		"version_number", ver.VersionNumber,
	)
	writeJSON(w, http.StatusCreated, ver)
}

// ValidateRateTable handles POST /ratetables/{id}/validate.
func (h *Handler) ValidateRateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID := chi.URLParam(r, "id")

	ver, err := h.versions.Validate(ctx, versionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ver)
}

// ApproveRateTable handles POST /ratetables/{id}/approve. The approver is
// identified by the X-Approver-ID header.
func (h *Handler) ApproveRateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID := chi.URLParam(r, "id")

	approver := r.Header.Get(ApproverIDHeader)
	if approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ApproverIDHeader + " header is required",
		})
		return
	}

	ver, err := h.versions.Approve(ctx, versionID, approver)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ver)
}

// ActivateRateTable handles POST /ratetables/{id}/activate. Activation is
// atomic: the previous active version is retired in the same transaction.
func (h *Handler) ActivateRateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID := chi.URLParam(r, "id")

	approver := r.Header.Get(ApproverIDHeader)
	if approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ApproverIDHeader + " header is required",
		})
		return
	}

	result, err := h.versions.Activate(ctx, versionID, approver)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rate table activated",
		"version_id", result.ActivatedID,
		"retired_id", result.RetiredID,
		"jurisdiction", result.Jurisdiction,
		"product", result.ProductType,
		"approved_by", result.ApprovedBy,
	)
	writeJSON(w, http.StatusOK, result)
}

// GetRateTable retrieves a rate table version by ID.
func (h *Handler) GetRateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID := chi.URLParam(r, "id")

	ver, err := h.versions.Get(ctx, versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rate table version not found",
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ver)
}

// ListRateTables lists versions for a jurisdiction/product pair.
func (h *Handler) ListRateTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jurisdiction := r.URL.Query().Get("jurisdiction")
	product := r.URL.Query().Get("product")

	if jurisdiction == "" || product == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "jurisdiction and product query parameters are required",
		})
		return
	}

	versions, err := h.versions.List(ctx, jurisdiction, product)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetActiveRateTable returns the active version for a jurisdiction/product.
func (h *Handler) GetActiveRateTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jurisdiction := r.URL.Query().Get("jurisdiction")
	product := r.URL.Query().Get("product")

	if jurisdiction == "" || product == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "jurisdiction and product query parameters are required",
		})
		return
	}

	ver, err := h.versions.ActiveVersion(ctx, jurisdiction, product)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ver)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.build,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// validateRatingRequest checks the request's shape before it reaches the
// engine. Table-level validation (unknown territory, missing coverage rates)
// happens in the resolvers.
func validateRatingRequest(req *domain.RatingRequest) string {
	if req.Jurisdiction == "" || req.ProductType == "" {
		return "jurisdiction and productType are required"
	}
	if req.Territory == "" {
		return "territory is required"
	}
	if req.EffectiveDate.IsZero() {
		return "effectiveDate is required"
	}
	if len(req.Drivers) == 0 {
		return "at least one driver is required"
	}
	if len(req.Coverages) == 0 {
		return "at least one coverage selection is required"
	}
	return ""
}

// writeError maps engine error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var re *domain.RatingError
	if !errors.As(err, &re) {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch re.Kind {
	case domain.ErrKindNoActiveRateTable:
		status = http.StatusNotFound
	case domain.ErrKindRuleViolation, domain.ErrKindUnknownFactorKey:
		status = http.StatusUnprocessableEntity
	case domain.ErrKindOverlayConflict, domain.ErrKindDeployment:
		status = http.StatusConflict
	case domain.ErrKindOverloaded:
		status = http.StatusTooManyRequests
	case domain.ErrKindTimeout:
		status = http.StatusGatewayTimeout
	case domain.ErrKindRiskAdapter:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"error": re.Error(),
		"kind":  re.Kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
