package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/overlay"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/resolver"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/version"
)

// Factor slot indices. Slots pin the declared factor order so concurrent
// resolution never reorders the output.
const (
	slotTerritory = iota
	slotVehicle
	slotDriver
	slotCoverage
	slotRisk
	slotCount
)

// Engine orchestrates a premium calculation: active-version lookup, parallel
// factor resolution, jurisdiction overlays, and deterministic composition.
type Engine struct {
	versions  *version.Manager
	territory *resolver.Territory
	vehicle   *resolver.Vehicle
	driver    *resolver.HouseholdDriver
	coverage  *resolver.Coverage
	risk      *risk.Policy
	overlays  *overlay.Registry

	store domain.Store
	bus   domain.EventBus
	cfg   domain.EngineConfig

	// Bulk admission: sem caps in-flight calculations, admission bounds
	// the total of in-flight plus queued. A full admission channel means
	// Overloaded, immediately.
	sem       *semaphore.Weighted
	admission chan struct{}

	optional map[string]bool
	tracer   trace.Tracer
}

// Deps carries the engine's collaborators. Store and Bus may be nil; the
// engine then skips persistence and event publication.
type Deps struct {
	Versions  *version.Manager
	Territory *resolver.Territory
	Vehicle   *resolver.Vehicle
	Driver    *resolver.HouseholdDriver
	Coverage  *resolver.Coverage
	Risk      *risk.Policy
	Overlays  *overlay.Registry
	Store     domain.Store
	Bus       domain.EventBus
}

// New constructs the engine from its collaborators and limits.
func New(deps Deps, cfg domain.EngineConfig) *Engine {
	if cfg.ResolverTimeout <= 0 {
		cfg.ResolverTimeout = 150 * time.Millisecond
	}
	if cfg.CalculationTimeout <= 0 {
		cfg.CalculationTimeout = 500 * time.Millisecond
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 50
	}
	if cfg.BulkQueueDepth < 0 {
		cfg.BulkQueueDepth = 0
	}

	optional := make(map[string]bool, len(cfg.OptionalResolvers))
	for _, s := range cfg.OptionalResolvers {
		optional[s] = true
	}

	return &Engine{
		versions:  deps.Versions,
		territory: deps.Territory,
		vehicle:   deps.Vehicle,
		driver:    deps.Driver,
		coverage:  deps.Coverage,
		risk:      deps.Risk,
		overlays:  deps.Overlays,
		store:     deps.Store,
		bus:       deps.Bus,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.BulkConcurrency)),
		admission: make(chan struct{}, cfg.BulkConcurrency+cfg.BulkQueueDepth),
		optional:  optional,
		tracer:    otel.Tracer("kestrel/engine"),
	}
}

// Calculate rates a single request against the active rate table version.
// Resolvers run concurrently under per-call timeouts; the whole calculation
// is bounded by the parent deadline.
func (e *Engine) Calculate(ctx context.Context, req *domain.RatingRequest) (*domain.PremiumCalculation, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CalculationTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "engine.calculate", trace.WithAttributes(
		attribute.String("jurisdiction", req.Jurisdiction),
		attribute.String("product", req.ProductType),
	))
	defer span.End()

	ver, err := e.versions.ActiveVersion(ctx, req.Jurisdiction, req.ProductType)
	if err != nil {
		return nil, e.finish(ctx, err)
	}
	if !ver.CoversDate(req.EffectiveDate) {
		return nil, domain.NewNoActiveRateTable(req.Jurisdiction, req.ProductType)
	}
	span.SetAttributes(attribute.String("rate_table_version", ver.ID))

	slots := make([]*domain.RatingFactor, slotCount)
	var degraded bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, rerr := e.resolveTerritory(gctx, ver, req)
		return e.fill(slots, slotTerritory, domain.SourceTerritory, f, rerr)
	})
	g.Go(func() error {
		f, rerr := e.resolveVehicle(gctx, ver, req)
		return e.fill(slots, slotVehicle, domain.SourceVehicle, f, rerr)
	})
	g.Go(func() error {
		f, rerr := e.resolveDriver(gctx, ver, req, domain.AggregateMaxRisk)
		return e.fill(slots, slotDriver, domain.SourceDriver, f, rerr)
	})
	g.Go(func() error {
		f, rerr := e.resolveCoverage(gctx, ver, req)
		return e.fill(slots, slotCoverage, domain.SourceCoverage, f, rerr)
	})
	g.Go(func() error {
		f, deg, rerr := e.resolveRisk(gctx, req)
		degraded = deg
		return e.fill(slots, slotRisk, domain.SourceRisk, f, rerr)
	})
	if err := g.Wait(); err != nil {
		return nil, e.finish(ctx, err)
	}

	factors := make([]domain.RatingFactor, 0, slotCount+2)
	for _, f := range slots {
		if f != nil {
			factors = append(factors, *f)
		}
	}

	outcome, err := e.overlays.Apply(ctx, req, factors)
	if err != nil {
		return nil, e.finish(ctx, err)
	}

	// An overlay may replace the driver aggregation strategy, in which
	// case the household factor is re-resolved under the new strategy.
	if outcome.Aggregation != "" && outcome.Aggregation != domain.AggregateMaxRisk && slots[slotDriver] != nil {
		f, rerr := e.resolveDriver(ctx, ver, req, outcome.Aggregation)
		if rerr != nil {
			return nil, e.finish(ctx, e.translate(domain.SourceDriver, rerr))
		}
		for i := range factors {
			if factors[i].Source == domain.SourceDriver {
				factors[i] = *f
			}
		}
	}

	factors = append(factors, outcome.Factors...)
	factors = Arrange(factors)

	total := Apply(ver.Tables.BasePremium, factors)
	if outcome.Cap != nil && total.GreaterThan(*outcome.Cap) {
		// The cap is recorded as an explicit credit so the stored
		// factor list still replays to the final total.
		capCredit := domain.RatingFactor{
			Name:        "jurisdiction.premium-cap",
			Value:       total.Sub(*outcome.Cap),
			Kind:        domain.FactorCredit,
			Source:      domain.SourceOverlay,
			Explanation: "premium capped at " + outcome.Cap.StringFixed(2),
		}
		factors = append(factors, capCredit)
		total = *outcome.Cap
	}
	total = total.Round(2)

	calc := &domain.PremiumCalculation{
		ID:                 uuid.New().String(),
		Jurisdiction:       req.Jurisdiction,
		ProductType:        req.ProductType,
		BasePremium:        ver.Tables.BasePremium,
		Factors:            factors,
		TotalPremium:       total,
		MonthlyPremium:     domain.MonthlyFrom(total),
		RateTableVersionID: ver.ID,
		Degraded:           degraded,
		CalculatedAt:       time.Now().UTC(),
		DurationMs:         time.Since(start).Milliseconds(),
	}

	if err := ctx.Err(); err != nil {
		return nil, e.finish(ctx, err)
	}

	e.persist(calc)
	e.publish(calc)

	return calc, nil
}

// Replay recomputes a stored calculation and verifies its totals.
func (e *Engine) Replay(ctx context.Context, calculationID string) (*domain.PremiumCalculation, error) {
	if e.store == nil {
		return nil, repository.ErrNotFound
	}
	calc, err := e.store.GetCalculation(ctx, calculationID)
	if err != nil {
		return nil, err
	}
	if err := Replay(calc); err != nil {
		return nil, err
	}
	return calc, nil
}

func (e *Engine) resolveTerritory(ctx context.Context, ver *domain.RateTableVersion, req *domain.RatingRequest) (*domain.RatingFactor, error) {
	return e.withBudget(ctx, func(rctx context.Context) (*domain.RatingFactor, error) {
		return e.territory.Resolve(rctx, ver, resolver.TerritoryKey{Jurisdiction: req.Jurisdiction, Territory: req.Territory})
	})
}

func (e *Engine) resolveVehicle(ctx context.Context, ver *domain.RateTableVersion, req *domain.RatingRequest) (*domain.RatingFactor, error) {
	key := resolver.VehicleKey{
		VIN:           req.Vehicle.VIN,
		Type:          req.Vehicle.Type,
		ModelYear:     req.Vehicle.ModelYear,
		SafetyRating:  req.Vehicle.SafetyRating,
		AntiTheft:     req.Vehicle.AntiTheft,
		EffectiveYear: req.EffectiveDate.Year(),
	}
	return e.withBudget(ctx, func(rctx context.Context) (*domain.RatingFactor, error) {
		return e.vehicle.Resolve(rctx, ver, key)
	})
}

func (e *Engine) resolveDriver(ctx context.Context, ver *domain.RateTableVersion, req *domain.RatingRequest, strategy domain.AggregationStrategy) (*domain.RatingFactor, error) {
	return e.withBudget(ctx, func(rctx context.Context) (*domain.RatingFactor, error) {
		return e.driver.Resolve(rctx, ver, resolver.DriverKey{Drivers: req.Drivers, Strategy: strategy})
	})
}

func (e *Engine) resolveCoverage(ctx context.Context, ver *domain.RateTableVersion, req *domain.RatingRequest) (*domain.RatingFactor, error) {
	return e.withBudget(ctx, func(rctx context.Context) (*domain.RatingFactor, error) {
		return e.coverage.Resolve(rctx, ver, resolver.CoverageKey{Selections: req.Coverages})
	})
}

func (e *Engine) resolveRisk(ctx context.Context, req *domain.RatingRequest) (*domain.RatingFactor, bool, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResolverTimeout)
	defer cancel()

	score, degraded, err := e.risk.Score(rctx, req)
	if err != nil {
		return nil, false, err
	}

	explanation := "risk adjustment (" + score.ModelVersion + ")"
	if len(score.Explanations) > 0 {
		explanation = strings.Join(score.Explanations, "; ")
	}
	return &domain.RatingFactor{
		Name:        "risk.adjustment",
		Value:       score.AdjustmentFactor,
		Kind:        domain.FactorMultiplicative,
		Source:      domain.SourceRisk,
		Explanation: explanation,
	}, degraded, nil
}

// withBudget runs a resolver call under the per-resolver timeout. A timed-out
// call is retried once on the remaining parent budget; resolvers are
// idempotent lookups so the retry is safe.
func (e *Engine) withBudget(ctx context.Context, fn func(context.Context) (*domain.RatingFactor, error)) (*domain.RatingFactor, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResolverTimeout)
	f, err := fn(rctx)
	cancel()
	if err == nil {
		return f, nil
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		rctx, cancel = context.WithTimeout(ctx, e.cfg.ResolverTimeout/2)
		defer cancel()
		if f, err = fn(rctx); err == nil {
			return f, nil
		}
	}
	return nil, err
}

// fill stores a resolved factor in its slot, translating failures. Optional
// sources log and omit their factor instead of failing the calculation.
func (e *Engine) fill(slots []*domain.RatingFactor, slot int, source string, f *domain.RatingFactor, err error) error {
	if err == nil {
		slots[slot] = f
		return nil
	}
	if e.optional[source] {
		slog.Warn("optional resolver failed, factor omitted",
			"source", source,
			"error", err)
		return nil
	}
	return e.translate(source, err)
}

// translate maps a resolver failure onto the engine's error taxonomy.
func (e *Engine) translate(source string, err error) error {
	var rerr *domain.RatingError
	if errors.As(err, &rerr) {
		return err
	}
	return domain.NewFactorResolutionError(source, err)
}

// finish converts a parent-deadline expiry into the calculation timeout
// error; all other failures pass through.
func (e *Engine) finish(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewCalculationTimeout(e.cfg.CalculationTimeout)
	}
	var rerr *domain.RatingError
	if errors.As(err, &rerr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCalculationTimeout(e.cfg.CalculationTimeout)
	}
	return err
}

func (e *Engine) persist(calc *domain.PremiumCalculation) {
	if e.store == nil {
		return
	}
	// Persistence is off the request's deadline: a rated premium is not
	// discarded because the audit write was slow.
	pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.SaveCalculation(pctx, calc); err != nil {
		slog.Error("failed to persist calculation",
			"calculation_id", calc.ID,
			"error", err)
	}
}

func (e *Engine) publish(calc *domain.PremiumCalculation) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(calc)
	if err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.bus.Publish(pctx, domain.TopicCalculationCompleted, payload); err != nil {
		slog.Warn("failed to publish calculation event",
			"calculation_id", calc.ID,
			"error", err)
	}
}
