package overlay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry holds compiled overlays per jurisdiction. Conflicting overlays
// (two overlays adding the same factor name for one jurisdiction) are a
// configuration error detected at registration, not at runtime.
type Registry struct {
	mu             sync.RWMutex
	env            *cel.Env
	byJurisdiction map[string][]*compiledOverlay
}

type compiledOverlay struct {
	overlay *Overlay
	program cel.Program // nil when When is empty
}

// NewRegistry creates an overlay registry with the rating CEL environment.
func NewRegistry() (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("jurisdiction", cel.StringType),
		cel.Variable("product", cel.StringType),
		cel.Variable("territory", cel.StringType),
		cel.Variable("vehicle", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("drivers", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("coverages", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("factors", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Registry{
		env:            env,
		byJurisdiction: make(map[string][]*compiledOverlay),
	}, nil
}

// Register compiles and installs an overlay. Fails fast on malformed
// overlays and on factor-name conflicts within the jurisdiction.
func (r *Registry) Register(o *Overlay) error {
	if o.Name == "" || o.Jurisdiction == "" {
		return fmt.Errorf("overlay name and jurisdiction are required")
	}
	if n := o.effectCount(); n != 1 {
		return fmt.Errorf("overlay %s: exactly one effect required, got %d", o.Name, n)
	}
	if o.AddFactor != nil {
		switch o.AddFactor.Kind {
		case domain.FactorMultiplicative, domain.FactorAdditive, domain.FactorCredit, domain.FactorSurcharge:
		default:
			return fmt.Errorf("overlay %s: invalid factor kind %q", o.Name, o.AddFactor.Kind)
		}
	}

	var program cel.Program
	if o.When != "" {
		ast, issues := r.env.Compile(o.When)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("overlay %s: failed to compile predicate: %w", o.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("overlay %s: predicate must return bool, got %s", o.Name, ast.OutputType())
		}
		var err error
		program, err = r.env.Program(ast)
		if err != nil {
			return fmt.Errorf("overlay %s: failed to create program: %w", o.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Conflict check: no two overlays may set the same factor name.
	if o.AddFactor != nil {
		for _, existing := range r.byJurisdiction[o.Jurisdiction] {
			if existing.overlay.AddFactor != nil &&
				existing.overlay.AddFactor.Name == o.AddFactor.Name {
				return domain.NewOverlayConflict(o.Jurisdiction, o.AddFactor.Name)
			}
		}
	}

	overlays := append(r.byJurisdiction[o.Jurisdiction], &compiledOverlay{
		overlay: o,
		program: program,
	})
	sort.SliceStable(overlays, func(i, j int) bool {
		return overlays[i].overlay.Priority < overlays[j].overlay.Priority
	})
	r.byJurisdiction[o.Jurisdiction] = overlays

	return nil
}

// RegisterAll registers a batch of overlays, failing on the first error.
func (r *Registry) RegisterAll(overlays []*Overlay) error {
	for _, o := range overlays {
		if err := r.Register(o); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of overlays registered for a jurisdiction.
func (r *Registry) Count(jurisdiction string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byJurisdiction[jurisdiction])
}

// Apply runs the jurisdiction's overlays in priority order against the
// request and the resolved factor set. A firing Reject overlay stops the
// pipeline with a rule violation.
func (r *Registry) Apply(ctx context.Context, req *domain.RatingRequest, factors []domain.RatingFactor) (*Outcome, error) {
	r.mu.RLock()
	overlays := r.byJurisdiction[req.Jurisdiction]
	r.mu.RUnlock()

	outcome := &Outcome{}
	if len(overlays) == 0 {
		return outcome, nil
	}

	activation := buildActivation(req, factors)

	for _, c := range overlays {
		fired, err := c.fires(activation)
		if err != nil {
			return nil, fmt.Errorf("overlay %s: predicate evaluation: %w", c.overlay.Name, err)
		}
		if !fired {
			continue
		}

		o := c.overlay
		switch {
		case o.Reject != "":
			return nil, domain.NewRuleViolation(req.Jurisdiction, o.Reject)

		case o.AddFactor != nil:
			f := *o.AddFactor
			f.Source = domain.SourceOverlay
			outcome.Factors = append(outcome.Factors, f)

		case o.SetAggregation != "":
			outcome.Aggregation = o.SetAggregation

		case o.CapPremium != nil:
			if outcome.Cap == nil || o.CapPremium.LessThan(*outcome.Cap) {
				ceiling := *o.CapPremium
				outcome.Cap = &ceiling
			}
		}
	}

	return outcome, nil
}

// fires evaluates the overlay predicate; overlays without one always fire.
func (c *compiledOverlay) fires(activation map[string]any) (bool, error) {
	if c.program == nil {
		return true, nil
	}

	out, _, err := c.program.Eval(activation)
	if err != nil {
		return false, err
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("predicate returned non-bool %v", out)
	}
	return bool(b), nil
}

// buildActivation flattens the request and factor set into CEL variables.
func buildActivation(req *domain.RatingRequest, factors []domain.RatingFactor) map[string]any {
	drivers := make([]map[string]any, 0, len(req.Drivers))
	for _, d := range req.Drivers {
		drivers = append(drivers, map[string]any{
			"age":                d.Age,
			"years_licensed":     d.YearsLicensed,
			"violations":         d.Violations,
			"at_fault_accidents": d.AtFaultAccidents,
		})
	}

	coverages := make([]map[string]any, 0, len(req.Coverages))
	for _, s := range req.Coverages {
		deductible := int64(-1)
		if s.Deductible != nil {
			deductible = *s.Deductible
		}
		coverages = append(coverages, map[string]any{
			"type":       s.Type,
			"level":      s.Level,
			"deductible": deductible,
		})
	}

	factorValues := make(map[string]float64, len(factors))
	for _, f := range factors {
		factorValues[f.Name] = f.Value.InexactFloat64()
	}

	return map[string]any{
		"jurisdiction": req.Jurisdiction,
		"product":      req.ProductType,
		"territory":    req.Territory,
		"vehicle": map[string]any{
			"vin":        req.Vehicle.VIN,
			"type":       req.Vehicle.Type,
			"model_year": req.Vehicle.ModelYear,
			"safety":     req.Vehicle.SafetyRating,
			"anti_theft": req.Vehicle.AntiTheft,
		},
		"drivers":   drivers,
		"coverages": coverages,
		"factors":   factorValues,
	}
}
