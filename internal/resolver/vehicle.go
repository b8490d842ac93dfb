package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// VehicleKey identifies a vehicle for rating. Identity is the
// checksum-validated VIN; the remaining attributes drive the table lookups.
// EffectiveYear is the year of the request's effective date, so vehicle age
// never depends on the wall clock.
type VehicleKey struct {
	VIN           string
	Type          string
	ModelYear     int
	SafetyRating  string
	AntiTheft     bool
	EffectiveYear int
}

// CacheKey returns the stable string form used for cache scoping.
func (k VehicleKey) CacheKey() string {
	return fmt.Sprintf("%s:%s:%d:%s:%t:%d", k.VIN, k.Type, k.ModelYear, k.SafetyRating, k.AntiTheft, k.EffectiveYear)
}

// Age is the vehicle age at the effective date, never negative.
func (k VehicleKey) Age() int {
	age := k.EffectiveYear - k.ModelYear
	if age < 0 {
		return 0
	}
	return age
}

// Vehicle resolves the vehicle rating factor from type, age and
// safety/theft multipliers.
type Vehicle struct {
	cached
}

// NewVehicle creates a vehicle resolver. cache may be nil.
func NewVehicle(cache domain.Cache, ttl time.Duration) *Vehicle {
	return &Vehicle{cached{cache: cache, ttl: ttl}}
}

// Resolve validates the VIN checksum and composes the vehicle multipliers.
func (r *Vehicle) Resolve(ctx context.Context, ver *domain.RateTableVersion, key VehicleKey) (*domain.RatingFactor, error) {
	if err := ValidateVIN(key.VIN); err != nil {
		return nil, &domain.RatingError{
			Kind:    domain.ErrKindFactorResolution,
			Source:  domain.SourceVehicle,
			Key:     key.VIN,
			Message: "vehicle identity checksum invalid",
			Err:     err,
		}
	}

	if f := r.get(ctx, domain.SourceVehicle, key.CacheKey(), ver.ID); f != nil {
		return f, nil
	}

	tables := ver.Tables.Vehicle

	typeFactor, ok := tables.Type[key.Type]
	if !ok {
		return nil, domain.NewUnknownFactorKey(domain.SourceVehicle, "type:"+key.Type)
	}

	age := key.Age()
	ageFactor, ok := lookupAgeBand(tables.AgeBands, age)
	if !ok {
		return nil, domain.NewUnknownFactorKey(domain.SourceVehicle, fmt.Sprintf("age:%d", age))
	}

	safetyFactor, ok := tables.Safety[key.SafetyRating]
	if !ok {
		return nil, domain.NewUnknownFactorKey(domain.SourceVehicle, "safety:"+key.SafetyRating)
	}

	value := typeFactor.Mul(ageFactor).Mul(safetyFactor)
	explanation := fmt.Sprintf("vehicle %s: type %s, age %d → %s, safety %s → %s",
		key.Type, typeFactor, age, ageFactor, key.SafetyRating, safetyFactor)

	if key.AntiTheft && tables.AntiTheftFactor.IsPositive() {
		value = value.Mul(tables.AntiTheftFactor)
		explanation += fmt.Sprintf(", anti-theft %s", tables.AntiTheftFactor)
	}

	f := &domain.RatingFactor{
		Name:        "vehicle." + key.Type,
		Value:       value,
		Kind:        domain.FactorMultiplicative,
		Source:      domain.SourceVehicle,
		Explanation: explanation,
	}

	r.put(ctx, domain.SourceVehicle, key.CacheKey(), ver.ID, f)
	return f, nil
}

// BulkResolve resolves a batch of vehicle keys, keyed by CacheKey.
func (r *Vehicle) BulkResolve(ctx context.Context, ver *domain.RateTableVersion, keys []VehicleKey) (map[string]*domain.RatingFactor, error) {
	out := make(map[string]*domain.RatingFactor, len(keys))
	for _, k := range keys {
		f, err := r.Resolve(ctx, ver, k)
		if err != nil {
			return nil, err
		}
		out[k.CacheKey()] = f
	}
	return out, nil
}

func lookupAgeBand(bands []domain.AgeBand, age int) (decimal.Decimal, bool) {
	for _, b := range bands {
		if b.Contains(age) {
			return b.Factor, true
		}
	}
	return decimal.Zero, false
}

// vinWeights are the ISO 3779 position weights; position 9 is the check digit.
var vinWeights = [17]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// ValidateVIN verifies the ISO 3779 check digit of a 17-character VIN.
func ValidateVIN(vin string) error {
	if len(vin) != 17 {
		return fmt.Errorf("vin must be 17 characters, got %d", len(vin))
	}

	sum := 0
	for i := 0; i < 17; i++ {
		v, err := vinCharValue(vin[i])
		if err != nil {
			return fmt.Errorf("position %d: %w", i+1, err)
		}
		sum += v * vinWeights[i]
	}

	check := byte('0' + sum%11)
	if sum%11 == 10 {
		check = 'X'
	}
	if vin[8] != check {
		return fmt.Errorf("check digit mismatch: have %c, want %c", vin[8], check)
	}
	return nil
}

func vinCharValue(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'H':
		return int(c-'A') + 1, nil
	case c >= 'J' && c <= 'N':
		return int(c-'J') + 1, nil
	case c == 'P':
		return 7, nil
	case c == 'R':
		return 9, nil
	case c >= 'S' && c <= 'Z':
		return int(c-'S') + 2, nil
	default:
		return 0, fmt.Errorf("invalid vin character %q", c)
	}
}
