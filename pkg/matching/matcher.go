// Package matching implements the heuristic vehicle lookup used when a part
// arrives without a direct vehicle reference. The direct natural-key path
// never goes through here; this package only handles the fallback.
package matching

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/normalizers"
	"github.com/recambia/recambia/pkg/tracing"
)

// VehicleFinder is the slice of the vehicle repository the matcher needs.
type VehicleFinder interface {
	ListByVersionCode(ctx context.Context, code string) ([]models.Vehicle, error)
	ListByVersionPrefix(ctx context.Context, prefix string, limit int) ([]models.Vehicle, error)
}

// Config bounds the heuristic search.
type Config struct {
	MaxCandidates int // cap on vehicles fetched per prefix lookup (default: 500)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxCandidates: 500,
	}
}

// Matcher finds compatible vehicles for a part using its version codes and
// compatibility metadata.
type Matcher struct {
	log      ectologger.Logger
	vehicles VehicleFinder
	cfg      Config
}

// NewMatcher creates a new heuristic matcher.
func NewMatcher(log ectologger.Logger, vehicles VehicleFinder, cfg Config) *Matcher {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	return &Matcher{
		log:      log,
		vehicles: vehicles,
		cfg:      cfg,
	}
}

// FindCompatibleVehicles returns every vehicle the part plausibly fits.
// Strategy: exact rv_code match wins outright; otherwise candidates sharing
// the cod_version prefix are filtered conjunctively on door count and year
// range. An empty result means the part stays pending.
func (m *Matcher) FindCompatibleVehicles(ctx context.Context, part *models.Part) ([]models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.FindCompatibleVehicles")
	defer span.End()

	log := m.log.WithContext(ctx).WithFields(map[string]any{
		"ref_local":  part.RefLocal,
		"id_empresa": part.IDEmpresa,
	})

	rvCode := normalizers.Apply(part.RvCode, "nversion")
	if rvCode != "" {
		exact, err := m.vehicles.ListByVersionCode(ctx, rvCode)
		if err != nil {
			return nil, err
		}
		if len(exact) > 0 {
			log.WithFields(map[string]any{"match_count": len(exact), "rv_code": rvCode}).Debug("Exact version code match")
			return exact, nil
		}
	}

	prefix := versionPrefix(part.CodVersionVehiculo)
	if prefix == "" {
		return nil, nil
	}

	candidates, err := m.vehicles.ListByVersionPrefix(ctx, prefix, m.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	matches := make([]models.Vehicle, 0, len(candidates))
	for _, vehicle := range candidates {
		if m.compatible(part, &vehicle) {
			matches = append(matches, vehicle)
		}
	}

	log.WithFields(map[string]any{
		"candidate_count": len(candidates),
		"match_count":     len(matches),
		"prefix":          prefix,
	}).Debug("Heuristic vehicle match")

	return matches, nil
}

// compatible applies the conjunctive filter: every present constraint must
// hold. Absent constraints (zero door count, zero vehicle year) pass.
func (m *Matcher) compatible(part *models.Part, vehicle *models.Vehicle) bool {
	code := normalizers.Apply(vehicle.Version, "nversion")
	if !strings.HasPrefix(code, versionPrefix(part.CodVersionVehiculo)) {
		return false
	}

	if part.Puertas != 0 && vehicle.Puertas != nil && *vehicle.Puertas != part.Puertas {
		return false
	}

	if vehicle.Anyo != 0 && part.AnyoInicio != 0 && part.AnyoFin != 0 {
		if vehicle.Anyo < part.AnyoInicio || vehicle.Anyo > part.AnyoFin {
			return false
		}
	}

	return true
}

// versionPrefix normalizes a cod_version and keeps the leading family
// segment. Supplier version codes encode the family in the first four
// characters; shorter codes are used whole. Codes can carry accented
// letters, so the cut counts runes, not bytes.
func versionPrefix(codVersion string) string {
	code := []rune(normalizers.Apply(codVersion, "nversion"))
	if len(code) > 4 {
		code = code[:4]
	}
	return string(code)
}
