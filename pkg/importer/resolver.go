package importer

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/matching"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

// Resolver links parts to vehicles. The direct path looks the supplier's
// vehicle reference up by natural key; when that misses, the heuristic
// matcher runs, and when everything misses the part gets a pending relation
// that the reconciler promotes later.
type Resolver struct {
	vehicles  VehicleStore
	parts     PartStore
	relations RelationStore
	matcher   *matching.Matcher
	activator *Activator
	logger    ectologger.Logger
}

// NewResolver creates a new relationship resolver.
func NewResolver(
	vehicles VehicleStore,
	parts PartStore,
	relations RelationStore,
	matcher *matching.Matcher,
	activator *Activator,
	logger ectologger.Logger,
) *Resolver {
	return &Resolver{
		vehicles:  vehicles,
		parts:     parts,
		relations: relations,
		matcher:   matcher,
		activator: activator,
		logger:    logger,
	}
}

// Resolve establishes the vehicle relations for one part and re-evaluates
// its activation. idVehiculoOriginal is the supplier's signed vehicle
// reference; its absolute value is the vehicle's id_local.
func (r *Resolver) Resolve(ctx context.Context, p *models.Part, idVehiculoOriginal int) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Resolver.Resolve")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"part_id":              p.ID,
		"id_vehiculo_original": idVehiculoOriginal,
	})

	if idVehiculoOriginal != 0 && idVehiculoOriginal != -1 {
		v, err := r.vehicles.GetByIDLocal(ctx, abs(idVehiculoOriginal))
		if err != nil {
			return err
		}
		if v != nil {
			return r.link(ctx, p, []models.Vehicle{*v}, idVehiculoOriginal)
		}
	}

	matches, err := r.matcher.FindCompatibleVehicles(ctx, p)
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		return r.link(ctx, p, matches, idVehiculoOriginal)
	}

	log.Debug("No vehicle found, keeping relation pending")

	if _, err := r.relations.CreatePending(ctx, p.ID, idVehiculoOriginal); err != nil {
		return err
	}
	if err := r.parts.MarkPendingRelation(ctx, p.ID); err != nil {
		return err
	}

	_, err = r.activator.Evaluate(ctx, p)
	return err
}

// link creates resolved relations to every matched vehicle, copies the first
// vehicle's descriptors onto the part, refreshes the relation count and
// re-evaluates activation.
func (r *Resolver) link(ctx context.Context, p *models.Part, vehicles []models.Vehicle, idVehiculoOriginal int) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Resolver.link")
	defer span.End()

	for i := range vehicles {
		if _, err := r.relations.CreateResolved(ctx, vehicles[i].ID, p.ID, idVehiculoOriginal); err != nil {
			return err
		}
	}

	if err := r.parts.SetVehicleDescriptors(ctx, p.ID, &vehicles[0]); err != nil {
		return err
	}

	count, err := r.parts.RecomputeRelatedCount(ctx, p.ID)
	if err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"part_id":          p.ID,
		"related_vehicles": count,
	}).Debug("Linked part to vehicles")

	_, err = r.activator.Evaluate(ctx, p)
	return err
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
