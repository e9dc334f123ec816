package importer

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/events"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

const (
	// pendingBatchSize bounds one reconciliation pass.
	pendingBatchSize = 1000

	// repairBatchSize bounds one repair sweep pass.
	repairBatchSize = 500
)

// Reconciler promotes pending vehicle-part relations once the referenced
// vehicles have been imported, and repairs parts that lost their vehicle
// descriptor data. Both operations are idempotent.
type Reconciler struct {
	vehicles  VehicleStore
	parts     PartStore
	relations RelationStore
	activator *Activator
	emitter   *events.Emitter
	logger    ectologger.Logger
}

// NewReconciler creates a new pending-relation reconciler.
func NewReconciler(
	vehicles VehicleStore,
	parts PartStore,
	relations RelationStore,
	activator *Activator,
	emitter *events.Emitter,
	logger ectologger.Logger,
) *Reconciler {
	return &Reconciler{
		vehicles:  vehicles,
		parts:     parts,
		relations: relations,
		activator: activator,
		emitter:   emitter,
		logger:    logger,
	}
}

// ProcessPending promotes every pending relation whose vehicle now exists.
// Returns the number of relations promoted.
func (r *Reconciler) ProcessPending(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Reconciler.ProcessPending")
	defer span.End()

	pending, err := r.relations.ListPending(ctx, pendingBatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	// One vehicle lookup per distinct supplier id, not per relation.
	byOriginal := make(map[int][]models.VehiclePart)
	idLocals := make([]int, 0, len(pending))
	for _, rel := range pending {
		key := abs(rel.IDVehiculoOriginal)
		if key == 0 || rel.IDVehiculoOriginal == -1 {
			continue
		}
		if _, seen := byOriginal[key]; !seen {
			idLocals = append(idLocals, key)
		}
		byOriginal[key] = append(byOriginal[key], rel)
	}

	vehiclesByIDLocal := make(map[int]models.Vehicle)
	for _, chunk := range chunkInts(idLocals, 100) {
		found, err := r.vehicles.ListByIDLocals(ctx, chunk)
		if err != nil {
			return 0, err
		}
		for i := range found {
			vehiclesByIDLocal[found[i].IDLocal] = found[i]
		}
	}

	var promotedRelations []models.VehiclePart
	for idLocal, relations := range byOriginal {
		v, ok := vehiclesByIDLocal[idLocal]
		if !ok {
			continue
		}

		for _, rel := range relations {
			didPromote, err := r.relations.Promote(ctx, rel.ID, v.ID)
			if err != nil {
				r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"relation_id": rel.ID}).Error("Failed to promote relation")
				continue
			}
			if !didPromote {
				continue
			}
			vehicleID := v.ID
			rel.VehicleID = &vehicleID
			promotedRelations = append(promotedRelations, rel)

			if err := r.refreshPart(ctx, rel.PartID, &v); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": rel.PartID}).Error("Failed to refresh promoted part")
			}
		}
	}

	if len(promotedRelations) > 0 {
		r.emitter.EmitRelationsPromoted(ctx, promotedRelations)
		r.logger.WithContext(ctx).WithFields(map[string]any{"promoted": len(promotedRelations)}).Info("Promoted pending relations")
	}
	return len(promotedRelations), nil
}

// RepairPartVehicleData re-links active parts that carry a vehicle reference
// but no copied descriptors. Returns the number of parts repaired.
func (r *Reconciler) RepairPartVehicleData(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Reconciler.RepairPartVehicleData")
	defer span.End()

	parts, err := r.parts.ListMissingVehicleData(ctx, repairBatchSize)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range parts {
		p := &parts[i]

		v, err := r.vehicles.GetByIDLocal(ctx, abs(p.IDVehiculo))
		if err != nil {
			return repaired, err
		}
		if v == nil {
			continue
		}

		if _, err := r.relations.CreateResolved(ctx, v.ID, p.ID, p.IDVehiculo); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": p.ID}).Error("Failed to relink part")
			continue
		}
		if err := r.refreshPart(ctx, p.ID, v); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": p.ID}).Error("Failed to refresh repaired part")
			continue
		}
		repaired++
	}

	if repaired > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"repaired": repaired}).Info("Repaired parts missing vehicle data")
	}
	return repaired, nil
}

// refreshPart copies descriptors, refreshes the relation count and
// re-evaluates activation after a relation change.
func (r *Reconciler) refreshPart(ctx context.Context, partID int, v *models.Vehicle) error {
	if err := r.parts.SetVehicleDescriptors(ctx, partID, v); err != nil {
		return err
	}
	if _, err := r.parts.RecomputeRelatedCount(ctx, partID); err != nil {
		return err
	}

	p, err := r.parts.Get(ctx, partID)
	if err != nil {
		return err
	}
	_, err = r.activator.Evaluate(ctx, p)
	return err
}

func chunkInts(items []int, size int) [][]int {
	var chunks [][]int
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
