// Package events emits import lifecycle and part activation events. Event
// failures are logged and swallowed: a dead broker must never fail an import.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/kafka"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

// Event types published to the catalog topic.
const (
	EventImportStarted    = "import.started"
	EventImportPage       = "import.page"
	EventImportCompleted  = "import.completed"
	EventPartActivated    = "part.activated"
	EventRelationPromoted = "relation.promoted"
)

// Emitter publishes catalog events. A nil producer disables emission, so
// callers never need to branch on whether Kafka is configured.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitImportStarted announces a new import run.
func (e *Emitter) EmitImportStarted(ctx context.Context, run *models.ImportHistory) {
	e.emit(ctx, EventImportStarted, runKey(run.ID), map[string]any{
		"import_id":      run.ID,
		"type":           run.Type,
		"is_full_import": run.IsFullImport,
		"start_time":     run.StartTime,
	})
}

// EmitImportPage reports per-page progress.
func (e *Emitter) EmitImportPage(ctx context.Context, runID int, progress models.ImportProgress) {
	e.emit(ctx, EventImportPage, runKey(runID), map[string]any{
		"import_id":       runID,
		"processed_items": progress.ProcessedItems,
		"new_items":       progress.NewItems,
		"updated_items":   progress.UpdatedItems,
		"error_count":     len(progress.Errors),
		"last_id":         progress.LastID,
	})
}

// EmitImportCompleted announces a terminal run state.
func (e *Emitter) EmitImportCompleted(ctx context.Context, run *models.ImportHistory) {
	e.emit(ctx, EventImportCompleted, runKey(run.ID), map[string]any{
		"import_id":         run.ID,
		"type":              run.Type,
		"status":            run.Status,
		"processed_items":   run.ProcessedItems,
		"new_items":         run.NewItems,
		"updated_items":     run.UpdatedItems,
		"error_count":       run.ErrorCount,
		"items_deactivated": run.ItemsDeactivated,
	})
}

// EmitPartActivated announces a part becoming sellable.
func (e *Emitter) EmitPartActivated(ctx context.Context, part *models.Part) {
	e.emit(ctx, EventPartActivated, fmt.Sprintf("part-%d", part.ID), map[string]any{
		"part_id":    part.ID,
		"ref_local":  part.RefLocal,
		"id_empresa": part.IDEmpresa,
		"precio":     part.Precio,
	})
}

// EmitRelationsPromoted announces a reconciliation pass linking pending
// relations to freshly imported vehicles. Promotions come in bursts, so the
// whole pass goes out as one producer batch.
func (e *Emitter) EmitRelationsPromoted(ctx context.Context, relations []models.VehiclePart) {
	if e.producer == nil || len(relations) == 0 {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRelationsPromoted")
	defer span.End()

	batch := make([]*kafka.CatalogEvent, 0, len(relations))
	for i := range relations {
		rel := &relations[i]
		payload, err := json.Marshal(map[string]any{
			"relation_id":          rel.ID,
			"part_id":              rel.PartID,
			"vehicle_id":           rel.VehicleID,
			"id_vehiculo_original": rel.IDVehiculoOriginal,
		})
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"relation_id": rel.ID}).Error("Failed to marshal promotion event")
			continue
		}
		batch = append(batch, &kafka.CatalogEvent{
			EventType: EventRelationPromoted,
			Key:       fmt.Sprintf("part-%d", rel.PartID),
			Data:      payload,
		})
	}

	if err := e.producer.PublishBatch(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_size": len(batch)}).Error("Failed to publish promotion events")
	}
}

func (e *Emitter) emit(ctx context.Context, eventType, key string, data map[string]any) {
	if e.producer == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	payload, err := json.Marshal(data)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_type": eventType}).Error("Failed to marshal event payload")
		return
	}

	event := &kafka.CatalogEvent{
		EventType: eventType,
		Key:       key,
		Data:      payload,
	}

	if err := e.producer.Publish(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_type": eventType, "key": key}).Error("Failed to publish event")
	}
}

func runKey(runID int) string {
	return fmt.Sprintf("import-%d", runID)
}
