package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/internal/repositories/part"
	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

// EngineConfig bounds the batch upsert engine.
type EngineConfig struct {
	UpsertBatchSize int // rows per transaction (default: 500)
	LookupChunkSize int // keys per IN() existence query (default: 100)
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UpsertBatchSize: 500,
		LookupChunkSize: 100,
	}
}

// Engine turns a page of raw supplier records into inserts and updates.
// Each sub-batch runs in its own transaction so one bad sub-batch cannot
// poison the rest of the page.
type Engine struct {
	db       database.DB
	vehicles VehicleStore
	parts    PartStore
	resolver *Resolver
	logger   ectologger.Logger
	cfg      EngineConfig
}

// NewEngine creates a new batch upsert engine.
func NewEngine(
	db database.DB,
	vehicles VehicleStore,
	parts PartStore,
	resolver *Resolver,
	logger ectologger.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = DefaultEngineConfig().UpsertBatchSize
	}
	if cfg.LookupChunkSize <= 0 {
		cfg.LookupChunkSize = DefaultEngineConfig().LookupChunkSize
	}
	return &Engine{
		db:       db,
		vehicles: vehicles,
		parts:    parts,
		resolver: resolver,
		logger:   logger,
		cfg:      cfg,
	}
}

// UpsertVehicles processes one page of raw vehicle records. Per-record
// failures land in the progress error list; only infrastructure failures
// return an error.
func (e *Engine) UpsertVehicles(ctx context.Context, raws []json.RawMessage, companyID int) models.ImportProgress {
	ctx, span := tracing.StartSpan(ctx, "importer.Engine.UpsertVehicles")
	defer span.End()

	progress := models.ImportProgress{}

	vehicles := make([]models.Vehicle, 0, len(raws))
	for _, raw := range raws {
		record, err := DecodeRecord(raw)
		if err != nil {
			progress.Errors = append(progress.Errors, err.Error())
			continue
		}
		vehicles = append(vehicles, NormalizeVehicle(record, companyID))
	}

	existing := make(map[int]struct{})
	for _, chunk := range chunkVehicles(vehicles, e.cfg.LookupChunkSize) {
		idLocals := make([]int, len(chunk))
		for i := range chunk {
			idLocals[i] = chunk[i].IDLocal
		}
		found, err := e.vehicles.ListByIDLocals(ctx, idLocals)
		if err != nil {
			progress.Errors = append(progress.Errors, fmt.Sprintf("vehicle lookup failed: %v", err))
			continue
		}
		for i := range found {
			existing[found[i].IDLocal] = struct{}{}
		}
	}

	var toInsert, toUpdate []models.Vehicle
	for i := range vehicles {
		if _, ok := existing[vehicles[i].IDLocal]; ok {
			toUpdate = append(toUpdate, vehicles[i])
		} else {
			toInsert = append(toInsert, vehicles[i])
		}
	}

	for _, batch := range chunkVehicles(toInsert, e.cfg.UpsertBatchSize) {
		batch := batch
		err := database.WithTransaction(ctx, e.db, func(ctx context.Context, _ database.Tx) error {
			_, err := e.vehicles.InsertBatch(ctx, batch)
			return err
		})
		if err != nil {
			progress.Errors = append(progress.Errors, fmt.Sprintf("vehicle insert batch failed: %v", err))
			continue
		}
		progress.NewItems += len(batch)
		progress.ProcessedItems += len(batch)
	}

	for _, batch := range chunkVehicles(toUpdate, e.cfg.UpsertBatchSize) {
		batch := batch
		err := database.WithTransaction(ctx, e.db, func(ctx context.Context, _ database.Tx) error {
			for i := range batch {
				if err := e.vehicles.Update(ctx, &batch[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			progress.Errors = append(progress.Errors, fmt.Sprintf("vehicle update batch failed: %v", err))
			continue
		}
		progress.UpdatedItems += len(batch)
		progress.ProcessedItems += len(batch)
	}

	for i := range vehicles {
		if vehicles[i].IDLocal > progress.LastID {
			progress.LastID = vehicles[i].IDLocal
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"records":  len(raws),
		"inserted": progress.NewItems,
		"updated":  progress.UpdatedItems,
		"errors":   len(progress.Errors),
	}).Info("Upserted vehicle page")

	return progress
}

// UpsertParts processes one page of raw part records, then resolves vehicle
// relations for every touched part. Resolution runs after the sub-batch
// commit so a broken relation never rolls back stored parts.
func (e *Engine) UpsertParts(ctx context.Context, raws []json.RawMessage, companyID int) models.ImportProgress {
	ctx, span := tracing.StartSpan(ctx, "importer.Engine.UpsertParts")
	defer span.End()

	progress := models.ImportProgress{}

	records := make([]PartRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := DecodeRecord(raw)
		if err != nil {
			progress.Errors = append(progress.Errors, err.Error())
			continue
		}
		records = append(records, NormalizePart(record, companyID))
	}

	existing := make(map[part.NaturalKey]struct{})
	for _, chunk := range chunkParts(records, e.cfg.LookupChunkSize) {
		keys := make([]part.NaturalKey, len(chunk))
		for i := range chunk {
			keys[i] = part.NaturalKey{RefLocal: chunk[i].Part.RefLocal, IDEmpresa: chunk[i].Part.IDEmpresa}
		}
		found, err := e.parts.ListByNaturalKeys(ctx, keys)
		if err != nil {
			progress.Errors = append(progress.Errors, fmt.Sprintf("part lookup failed: %v", err))
			continue
		}
		for i := range found {
			existing[part.NaturalKey{RefLocal: found[i].RefLocal, IDEmpresa: found[i].IDEmpresa}] = struct{}{}
		}
	}

	var toInsert, toUpdate []PartRecord
	for i := range records {
		key := part.NaturalKey{RefLocal: records[i].Part.RefLocal, IDEmpresa: records[i].Part.IDEmpresa}
		if _, ok := existing[key]; ok {
			toUpdate = append(toUpdate, records[i])
		} else {
			toInsert = append(toInsert, records[i])
		}
	}

	for _, batch := range chunkParts(toInsert, e.cfg.UpsertBatchSize) {
		batch := batch
		var inserted []models.Part
		err := database.WithTransaction(ctx, e.db, func(ctx context.Context, _ database.Tx) error {
			rows := make([]models.Part, len(batch))
			for i := range batch {
				rows[i] = batch[i].Part
			}
			var err error
			inserted, err = e.parts.InsertBatch(ctx, rows)
			return err
		})
		if err != nil {
			progress.Errors = append(progress.Errors, fmt.Sprintf("part insert batch failed: %v", err))
			continue
		}
		progress.NewItems += len(batch)
		progress.ProcessedItems += len(batch)

		for i := range inserted {
			if err := e.resolver.Resolve(ctx, &inserted[i], batch[i].IDVehiculoOriginal); err != nil {
				progress.Errors = append(progress.Errors, fmt.Sprintf("part %d relation failed: %v", inserted[i].ID, err))
			}
		}
	}

	for _, batch := range chunkParts(toUpdate, e.cfg.UpsertBatchSize) {
		batch := batch
		err := database.WithTransaction(ctx, e.db, func(ctx context.Context, _ database.Tx) error {
			for i := range batch {
				if err := e.parts.Update(ctx, &batch[i].Part); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			progress.Errors = append(progress.Errors, fmt.Sprintf("part update batch failed: %v", err))
			continue
		}
		progress.UpdatedItems += len(batch)
		progress.ProcessedItems += len(batch)

		for i := range batch {
			key := part.NaturalKey{RefLocal: batch[i].Part.RefLocal, IDEmpresa: batch[i].Part.IDEmpresa}
			stored, err := e.parts.GetByNaturalKey(ctx, key)
			if err != nil || stored == nil {
				progress.Errors = append(progress.Errors, fmt.Sprintf("part (%d, %d) reload failed: %v", key.RefLocal, key.IDEmpresa, err))
				continue
			}
			if err := e.resolver.Resolve(ctx, stored, batch[i].IDVehiculoOriginal); err != nil {
				progress.Errors = append(progress.Errors, fmt.Sprintf("part %d relation failed: %v", stored.ID, err))
			}
		}
	}

	for i := range records {
		if records[i].Part.RefLocal > progress.LastID {
			progress.LastID = records[i].Part.RefLocal
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"records":  len(raws),
		"inserted": progress.NewItems,
		"updated":  progress.UpdatedItems,
		"errors":   len(progress.Errors),
	}).Info("Upserted part page")

	return progress
}

func chunkVehicles(items []models.Vehicle, size int) [][]models.Vehicle {
	var chunks [][]models.Vehicle
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func chunkParts(items []PartRecord, size int) [][]PartRecord {
	var chunks [][]PartRecord
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
