package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recambia/recambia/pkg/matching"
	"github.com/recambia/recambia/pkg/models"
)

func newTestEngine(cfg EngineConfig) (*fakeVehicleStore, *fakePartStore, *fakeRelationStore, *Engine) {
	logger := testLogger()
	vehicles := newFakeVehicleStore()
	relations := newFakeRelationStore()
	parts := newFakePartStore(relations)
	activator := NewActivator(parts, relations, testEmitter(), logger)
	matcher := matching.NewMatcher(logger, vehicles, matching.DefaultConfig())
	resolver := NewResolver(vehicles, parts, relations, matcher, activator, logger)
	return vehicles, parts, relations, NewEngine(&fakeDB{}, vehicles, parts, resolver, logger, cfg)
}

func rawRecords(records ...string) []json.RawMessage {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = json.RawMessage(r)
	}
	return raws
}

func TestUpsertVehiclesPartitionsInsertAndUpdate(t *testing.T) {
	ctx := context.Background()
	vehicles, _, _, engine := newTestEngine(EngineConfig{})

	vehicles.add(models.Vehicle{IDLocal: 1, Marca: "SEAT", Modelo: "Ibiza"})

	raws := rawRecords(
		`{"idLocal": 1, "nombreMarca": "SEAT", "nombreModelo": "Ibiza", "anyoVehiculo": 2008}`,
		`{"idLocal": 2, "nombreMarca": "Opel", "nombreModelo": "Astra", "anyoVehiculo": 2011}`,
	)

	progress := engine.UpsertVehicles(ctx, raws, 1)
	assert.Equal(t, 1, progress.NewItems)
	assert.Equal(t, 1, progress.UpdatedItems)
	assert.Equal(t, 2, progress.ProcessedItems)
	assert.Equal(t, 2, progress.LastID)
	assert.Empty(t, progress.Errors)

	// Re-importing the same page only updates.
	progress = engine.UpsertVehicles(ctx, raws, 1)
	assert.Equal(t, 0, progress.NewItems)
	assert.Equal(t, 2, progress.UpdatedItems)
	assert.Empty(t, progress.Errors)
	assert.Len(t, vehicles.byIDLocal, 2)
}

func TestUpsertVehiclesMalformedRecordIsIsolated(t *testing.T) {
	ctx := context.Background()
	vehicles, _, _, engine := newTestEngine(EngineConfig{})

	raws := rawRecords(
		`[1, 2, 3]`,
		`{"idLocal": 5, "nombreMarca": "Ford", "nombreModelo": "Focus"}`,
	)

	progress := engine.UpsertVehicles(ctx, raws, 1)
	assert.Equal(t, 1, progress.NewItems)
	assert.Len(t, progress.Errors, 1)
	assert.Len(t, vehicles.byIDLocal, 1)
}

func TestUpsertPartsBatchErrorIsolation(t *testing.T) {
	ctx := context.Background()
	_, parts, _, engine := newTestEngine(EngineConfig{UpsertBatchSize: 1})

	parts.insertErr = func(p models.Part) error {
		if p.RefLocal == 2 {
			return fmt.Errorf("duplicate key")
		}
		return nil
	}

	raws := rawRecords(
		`{"refLocal": 1, "precio": "10,50", "idVehiculo": -100}`,
		`{"refLocal": 2, "precio": "20,00", "idVehiculo": -100}`,
		`{"refLocal": 3, "precio": "30,00", "idVehiculo": -100}`,
	)

	progress := engine.UpsertParts(ctx, raws, 7)
	assert.Equal(t, 2, progress.NewItems)
	require.Len(t, progress.Errors, 1)
	assert.Contains(t, progress.Errors[0], "insert batch failed")
	assert.Len(t, parts.byID, 2)
}

func TestUpsertPartsResolvesRelations(t *testing.T) {
	ctx := context.Background()
	vehicles, parts, relations, engine := newTestEngine(EngineConfig{})

	vehicles.add(models.Vehicle{IDLocal: 100, Marca: "VW", Modelo: "Polo", Anyo: 2015})

	raws := rawRecords(
		`{"refLocal": 1, "precio": "10,50", "idVehiculo": -100}`,
		`{"refLocal": 2, "precio": "20,00", "idVehiculo": -200}`,
	)

	progress := engine.UpsertParts(ctx, raws, 7)
	assert.Equal(t, 2, progress.NewItems)
	assert.Empty(t, progress.Errors)
	assert.Equal(t, 2, progress.LastID)

	linked, err := parts.GetByNaturalKey(ctx, partKey(1, 7))
	require.NoError(t, err)
	require.NotNil(t, linked)
	_, resolved := relations.countFor(linked.ID)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, "VW", linked.VehicleMarca)
	assert.True(t, linked.Activo)

	orphan, err := parts.GetByNaturalKey(ctx, partKey(2, 7))
	require.NoError(t, err)
	require.NotNil(t, orphan)
	pending, _ := relations.countFor(orphan.ID)
	assert.Equal(t, 1, pending)
	assert.True(t, orphan.IsPendingRelation)
	assert.False(t, orphan.Activo)
}

func TestUpsertPartsReimportKeepsSingleRelation(t *testing.T) {
	ctx := context.Background()
	vehicles, parts, relations, engine := newTestEngine(EngineConfig{})

	raws := rawRecords(`{"refLocal": 1, "precio": "10,50", "idVehiculo": -100}`)

	// First import: the vehicle is unknown, the part goes pending.
	progress := engine.UpsertParts(ctx, raws, 7)
	assert.Equal(t, 1, progress.NewItems)

	stored, err := parts.GetByNaturalKey(ctx, partKey(1, 7))
	require.NoError(t, err)
	pending, resolved := relations.countFor(stored.ID)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, resolved)

	// The vehicle arrives, then the part page is replayed.
	vehicles.add(models.Vehicle{IDLocal: 100, Marca: "VW", Modelo: "Polo", Anyo: 2015})

	progress = engine.UpsertParts(ctx, raws, 7)
	assert.Equal(t, 1, progress.UpdatedItems)
	assert.Empty(t, progress.Errors)

	stored, err = parts.GetByNaturalKey(ctx, partKey(1, 7))
	require.NoError(t, err)
	pending, resolved = relations.countFor(stored.ID)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, resolved)
	assert.True(t, stored.Activo)
}
