package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recambia/recambia/pkg/models"
)

func newTestReconciler() (*fakeVehicleStore, *fakePartStore, *fakeRelationStore, *Reconciler) {
	logger := testLogger()
	vehicles := newFakeVehicleStore()
	relations := newFakeRelationStore()
	parts := newFakePartStore(relations)
	activator := NewActivator(parts, relations, testEmitter(), logger)
	return vehicles, parts, relations, NewReconciler(vehicles, parts, relations, activator, testEmitter(), logger)
}

func TestProcessPendingPromotes(t *testing.T) {
	ctx := context.Background()
	vehicles, parts, relations, reconciler := newTestReconciler()

	p := parts.add(models.Part{RefLocal: 20, IDEmpresa: 1, Precio: "80.00", IsPendingRelation: true})
	created, err := relations.CreatePending(ctx, p.ID, -321)
	require.NoError(t, err)
	require.True(t, created)

	vehicles.add(models.Vehicle{IDLocal: 321, Marca: "Renault", Modelo: "Clio", Anyo: 2012})

	promoted, err := reconciler.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	pending, resolved := relations.countFor(p.ID)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, resolved)

	stored, err := parts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renault", stored.VehicleMarca)
	assert.False(t, stored.IsPendingRelation)
	assert.True(t, stored.Activo)

	// A second pass has nothing left to promote.
	promoted, err = reconciler.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)
}

func TestProcessPendingSkipsUnresolvableReferences(t *testing.T) {
	ctx := context.Background()
	_, parts, relations, reconciler := newTestReconciler()

	p := parts.add(models.Part{RefLocal: 21, IDEmpresa: 1, Precio: "10.00"})
	_, err := relations.CreatePending(ctx, p.ID, 0)
	require.NoError(t, err)
	_, err = relations.CreatePending(ctx, p.ID, -1)
	require.NoError(t, err)

	promoted, err := reconciler.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	pending, resolved := relations.countFor(p.ID)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 0, resolved)
}

func TestProcessPendingDropsAlreadyResolvedDuplicate(t *testing.T) {
	ctx := context.Background()
	vehicles, parts, relations, reconciler := newTestReconciler()

	v := vehicles.add(models.Vehicle{IDLocal: 321, Marca: "Renault", Modelo: "Clio"})
	p := parts.add(models.Part{RefLocal: 22, IDEmpresa: 1, Precio: "10.00"})

	// The pair got resolved through the heuristic path in a previous run;
	// the old pending row for the same part is now redundant.
	_, err := relations.CreateResolved(ctx, v.ID, p.ID, -777)
	require.NoError(t, err)
	_, err = relations.CreatePending(ctx, p.ID, -321)
	require.NoError(t, err)

	promoted, err := reconciler.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	pending, resolved := relations.countFor(p.ID)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, resolved)
}

func TestRepairPartVehicleData(t *testing.T) {
	ctx := context.Background()
	vehicles, parts, relations, reconciler := newTestReconciler()

	v := vehicles.add(models.Vehicle{IDLocal: 42, Marca: "Peugeot", Modelo: "206", Anyo: 2004})
	p := parts.add(models.Part{RefLocal: 23, IDEmpresa: 1, Precio: "55.00", Activo: true, IDVehiculo: -42})

	repaired, err := reconciler.RepairPartVehicleData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	_, resolved := relations.countFor(p.ID)
	assert.Equal(t, 1, resolved)

	stored, err := parts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Peugeot", stored.VehicleMarca)
	assert.Equal(t, v.Anyo, stored.VehicleAnyo)
}
