package importer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recambia/recambia/pkg/metasync"
	"github.com/recambia/recambia/pkg/models"
)

func TestTerminalStatus(t *testing.T) {
	o := &Orchestrator{cfg: OrchestratorConfig{PartialThresholdPct: 10}}

	t.Run("CleanRunCompletes", func(t *testing.T) {
		status := o.terminalStatus(runStats{processed: 1000})
		assert.Equal(t, models.ImportStatusCompleted, status)
	})

	t.Run("ErrorsBelowThresholdStillComplete", func(t *testing.T) {
		status := o.terminalStatus(runStats{processed: 1000, errorCount: 100})
		assert.Equal(t, models.ImportStatusCompleted, status)
	})

	t.Run("ErrorsAboveThresholdDowngradeToPartial", func(t *testing.T) {
		status := o.terminalStatus(runStats{processed: 1000, errorCount: 101})
		assert.Equal(t, models.ImportStatusPartial, status)
	})

	t.Run("NothingProcessedWithErrorsFails", func(t *testing.T) {
		status := o.terminalStatus(runStats{processed: 0, errorCount: 3})
		assert.Equal(t, models.ImportStatusFailed, status)
	})

	t.Run("EmptyFeedCompletes", func(t *testing.T) {
		status := o.terminalStatus(runStats{})
		assert.Equal(t, models.ImportStatusCompleted, status)
	})
}

type fakeSupplier struct {
	pageSize     int
	vehiclePages []*metasync.VehiclePage
	partPages    []*metasync.PartPage
	vIdx, pIdx   int
}

func (f *fakeSupplier) FetchVehiclePage(ctx context.Context, creds metasync.Credentials, since time.Time, lastID int) (*metasync.VehiclePage, error) {
	if f.vIdx >= len(f.vehiclePages) {
		return &metasync.VehiclePage{}, nil
	}
	page := f.vehiclePages[f.vIdx]
	f.vIdx++
	return page, nil
}

func (f *fakeSupplier) FetchPartPage(ctx context.Context, creds metasync.Credentials, since time.Time, lastID int) (*metasync.PartPage, error) {
	if f.pIdx >= len(f.partPages) {
		return &metasync.PartPage{}, nil
	}
	page := f.partPages[f.pIdx]
	f.pIdx++
	return page, nil
}

func (f *fakeSupplier) PageSize() int { return f.pageSize }

type fakeHistory struct {
	mu               sync.Mutex
	run              *models.ImportHistory
	running          bool
	itemsDeactivated int
	done             chan struct{}
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{done: make(chan struct{})}
}

func (f *fakeHistory) Start(ctx context.Context, importType string, isFullImport bool) (*models.ImportHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = &models.ImportHistory{
		ID:           1,
		Type:         importType,
		Status:       models.ImportStatusRunning,
		IsFullImport: isFullImport,
		StartTime:    time.Now().UTC(),
	}
	copied := *f.run
	return &copied, nil
}

func (f *fakeHistory) Get(ctx context.Context, id int) (*models.ImportHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.run
	return &copied, nil
}

func (f *fakeHistory) RecordProgress(ctx context.Context, id int, delta models.ImportProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.ProcessedItems += delta.ProcessedItems
	f.run.NewItems += delta.NewItems
	f.run.UpdatedItems += delta.UpdatedItems
	f.run.ErrorCount += len(delta.Errors)
	return nil
}

func (f *fakeHistory) Finish(ctx context.Context, id int, status string, itemsDeactivated int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.Status = status
	f.itemsDeactivated = itemsDeactivated
	close(f.done)
	return nil
}

func (f *fakeHistory) HasRunning(ctx context.Context, importType string) (bool, error) {
	return f.running, nil
}

func (f *fakeHistory) status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.run.Status
}

type syncRecord struct {
	importType string
	lastID     int
	processed  int
}

type fakeSyncState struct {
	mu       sync.Mutex
	states   map[string]*models.SyncControl
	recorded []syncRecord
	resets   []string
}

func (f *fakeSyncState) Get(ctx context.Context, importType string) (*models.SyncControl, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[importType], nil
}

func (f *fakeSyncState) Record(ctx context.Context, importType string, syncDate time.Time, lastID, recordsProcessed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, syncRecord{importType: importType, lastID: lastID, processed: recordsProcessed})
	return nil
}

func (f *fakeSyncState) Reset(ctx context.Context, importType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, importType)
	return nil
}

type fakeCredentialSource struct {
	stored *models.APIConfig
}

func (f *fakeCredentialSource) GetActive(ctx context.Context) (*models.APIConfig, error) {
	return f.stored, nil
}

type fakeUpsertEngine struct {
	mu       sync.Mutex
	calls    int
	progress func(raws []json.RawMessage) models.ImportProgress
}

func (f *fakeUpsertEngine) UpsertVehicles(ctx context.Context, raws []json.RawMessage, companyID int) models.ImportProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.progress(raws)
}

func (f *fakeUpsertEngine) UpsertParts(ctx context.Context, raws []json.RawMessage, companyID int) models.ImportProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.progress(raws)
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReconciler) ProcessPending(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, nil
}

func (f *fakeReconciler) RepairPartVehicleData(ctx context.Context) (int, error) {
	return 0, nil
}

type orchestratorFixture struct {
	supplier   *fakeSupplier
	engine     *fakeUpsertEngine
	reconciler *fakeReconciler
	history    *fakeHistory
	syncState  *fakeSyncState
	vehicles   *fakeVehicleStore
	orch       *Orchestrator
}

func newOrchestratorFixture(supplier *fakeSupplier, engine *fakeUpsertEngine) *orchestratorFixture {
	f := &orchestratorFixture{
		supplier:   supplier,
		engine:     engine,
		reconciler: &fakeReconciler{},
		history:    newFakeHistory(),
		syncState:  &fakeSyncState{states: make(map[string]*models.SyncControl)},
		vehicles:   newFakeVehicleStore(),
	}
	creds := &fakeCredentialSource{stored: &models.APIConfig{APIKey: "key", CompanyID: 7, Channel: "web", Active: true}}
	f.orch = NewOrchestrator(
		supplier, engine, f.reconciler, f.history, f.syncState, creds, f.vehicles,
		testEmitter(), testLogger(), OrchestratorConfig{PartialThresholdPct: 10},
	)
	return f
}

func (f *orchestratorFixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.history.done:
	case <-time.After(2 * time.Second):
		t.Fatal("import run did not finish")
	}
}

func vehiclePage(items int, rs *metasync.ResultSet) *metasync.VehiclePage {
	raws := make([]json.RawMessage, items)
	for i := range raws {
		raws[i] = json.RawMessage(`{}`)
	}
	return &metasync.VehiclePage{Vehiculos: raws, ResultSet: rs}
}

func TestStartImportRejectsUnknownType(t *testing.T) {
	f := newOrchestratorFixture(&fakeSupplier{pageSize: 2}, &fakeUpsertEngine{})

	_, err := f.orch.StartImport(context.Background(), "bogus", models.StartImportRequest{})
	assert.Error(t, err)
}

func TestStartImportConflictsWithRunningImport(t *testing.T) {
	f := newOrchestratorFixture(&fakeSupplier{pageSize: 2}, &fakeUpsertEngine{})
	f.history.running = true

	_, err := f.orch.StartImport(context.Background(), models.ImportTypeVehicles, models.StartImportRequest{})
	assert.Error(t, err)
}

func TestStartImportVehiclesRunsToCompletion(t *testing.T) {
	supplier := &fakeSupplier{
		pageSize: 2,
		vehiclePages: []*metasync.VehiclePage{
			vehiclePage(2, &metasync.ResultSet{Total: 3, LastID: 100}),
			vehiclePage(1, &metasync.ResultSet{Total: 3, LastID: 200}),
		},
	}
	engine := &fakeUpsertEngine{progress: func(raws []json.RawMessage) models.ImportProgress {
		return models.ImportProgress{ProcessedItems: len(raws), NewItems: len(raws)}
	}}
	f := newOrchestratorFixture(supplier, engine)

	run, err := f.orch.StartImport(context.Background(), models.ImportTypeVehicles, models.StartImportRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusRunning, run.Status)

	f.waitDone(t)

	assert.Equal(t, models.ImportStatusCompleted, f.history.status())
	assert.Equal(t, 2, engine.calls)

	require.Len(t, f.syncState.recorded, 1)
	assert.Equal(t, models.ImportTypeVehicles, f.syncState.recorded[0].importType)
	assert.Equal(t, 200, f.syncState.recorded[0].lastID)
	assert.Equal(t, 3, f.syncState.recorded[0].processed)

	// Final reconciliation runs before the run turns terminal.
	assert.Equal(t, 1, f.reconciler.calls)
}

func TestImportRunMarksPartialOnHighErrorRate(t *testing.T) {
	supplier := &fakeSupplier{
		pageSize: 10,
		vehiclePages: []*metasync.VehiclePage{
			vehiclePage(5, &metasync.ResultSet{Total: 5, LastID: 50}),
		},
	}
	engine := &fakeUpsertEngine{progress: func(raws []json.RawMessage) models.ImportProgress {
		return models.ImportProgress{
			ProcessedItems: len(raws),
			Errors:         []string{"bad record", "bad record"},
		}
	}}
	f := newOrchestratorFixture(supplier, engine)

	_, err := f.orch.StartImport(context.Background(), models.ImportTypeVehicles, models.StartImportRequest{})
	require.NoError(t, err)
	f.waitDone(t)

	assert.Equal(t, models.ImportStatusPartial, f.history.status())
}

func TestFullImportResetsSyncStateAndDeactivates(t *testing.T) {
	supplier := &fakeSupplier{
		pageSize: 10,
		vehiclePages: []*metasync.VehiclePage{
			vehiclePage(1, &metasync.ResultSet{Total: 1, LastID: 10}),
		},
	}
	engine := &fakeUpsertEngine{progress: func(raws []json.RawMessage) models.ImportProgress {
		return models.ImportProgress{ProcessedItems: len(raws), NewItems: len(raws)}
	}}
	f := newOrchestratorFixture(supplier, engine)
	f.vehicles.deactivateCount = 4

	_, err := f.orch.StartImport(context.Background(), models.ImportTypeVehicles, models.StartImportRequest{FullImport: true})
	require.NoError(t, err)
	f.waitDone(t)

	assert.Equal(t, models.ImportStatusCompleted, f.history.status())
	assert.Equal(t, []string{models.ImportTypeVehicles}, f.syncState.resets)
	assert.Equal(t, 4, f.history.itemsDeactivated)
}
