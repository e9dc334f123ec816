package importer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appcontext "github.com/recambia/recambia/pkg/context"
	"github.com/recambia/recambia/pkg/events"
	"github.com/recambia/recambia/pkg/metasync"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

// OrchestratorConfig bounds a run.
type OrchestratorConfig struct {
	// PartialThresholdPct marks a run partial when the error rate exceeds it.
	PartialThresholdPct int

	// Defaults is the environment credential fallback used when no api_config
	// row is active.
	Defaults metasync.Credentials
}

// Orchestrator drives complete import runs: the page loop, the per-run
// ImportHistory state machine, incremental sync bookkeeping and the final
// reconciliation pass.
type Orchestrator struct {
	client      SupplierClient
	engine      UpsertEngine
	reconciler  RelationReconciler
	history     HistoryStore
	syncControl SyncStateStore
	apiConfig   CredentialSource
	vehicles    VehicleStore
	emitter     *events.Emitter
	logger      ectologger.Logger
	cfg         OrchestratorConfig
}

// NewOrchestrator creates a new import orchestrator.
func NewOrchestrator(
	client SupplierClient,
	engine UpsertEngine,
	reconciler RelationReconciler,
	history HistoryStore,
	syncControl SyncStateStore,
	apiConfig CredentialSource,
	vehicles VehicleStore,
	emitter *events.Emitter,
	logger ectologger.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.PartialThresholdPct <= 0 {
		cfg.PartialThresholdPct = 10
	}
	return &Orchestrator{
		client:      client,
		engine:      engine,
		reconciler:  reconciler,
		history:     history,
		syncControl: syncControl,
		apiConfig:   apiConfig,
		vehicles:    vehicles,
		emitter:     emitter,
		logger:      logger,
		cfg:         cfg,
	}
}

// StartImport creates the run row and executes the import in the background.
// It returns immediately with the running ImportHistory; progress is read
// back through the monitoring endpoints. Only one run per type may be in
// flight.
func (o *Orchestrator) StartImport(ctx context.Context, importType string, req models.StartImportRequest) (*models.ImportHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.StartImport")
	defer span.End()

	switch importType {
	case models.ImportTypeVehicles, models.ImportTypeParts, models.ImportTypeAll:
	default:
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown import type %q", importType)
	}

	running, err := o.history.HasRunning(ctx, importType)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "a %s import is already running", importType)
	}

	run, err := o.history.Start(ctx, importType, req.FullImport)
	if err != nil {
		return nil, err
	}
	o.emitter.EmitImportStarted(ctx, run)

	// The run outlives the request; it gets a fresh root context carrying
	// only the correlation id.
	runCtx := appcontext.SetImportRunID(context.Background(), uuid.New().String())
	go o.execute(runCtx, run, req)

	return run, nil
}

// Reconcile runs one on-demand reconciliation pass plus the repair sweep.
func (o *Orchestrator) Reconcile(ctx context.Context) (promoted, repaired int, err error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.Reconcile")
	defer span.End()

	promoted, err = o.reconciler.ProcessPending(ctx)
	if err != nil {
		return 0, 0, err
	}
	repaired, err = o.reconciler.RepairPartVehicleData(ctx)
	if err != nil {
		return promoted, 0, err
	}
	return promoted, repaired, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *models.ImportHistory, req models.StartImportRequest) {
	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.execute")
	defer span.End()

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"import_id": run.ID,
		"type":      run.Type,
		"full":      req.FullImport,
	})
	log.Info("Executing import run")

	creds, err := o.credentials(ctx)
	if err != nil {
		o.fail(ctx, run, fmt.Sprintf("credentials unavailable: %v", err))
		return
	}

	importStart := time.Now().UTC()
	stats := runStats{}

	if run.Type == models.ImportTypeVehicles || run.Type == models.ImportTypeAll {
		if err := o.pass(ctx, run, req, creds, models.ImportTypeVehicles, &stats); err != nil {
			o.fail(ctx, run, err.Error())
			return
		}
	}
	if run.Type == models.ImportTypeParts || run.Type == models.ImportTypeAll {
		if err := o.pass(ctx, run, req, creds, models.ImportTypeParts, &stats); err != nil {
			o.fail(ctx, run, err.Error())
			return
		}
	}

	// Final reconciliation before the run turns terminal: vehicles imported
	// in this run may satisfy relations left pending by earlier runs.
	if promoted, err := o.reconciler.ProcessPending(ctx); err != nil {
		log.WithError(err).Error("Final reconciliation failed")
		stats.errorCount++
	} else if promoted > 0 {
		log.WithFields(map[string]any{"promoted": promoted}).Info("Final reconciliation promoted relations")
	}

	deactivated := 0
	if req.FullImport && (run.Type == models.ImportTypeVehicles || run.Type == models.ImportTypeAll) {
		count, err := o.vehicles.DeactivateAbsent(ctx, importStart)
		if err != nil {
			log.WithError(err).Error("Deactivation of absent vehicles failed")
			stats.errorCount++
		}
		deactivated = int(count)
	}

	status := o.terminalStatus(stats)
	if err := o.history.Finish(ctx, run.ID, status, deactivated); err != nil {
		log.WithError(err).Error("Failed to finish import run")
		return
	}

	finished, err := o.history.Get(ctx, run.ID)
	if err == nil {
		o.emitter.EmitImportCompleted(ctx, finished)
	}

	log.WithFields(map[string]any{
		"status":    status,
		"processed": stats.processed,
		"errors":    stats.errorCount,
	}).Info("Import run finished")
}

// pass runs the sequential page loop for one entity type.
func (o *Orchestrator) pass(ctx context.Context, run *models.ImportHistory, req models.StartImportRequest, creds metasync.Credentials, entityType string, stats *runStats) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.pass")
	defer span.End()

	since, lastID, err := o.window(ctx, entityType, req)
	if err != nil {
		return err
	}

	processedInPass := 0
	for {
		var items int
		var progress models.ImportProgress
		var next int
		var advanced bool
		var total int

		switch entityType {
		case models.ImportTypeVehicles:
			page, err := o.client.FetchVehiclePage(ctx, creds, since, lastID)
			if err != nil {
				return fmt.Errorf("vehicle page fetch failed at lastid %d: %w", lastID, err)
			}
			items = len(page.Vehiculos)
			if items == 0 {
				o.logger.WithContext(ctx).Debug("Empty vehicle page, stopping")
				return nil
			}
			progress = o.engine.UpsertVehicles(ctx, page.Vehiculos, creds.CompanyID)
			total = page.ResultSet.TotalItems()
			next, advanced = page.NextLastID(lastID, progress.LastID)
		case models.ImportTypeParts:
			page, err := o.client.FetchPartPage(ctx, creds, since, lastID)
			if err != nil {
				return fmt.Errorf("part page fetch failed at lastid %d: %w", lastID, err)
			}
			items = len(page.Piezas)
			if items == 0 {
				o.logger.WithContext(ctx).Debug("Empty part page, stopping")
				return nil
			}
			progress = o.engine.UpsertParts(ctx, page.Piezas, creds.CompanyID)
			total = page.ResultSet.TotalItems()
			next, advanced = page.NextLastID(lastID, progress.LastID)
		}

		progress.TotalItems = total
		progress.ProcessingItem = fmt.Sprintf("%s lastid %d", entityType, next)

		if err := o.history.RecordProgress(ctx, run.ID, progress); err != nil {
			return err
		}
		o.emitter.EmitImportPage(ctx, run.ID, progress)

		stats.processed += progress.ProcessedItems
		stats.newItems += progress.NewItems
		stats.updatedItems += progress.UpdatedItems
		stats.errorCount += len(progress.Errors)
		processedInPass += items

		if !advanced {
			o.logger.WithContext(ctx).WithFields(map[string]any{"last_id": lastID}).Info("Cursor did not advance, stopping")
			break
		}
		lastID = next

		if items < o.client.PageSize() {
			break
		}
		if total > 0 && processedInPass >= total {
			break
		}
	}

	return o.syncControl.Record(ctx, entityType, time.Now().UTC(), lastID, processedInPass)
}

// window resolves the change window for one pass: full imports start from
// the epoch date and reset incremental state, incremental ones continue from
// the recorded sync point. An explicit Since on the request wins.
func (o *Orchestrator) window(ctx context.Context, entityType string, req models.StartImportRequest) (time.Time, int, error) {
	if req.FullImport {
		if err := o.syncControl.Reset(ctx, entityType); err != nil {
			return time.Time{}, 0, err
		}
		since := metasync.FullImportSince
		if req.Since != nil {
			since = *req.Since
		}
		return since, 0, nil
	}

	if req.Since != nil {
		return *req.Since, 0, nil
	}

	state, err := o.syncControl.Get(ctx, entityType)
	if err != nil {
		return time.Time{}, 0, err
	}
	if state == nil || state.LastSyncDate == nil {
		return metasync.FullImportSince, 0, nil
	}
	return *state.LastSyncDate, state.LastID, nil
}

// credentials prefers the active api_config row over environment defaults.
func (o *Orchestrator) credentials(ctx context.Context) (metasync.Credentials, error) {
	stored, err := o.apiConfig.GetActive(ctx)
	if err != nil {
		return metasync.Credentials{}, err
	}
	if stored != nil {
		return metasync.Credentials{
			APIKey:    stored.APIKey,
			CompanyID: stored.CompanyID,
			Channel:   stored.Channel,
		}, nil
	}

	if o.cfg.Defaults.APIKey == "" {
		return metasync.Credentials{}, httperror.NewHTTPError(http.StatusPreconditionFailed, "no supplier credentials configured")
	}
	return o.cfg.Defaults, nil
}

func (o *Orchestrator) fail(ctx context.Context, run *models.ImportHistory, message string) {
	o.logger.WithContext(ctx).WithFields(map[string]any{"import_id": run.ID}).Errorf("Import run failed: %s", message)

	if err := o.history.RecordProgress(ctx, run.ID, models.ImportProgress{Errors: []string{message}}); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to record failure")
	}
	if err := o.history.Finish(ctx, run.ID, models.ImportStatusFailed, 0); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to mark run failed")
	}

	if finished, err := o.history.Get(ctx, run.ID); err == nil {
		o.emitter.EmitImportCompleted(ctx, finished)
	}
}

// terminalStatus classifies a run that reached the end of its page loops.
// Accumulated errors do not fail a run; they downgrade it to partial once
// the error rate passes the threshold.
func (o *Orchestrator) terminalStatus(stats runStats) string {
	if stats.processed == 0 && stats.errorCount > 0 {
		return models.ImportStatusFailed
	}
	if stats.processed > 0 && stats.errorCount*100 > stats.processed*o.cfg.PartialThresholdPct {
		return models.ImportStatusPartial
	}
	return models.ImportStatusCompleted
}

type runStats struct {
	processed    int
	newItems     int
	updatedItems int
	errorCount   int
}
