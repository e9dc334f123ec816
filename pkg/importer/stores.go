package importer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/recambia/recambia/internal/repositories/part"
	"github.com/recambia/recambia/pkg/metasync"
	"github.com/recambia/recambia/pkg/models"
)

// The pipeline depends on narrow store interfaces rather than the concrete
// repositories so each stage can be exercised against in-memory fakes.

// VehicleStore is the slice of the vehicle repository the pipeline uses.
type VehicleStore interface {
	GetByIDLocal(ctx context.Context, idLocal int) (*models.Vehicle, error)
	ListByIDLocals(ctx context.Context, idLocals []int) ([]models.Vehicle, error)
	InsertBatch(ctx context.Context, vehicles []models.Vehicle) ([]models.Vehicle, error)
	Update(ctx context.Context, v *models.Vehicle) error
	DeactivateAbsent(ctx context.Context, importStart time.Time) (int64, error)
}

// PartStore is the slice of the part repository the pipeline uses.
type PartStore interface {
	Get(ctx context.Context, id int) (*models.Part, error)
	GetByNaturalKey(ctx context.Context, key part.NaturalKey) (*models.Part, error)
	ListByNaturalKeys(ctx context.Context, keys []part.NaturalKey) ([]models.Part, error)
	InsertBatch(ctx context.Context, parts []models.Part) ([]models.Part, error)
	Update(ctx context.Context, p *models.Part) error
	SetActive(ctx context.Context, partID int, active bool) (bool, error)
	MarkPendingRelation(ctx context.Context, partID int) error
	SetVehicleDescriptors(ctx context.Context, partID int, v *models.Vehicle) error
	RecomputeRelatedCount(ctx context.Context, partID int) (int, error)
	ListMissingVehicleData(ctx context.Context, limit int) ([]models.Part, error)
}

// RelationStore persists vehicle-part relations, pending and resolved.
type RelationStore interface {
	CreateResolved(ctx context.Context, vehicleID, partID, idVehiculoOriginal int) (bool, error)
	CreatePending(ctx context.Context, partID, idVehiculoOriginal int) (bool, error)
	Promote(ctx context.Context, relationID, vehicleID int) (bool, error)
	ListPending(ctx context.Context, limit int) ([]models.VehiclePart, error)
	HasResolved(ctx context.Context, partID int) (bool, error)
}

// HistoryStore persists the per-run ImportHistory state machine.
type HistoryStore interface {
	Start(ctx context.Context, importType string, isFullImport bool) (*models.ImportHistory, error)
	Get(ctx context.Context, id int) (*models.ImportHistory, error)
	RecordProgress(ctx context.Context, id int, delta models.ImportProgress) error
	Finish(ctx context.Context, id int, status string, itemsDeactivated int) error
	HasRunning(ctx context.Context, importType string) (bool, error)
}

// SyncStateStore keeps the per-type incremental sync cursor.
type SyncStateStore interface {
	Get(ctx context.Context, importType string) (*models.SyncControl, error)
	Record(ctx context.Context, importType string, syncDate time.Time, lastID, recordsProcessed int) error
	Reset(ctx context.Context, importType string) error
}

// CredentialSource yields the active supplier credentials, if any.
type CredentialSource interface {
	GetActive(ctx context.Context) (*models.APIConfig, error)
}

// SupplierClient pages through the supplier feed.
type SupplierClient interface {
	FetchVehiclePage(ctx context.Context, creds metasync.Credentials, since time.Time, lastID int) (*metasync.VehiclePage, error)
	FetchPartPage(ctx context.Context, creds metasync.Credentials, since time.Time, lastID int) (*metasync.PartPage, error)
	PageSize() int
}

// UpsertEngine turns raw supplier pages into inserts and updates.
type UpsertEngine interface {
	UpsertVehicles(ctx context.Context, raws []json.RawMessage, companyID int) models.ImportProgress
	UpsertParts(ctx context.Context, raws []json.RawMessage, companyID int) models.ImportProgress
}

// RelationReconciler promotes pending relations and repairs part vehicle data.
type RelationReconciler interface {
	ProcessPending(ctx context.Context) (int, error)
	RepairPartVehicleData(ctx context.Context) (int, error)
}
