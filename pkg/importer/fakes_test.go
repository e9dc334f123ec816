package importer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/recambia/recambia/internal/repositories/part"
	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/events"
	"github.com/recambia/recambia/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testEmitter() *events.Emitter {
	return events.NewEmitter(nil, testLogger())
}

func partKey(refLocal, idEmpresa int) part.NaturalKey {
	return part.NaturalKey{RefLocal: refLocal, IDEmpresa: idEmpresa}
}

// fakeVehicleStore keeps vehicles in memory keyed by supplier id_local. It
// doubles as the matcher's VehicleFinder so resolver tests can steer the
// heuristic path.
type fakeVehicleStore struct {
	byIDLocal map[int]models.Vehicle
	byCode    map[string][]models.Vehicle
	byPrefix  map[string][]models.Vehicle
	nextID    int

	updated         []int
	deactivateCount int64
}

func newFakeVehicleStore() *fakeVehicleStore {
	return &fakeVehicleStore{
		byIDLocal: make(map[int]models.Vehicle),
		byCode:    make(map[string][]models.Vehicle),
		byPrefix:  make(map[string][]models.Vehicle),
		nextID:    1,
	}
}

func (f *fakeVehicleStore) add(v models.Vehicle) models.Vehicle {
	if v.ID == 0 {
		v.ID = f.nextID
		f.nextID++
	}
	f.byIDLocal[v.IDLocal] = v
	return v
}

func (f *fakeVehicleStore) GetByIDLocal(ctx context.Context, idLocal int) (*models.Vehicle, error) {
	v, ok := f.byIDLocal[idLocal]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeVehicleStore) ListByIDLocals(ctx context.Context, idLocals []int) ([]models.Vehicle, error) {
	var found []models.Vehicle
	for _, idLocal := range idLocals {
		if v, ok := f.byIDLocal[idLocal]; ok {
			found = append(found, v)
		}
	}
	return found, nil
}

func (f *fakeVehicleStore) InsertBatch(ctx context.Context, vehicles []models.Vehicle) ([]models.Vehicle, error) {
	inserted := make([]models.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		inserted = append(inserted, f.add(v))
	}
	return inserted, nil
}

func (f *fakeVehicleStore) Update(ctx context.Context, v *models.Vehicle) error {
	stored, ok := f.byIDLocal[v.IDLocal]
	if !ok {
		return fmt.Errorf("vehicle %d not found", v.IDLocal)
	}
	v.ID = stored.ID
	f.byIDLocal[v.IDLocal] = *v
	f.updated = append(f.updated, v.IDLocal)
	return nil
}

func (f *fakeVehicleStore) DeactivateAbsent(ctx context.Context, importStart time.Time) (int64, error) {
	return f.deactivateCount, nil
}

func (f *fakeVehicleStore) ListByVersionCode(ctx context.Context, code string) ([]models.Vehicle, error) {
	return f.byCode[code], nil
}

func (f *fakeVehicleStore) ListByVersionPrefix(ctx context.Context, prefix string, limit int) ([]models.Vehicle, error) {
	return f.byPrefix[prefix], nil
}

// fakeRelationStore mirrors the vehicle_parts uniqueness rules: pending rows
// unique per (part, supplier reference), resolved rows per (vehicle, part),
// and CreateResolved/Promote absorbing the pending row for the same pair.
type fakeRelationStore struct {
	rows   []models.VehiclePart
	nextID int
}

func newFakeRelationStore() *fakeRelationStore {
	return &fakeRelationStore{nextID: 1}
}

func (f *fakeRelationStore) resolvedExists(vehicleID, partID int) bool {
	for i := range f.rows {
		if f.rows[i].VehicleID != nil && *f.rows[i].VehicleID == vehicleID && f.rows[i].PartID == partID {
			return true
		}
	}
	return false
}

func (f *fakeRelationStore) pendingIndex(partID, idVehiculoOriginal int) int {
	for i := range f.rows {
		if f.rows[i].VehicleID == nil && f.rows[i].PartID == partID && f.rows[i].IDVehiculoOriginal == idVehiculoOriginal {
			return i
		}
	}
	return -1
}

func (f *fakeRelationStore) delete(index int) {
	f.rows = append(f.rows[:index], f.rows[index+1:]...)
}

func (f *fakeRelationStore) CreateResolved(ctx context.Context, vehicleID, partID, idVehiculoOriginal int) (bool, error) {
	if idx := f.pendingIndex(partID, idVehiculoOriginal); idx >= 0 {
		if f.resolvedExists(vehicleID, partID) {
			f.delete(idx)
			return false, nil
		}
		f.rows[idx].VehicleID = &vehicleID
		return true, nil
	}
	if f.resolvedExists(vehicleID, partID) {
		return false, nil
	}
	f.rows = append(f.rows, models.VehiclePart{
		ID:                 f.nextID,
		VehicleID:          &vehicleID,
		PartID:             partID,
		IDVehiculoOriginal: idVehiculoOriginal,
		FechaCreacion:      time.Now().UTC(),
	})
	f.nextID++
	return true, nil
}

func (f *fakeRelationStore) CreatePending(ctx context.Context, partID, idVehiculoOriginal int) (bool, error) {
	if f.pendingIndex(partID, idVehiculoOriginal) >= 0 {
		return false, nil
	}
	f.rows = append(f.rows, models.VehiclePart{
		ID:                 f.nextID,
		PartID:             partID,
		IDVehiculoOriginal: idVehiculoOriginal,
		FechaCreacion:      time.Now().UTC(),
	})
	f.nextID++
	return true, nil
}

func (f *fakeRelationStore) Promote(ctx context.Context, relationID, vehicleID int) (bool, error) {
	for i := range f.rows {
		if f.rows[i].ID != relationID || f.rows[i].VehicleID != nil {
			continue
		}
		if f.resolvedExists(vehicleID, f.rows[i].PartID) {
			f.delete(i)
			return false, nil
		}
		f.rows[i].VehicleID = &vehicleID
		return true, nil
	}
	return false, nil
}

func (f *fakeRelationStore) ListPending(ctx context.Context, limit int) ([]models.VehiclePart, error) {
	var pending []models.VehiclePart
	for i := range f.rows {
		if f.rows[i].VehicleID == nil {
			pending = append(pending, f.rows[i])
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (f *fakeRelationStore) HasResolved(ctx context.Context, partID int) (bool, error) {
	for i := range f.rows {
		if f.rows[i].PartID == partID && f.rows[i].VehicleID != nil {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRelationStore) countFor(partID int) (pending, resolved int) {
	for i := range f.rows {
		if f.rows[i].PartID != partID {
			continue
		}
		if f.rows[i].VehicleID == nil {
			pending++
		} else {
			resolved++
		}
	}
	return pending, resolved
}

// fakePartStore keeps parts in memory keyed by id. It consults the relation
// store for the related-vehicles count the way the SQL recompute does.
type fakePartStore struct {
	byID      map[int]*models.Part
	relations *fakeRelationStore
	nextID    int

	insertErr func(p models.Part) error
	updateErr func(p models.Part) error
}

func newFakePartStore(relations *fakeRelationStore) *fakePartStore {
	return &fakePartStore{
		byID:      make(map[int]*models.Part),
		relations: relations,
		nextID:    1,
	}
}

func (f *fakePartStore) add(p models.Part) *models.Part {
	if p.ID == 0 {
		p.ID = f.nextID
		f.nextID++
	}
	stored := p
	f.byID[p.ID] = &stored
	return &stored
}

func (f *fakePartStore) Get(ctx context.Context, id int) (*models.Part, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("part %d not found", id)
	}
	copied := *p
	return &copied, nil
}

func (f *fakePartStore) GetByNaturalKey(ctx context.Context, key part.NaturalKey) (*models.Part, error) {
	for _, p := range f.byID {
		if p.RefLocal == key.RefLocal && p.IDEmpresa == key.IDEmpresa {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakePartStore) ListByNaturalKeys(ctx context.Context, keys []part.NaturalKey) ([]models.Part, error) {
	var found []models.Part
	for _, key := range keys {
		for _, p := range f.byID {
			if p.RefLocal == key.RefLocal && p.IDEmpresa == key.IDEmpresa {
				found = append(found, *p)
			}
		}
	}
	return found, nil
}

func (f *fakePartStore) InsertBatch(ctx context.Context, parts []models.Part) ([]models.Part, error) {
	inserted := make([]models.Part, 0, len(parts))
	for _, p := range parts {
		if f.insertErr != nil {
			if err := f.insertErr(p); err != nil {
				return nil, err
			}
		}
		inserted = append(inserted, *f.add(p))
	}
	return inserted, nil
}

func (f *fakePartStore) Update(ctx context.Context, p *models.Part) error {
	if f.updateErr != nil {
		if err := f.updateErr(*p); err != nil {
			return err
		}
	}
	for _, stored := range f.byID {
		if stored.RefLocal == p.RefLocal && stored.IDEmpresa == p.IDEmpresa {
			p.ID = stored.ID
			stored.Precio = p.Precio
			stored.CodFamilia = p.CodFamilia
			stored.DescripcionArticulo = p.DescripcionArticulo
			stored.IDVehiculo = p.IDVehiculo
			stored.RvCode = p.RvCode
			stored.CodVersionVehiculo = p.CodVersionVehiculo
			return nil
		}
	}
	return fmt.Errorf("part (%d, %d) not found", p.RefLocal, p.IDEmpresa)
}

func (f *fakePartStore) SetActive(ctx context.Context, partID int, active bool) (bool, error) {
	p, ok := f.byID[partID]
	if !ok {
		return false, fmt.Errorf("part %d not found", partID)
	}
	if p.Activo == active {
		return false, nil
	}
	p.Activo = active
	return true, nil
}

func (f *fakePartStore) MarkPendingRelation(ctx context.Context, partID int) error {
	p, ok := f.byID[partID]
	if !ok {
		return fmt.Errorf("part %d not found", partID)
	}
	p.IsPendingRelation = true
	return nil
}

func (f *fakePartStore) SetVehicleDescriptors(ctx context.Context, partID int, v *models.Vehicle) error {
	p, ok := f.byID[partID]
	if !ok {
		return fmt.Errorf("part %d not found", partID)
	}
	p.VehicleMarca = v.Marca
	p.VehicleModelo = v.Modelo
	p.VehicleVersion = v.Version
	p.VehicleAnyo = v.Anyo
	p.Combustible = v.Combustible
	p.IsPendingRelation = false
	return nil
}

func (f *fakePartStore) RecomputeRelatedCount(ctx context.Context, partID int) (int, error) {
	p, ok := f.byID[partID]
	if !ok {
		return 0, fmt.Errorf("part %d not found", partID)
	}
	_, resolved := f.relations.countFor(partID)
	p.RelatedVehiclesCount = resolved
	return resolved, nil
}

func (f *fakePartStore) ListMissingVehicleData(ctx context.Context, limit int) ([]models.Part, error) {
	var missing []models.Part
	for _, p := range f.byID {
		if !p.Activo || p.IDVehiculo == 0 || p.IDVehiculo == -1 {
			continue
		}
		if p.VehicleMarca != "" && p.VehicleModelo != "" {
			continue
		}
		missing = append(missing, *p)
		if len(missing) == limit {
			break
		}
	}
	return missing, nil
}

// fakeDB satisfies database.DB far enough for WithTransaction; every
// sub-batch gets a throwaway transaction that commits into nothing.
type fakeDB struct{}

func (f *fakeDB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, fmt.Errorf("not supported")
}
func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (f *fakeDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, nil
}
func (f *fakeDB) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return nil, nil
}
func (f *fakeDB) PingContext(ctx context.Context) error { return nil }
func (f *fakeDB) Rebind(query string) string { return query }
func (f *fakeDB) Close() error { return nil }
func (f *fakeDB) Unsafe() *sqlx.DB { return nil }

func (f *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, &fakeTx{}, nil
}

type fakeTx struct{ closed bool }

func (t *fakeTx) IsOpen() bool { return !t.closed }
func (t *fakeTx) Commit(ctx context.Context) error { t.closed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.closed = true; return nil }
func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (t *fakeTx) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (t *fakeTx) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) Rebind(query string) string { return query }
