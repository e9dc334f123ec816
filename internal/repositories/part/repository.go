package part

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

const columns = "id, ref_local, id_empresa, id_vehiculo, vehicle_marca, vehicle_modelo, vehicle_version, vehicle_anyo, combustible, related_vehicles_count, cod_familia, descripcion_familia, cod_articulo, descripcion_articulo, cod_version_vehiculo, ref_principal, anyo_inicio, anyo_fin, puertas, rv_code, precio, anyo_stock, peso, ubicacion, observaciones, reserva, tipo_material, situacion, imagenes, activo, disponible_api, last_api_confirmation, sincronizado, is_pending_relation, ultima_sincronizacion, fecha_creacion, fecha_actualizacion"

// NaturalKey identifies a part across imports.
type NaturalKey struct {
	RefLocal  int
	IDEmpresa int
}

// Repository handles part persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new part repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a part by internal id.
func (r *Repository) Get(ctx context.Context, id int) (*models.Part, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("parts")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var part models.Part
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &part, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "part %d not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get part")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get part")
	}
	return &part, nil
}

// GetByNaturalKey retrieves a part by (ref_local, id_empresa). Returns
// nil, nil on a miss.
func (r *Repository) GetByNaturalKey(ctx context.Context, key NaturalKey) (*models.Part, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.GetByNaturalKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("parts")
	sb.Where(
		sb.Equal("ref_local", key.RefLocal),
		sb.Equal("id_empresa", key.IDEmpresa),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var part models.Part
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &part, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ref_local": key.RefLocal, "id_empresa": key.IDEmpresa}).Error("Failed to get part by natural key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get part")
	}
	return &part, nil
}

// ListByNaturalKeys retrieves parts for a set of (ref_local, id_empresa)
// pairs in a single query. Callers chunk the input.
func (r *Repository) ListByNaturalKeys(ctx context.Context, keys []NaturalKey) ([]models.Part, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.ListByNaturalKeys")
	defer span.End()

	if len(keys) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, key := range keys {
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, key.RefLocal, key.IDEmpresa)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM parts
		WHERE (ref_local, id_empresa) IN (%s)
	`, columns, strings.Join(placeholders, ", "))

	var parts []models.Part
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &parts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(keys)}).Error("Failed to list parts by natural keys")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list parts")
	}
	return parts, nil
}

// InsertBatch bulk-inserts parts and returns them with assigned ids. Parts
// are always inserted inactive; activation is decided afterwards.
func (r *Repository) InsertBatch(ctx context.Context, parts []models.Part) ([]models.Part, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.InsertBatch")
	defer span.End()

	if len(parts) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("parts")
	ib.Cols("ref_local", "id_empresa", "id_vehiculo", "cod_familia", "descripcion_familia", "cod_articulo", "descripcion_articulo", "cod_version_vehiculo", "ref_principal", "anyo_inicio", "anyo_fin", "puertas", "rv_code", "precio", "anyo_stock", "peso", "ubicacion", "observaciones", "reserva", "tipo_material", "imagenes", "activo", "sincronizado", "is_pending_relation", "ultima_sincronizacion")
	for _, p := range parts {
		ib.Values(p.RefLocal, p.IDEmpresa, p.IDVehiculo, p.CodFamilia, p.DescripcionFamilia, p.CodArticulo, p.DescripcionArticulo, p.CodVersionVehiculo, p.RefPrincipal, p.AnyoInicio, p.AnyoFin, p.Puertas, p.RvCode, p.Precio, p.AnyoStock, p.Peso, p.Ubicacion, p.Observaciones, p.Reserva, p.TipoMaterial, pq.Array(p.Imagenes), false, p.Sincronizado, p.IsPendingRelation, now)
	}

	query, args := ib.Build()
	query += " RETURNING id, ref_local, id_empresa"

	rows, err := database.FromContext(ctx, r.db).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(parts)}).Error("Failed to insert parts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert parts")
	}
	defer rows.Close()

	ids := make(map[NaturalKey]int, len(parts))
	for rows.Next() {
		var id, refLocal, idEmpresa int
		if err := rows.Scan(&id, &refLocal, &idEmpresa); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan inserted part")
		}
		ids[NaturalKey{RefLocal: refLocal, IDEmpresa: idEmpresa}] = id
	}
	if err := rows.Err(); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read inserted parts")
	}

	inserted := make([]models.Part, len(parts))
	copy(inserted, parts)
	for i := range inserted {
		inserted[i].ID = ids[NaturalKey{RefLocal: inserted[i].RefLocal, IDEmpresa: inserted[i].IDEmpresa}]
		inserted[i].Activo = false
		inserted[i].UltimaSincronizacion = now
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(inserted)}).Info("Inserted parts")
	return inserted, nil
}

// Update overwrites the supplier-owned fields of an existing part, keyed by
// natural key. Vehicle descriptors and activation are owned by the resolver
// and are not touched here.
func (r *Repository) Update(ctx context.Context, p *models.Part) error {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("parts")
	ub.Set(
		ub.Assign("id_vehiculo", p.IDVehiculo),
		ub.Assign("cod_familia", p.CodFamilia),
		ub.Assign("descripcion_familia", p.DescripcionFamilia),
		ub.Assign("cod_articulo", p.CodArticulo),
		ub.Assign("descripcion_articulo", p.DescripcionArticulo),
		ub.Assign("cod_version_vehiculo", p.CodVersionVehiculo),
		ub.Assign("ref_principal", p.RefPrincipal),
		ub.Assign("anyo_inicio", p.AnyoInicio),
		ub.Assign("anyo_fin", p.AnyoFin),
		ub.Assign("puertas", p.Puertas),
		ub.Assign("rv_code", p.RvCode),
		ub.Assign("precio", p.Precio),
		ub.Assign("anyo_stock", p.AnyoStock),
		ub.Assign("peso", p.Peso),
		ub.Assign("ubicacion", p.Ubicacion),
		ub.Assign("observaciones", p.Observaciones),
		ub.Assign("reserva", p.Reserva),
		ub.Assign("tipo_material", p.TipoMaterial),
		ub.Assign("imagenes", pq.Array(p.Imagenes)),
		ub.Assign("sincronizado", p.Sincronizado),
		ub.Assign("ultima_sincronizacion", now),
		ub.Assign("fecha_actualizacion", now),
	)
	ub.Where(
		ub.Equal("ref_local", p.RefLocal),
		ub.Equal("id_empresa", p.IDEmpresa),
	)

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ref_local": p.RefLocal, "id_empresa": p.IDEmpresa}).Error("Failed to update part")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update part")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("part (%d, %d) not found", p.RefLocal, p.IDEmpresa))
	}
	return nil
}

// SetVehicleDescriptors copies a resolved vehicle's descriptive fields onto
// the part and clears the pending flag.
func (r *Repository) SetVehicleDescriptors(ctx context.Context, partID int, v *models.Vehicle) error {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.SetVehicleDescriptors")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("parts")
	ub.Set(
		ub.Assign("vehicle_marca", v.Marca),
		ub.Assign("vehicle_modelo", v.Modelo),
		ub.Assign("vehicle_version", v.Version),
		ub.Assign("vehicle_anyo", v.Anyo),
		ub.Assign("combustible", v.Combustible),
		ub.Assign("is_pending_relation", false),
		ub.Assign("fecha_actualizacion", now),
	)
	ub.Where(ub.Equal("id", partID))

	query, args := ub.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID, "vehicle_id": v.ID}).Error("Failed to set vehicle descriptors")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update part")
	}
	return nil
}

// MarkPendingRelation flags a part whose vehicle reference could not be
// resolved yet.
func (r *Repository) MarkPendingRelation(ctx context.Context, partID int) error {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.MarkPendingRelation")
	defer span.End()

	query := "UPDATE parts SET is_pending_relation = TRUE, fecha_actualizacion = $2 WHERE id = $1"
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, partID, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID}).Error("Failed to mark pending relation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update part")
	}
	return nil
}

// RecomputeRelatedCount refreshes related_vehicles_count from the resolved
// rows in vehicle_parts.
func (r *Repository) RecomputeRelatedCount(ctx context.Context, partID int) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.RecomputeRelatedCount")
	defer span.End()

	query := `
		UPDATE parts
		SET related_vehicles_count = (
			SELECT COUNT(*) FROM vehicle_parts
			WHERE part_id = $1 AND vehicle_id IS NOT NULL
		),
		fecha_actualizacion = $2
		WHERE id = $1
		RETURNING related_vehicles_count
	`

	var count int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &count, query, partID, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID}).Error("Failed to recompute related vehicles count")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update part")
	}
	return count, nil
}

// SetActive writes the activation flag only when it changes. Returns whether
// a write happened so the caller can emit activation events precisely.
func (r *Repository) SetActive(ctx context.Context, partID int, active bool) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.SetActive")
	defer span.End()

	query := "UPDATE parts SET activo = $2, fecha_actualizacion = $3 WHERE id = $1 AND activo <> $2"
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, partID, active, time.Now().UTC())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID, "active": active}).Error("Failed to set part activation")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update part")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// List retrieves parts with filtering and pagination.
func (r *Repository) List(ctx context.Context, filter models.PartFilter, page, pageSize int) (*models.PartListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("parts")
	countWhere := filterConditions(countSb, filter)
	if len(countWhere) > 0 {
		countSb.Where(countWhere...)
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count parts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count parts")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("parts")
	where := filterConditions(sb, filter)
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("fecha_actualizacion DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var parts []models.Part
	if err := r.db.SelectContext(ctx, &parts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list parts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list parts")
	}

	return &models.PartListResponse{
		Items:      parts,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

func filterConditions(sb *sqlbuilder.SelectBuilder, filter models.PartFilter) []string {
	var where []string
	if filter.Familia != nil {
		where = append(where, sb.ILike("descripcion_familia", strings.TrimSpace(*filter.Familia)))
	}
	if filter.VehicleMarca != nil {
		where = append(where, sb.ILike("vehicle_marca", strings.TrimSpace(*filter.VehicleMarca)))
	}
	if filter.VehicleModelo != nil {
		where = append(where, sb.ILike("vehicle_modelo", strings.TrimSpace(*filter.VehicleModelo)))
	}
	if filter.ActiveOnly {
		where = append(where, "activo")
	}
	return where
}

// ListMissingVehicleData returns active parts that carry a positive vehicle
// reference but no copied vehicle descriptors. Input for the repair sweep.
func (r *Repository) ListMissingVehicleData(ctx context.Context, limit int) ([]models.Part, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.ListMissingVehicleData")
	defer span.End()

	query := `
		SELECT ` + columns + `
		FROM parts
		WHERE activo
		  AND id_vehiculo <> 0
		  AND id_vehiculo <> -1
		  AND (vehicle_marca = '' OR vehicle_modelo = '')
		ORDER BY id
		LIMIT $1
	`

	var parts []models.Part
	if err := r.db.SelectContext(ctx, &parts, query, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list parts missing vehicle data")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list parts")
	}
	return parts, nil
}

// CountActive returns the number of active parts. Used by import stats.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "part.Repository.CountActive")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM parts WHERE activo"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count active parts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count parts")
	}
	return count, nil
}
