package vehicle

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

const columns = "id, id_local, id_empresa, descripcion, marca, modelo, version, anyo, combustible, bastidor, matricula, color, kilometraje, potencia, puertas, imagenes, activo, sincronizado, ultima_sincronizacion, fecha_creacion, fecha_actualizacion"

// Repository handles vehicle persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new vehicle repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a vehicle by internal id, with part counts.
func (r *Repository) Get(ctx context.Context, id int) (*models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.Get")
	defer span.End()

	query := `
		SELECT ` + columns + `,
		       (SELECT COUNT(*) FROM vehicle_parts vp JOIN parts p ON p.id = vp.part_id WHERE vp.vehicle_id = vehicles.id AND p.activo) AS active_parts_count,
		       (SELECT COUNT(*) FROM vehicle_parts vp WHERE vp.vehicle_id = vehicles.id) AS total_parts_count
		FROM vehicles
		WHERE id = $1
	`

	var vehicle models.Vehicle
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &vehicle, query, id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "vehicle %d not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get vehicle")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get vehicle")
	}
	return &vehicle, nil
}

// GetByIDLocal retrieves a vehicle by its supplier natural key. Returns
// nil, nil on a miss so resolution code can branch without error plumbing.
func (r *Repository) GetByIDLocal(ctx context.Context, idLocal int) (*models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.GetByIDLocal")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("vehicles")
	sb.Where(sb.Equal("id_local", idLocal))
	sb.Limit(1)

	query, args := sb.Build()
	var vehicle models.Vehicle
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &vehicle, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id_local": idLocal}).Error("Failed to get vehicle by id_local")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get vehicle")
	}
	return &vehicle, nil
}

// ListByIDLocals retrieves vehicles for a set of natural keys. Callers chunk
// the input; this runs a single IN query.
func (r *Repository) ListByIDLocals(ctx context.Context, idLocals []int) ([]models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.ListByIDLocals")
	defer span.End()

	if len(idLocals) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("vehicles")
	sb.Where(sb.In("id_local", sqlbuilder.Flatten(idLocals)...))

	query, args := sb.Build()
	var vehicles []models.Vehicle
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &vehicles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(idLocals)}).Error("Failed to list vehicles by id_local")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vehicles")
	}
	return vehicles, nil
}

// ListByVersionCode returns vehicles whose normalized version code equals the
// given code. Used by the exact-match branch of the heuristic matcher.
func (r *Repository) ListByVersionCode(ctx context.Context, code string) ([]models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.ListByVersionCode")
	defer span.End()

	query := `
		SELECT ` + columns + `
		FROM vehicles
		WHERE UPPER(REPLACE(version, ' ', '')) = $1
		  AND activo
	`

	var vehicles []models.Vehicle
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &vehicles, query, code); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"code": code}).Error("Failed to list vehicles by version code")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vehicles")
	}
	return vehicles, nil
}

// ListByVersionPrefix returns active vehicles whose normalized version code
// starts with the given prefix, capped at limit.
func (r *Repository) ListByVersionPrefix(ctx context.Context, prefix string, limit int) ([]models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.ListByVersionPrefix")
	defer span.End()

	query := `
		SELECT ` + columns + `
		FROM vehicles
		WHERE UPPER(REPLACE(version, ' ', '')) LIKE $1
		  AND activo
		LIMIT $2
	`

	var vehicles []models.Vehicle
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &vehicles, query, prefix+"%", limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"prefix": prefix}).Error("Failed to list vehicles by version prefix")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vehicles")
	}
	return vehicles, nil
}

// InsertBatch bulk-inserts vehicles and returns them with assigned ids, in
// insertion order. Runs inside the caller's context transaction.
func (r *Repository) InsertBatch(ctx context.Context, vehicles []models.Vehicle) ([]models.Vehicle, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.InsertBatch")
	defer span.End()

	if len(vehicles) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("vehicles")
	ib.Cols("id_local", "id_empresa", "descripcion", "marca", "modelo", "version", "anyo", "combustible", "bastidor", "matricula", "color", "kilometraje", "potencia", "puertas", "imagenes", "activo", "sincronizado", "ultima_sincronizacion")
	for _, v := range vehicles {
		ib.Values(v.IDLocal, v.IDEmpresa, v.Descripcion, v.Marca, v.Modelo, v.Version, v.Anyo, v.Combustible, v.Bastidor, v.Matricula, v.Color, v.Kilometraje, v.Potencia, v.Puertas, pq.Array(v.Imagenes), v.Activo, v.Sincronizado, now)
	}

	query, args := ib.Build()
	query += " RETURNING id, id_local"

	rows, err := database.FromContext(ctx, r.db).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(vehicles)}).Error("Failed to insert vehicles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert vehicles")
	}
	defer rows.Close()

	ids := make(map[int]int, len(vehicles))
	for rows.Next() {
		var id, idLocal int
		if err := rows.Scan(&id, &idLocal); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to scan inserted vehicle")
		}
		ids[idLocal] = id
	}
	if err := rows.Err(); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read inserted vehicles")
	}

	inserted := make([]models.Vehicle, len(vehicles))
	copy(inserted, vehicles)
	for i := range inserted {
		inserted[i].ID = ids[inserted[i].IDLocal]
		inserted[i].UltimaSincronizacion = now
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(inserted)}).Info("Inserted vehicles")
	return inserted, nil
}

// Update overwrites the supplier-owned fields of an existing vehicle, keyed
// by id_local.
func (r *Repository) Update(ctx context.Context, v *models.Vehicle) error {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("vehicles")
	ub.Set(
		ub.Assign("id_empresa", v.IDEmpresa),
		ub.Assign("descripcion", v.Descripcion),
		ub.Assign("marca", v.Marca),
		ub.Assign("modelo", v.Modelo),
		ub.Assign("version", v.Version),
		ub.Assign("anyo", v.Anyo),
		ub.Assign("combustible", v.Combustible),
		ub.Assign("bastidor", v.Bastidor),
		ub.Assign("matricula", v.Matricula),
		ub.Assign("color", v.Color),
		ub.Assign("kilometraje", v.Kilometraje),
		ub.Assign("potencia", v.Potencia),
		ub.Assign("puertas", v.Puertas),
		ub.Assign("imagenes", pq.Array(v.Imagenes)),
		ub.Assign("activo", v.Activo),
		ub.Assign("sincronizado", v.Sincronizado),
		ub.Assign("ultima_sincronizacion", now),
		ub.Assign("fecha_actualizacion", now),
	)
	ub.Where(ub.Equal("id_local", v.IDLocal))

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id_local": v.IDLocal}).Error("Failed to update vehicle")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update vehicle")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("vehicle with id_local %d not found", v.IDLocal))
	}
	return nil
}

// List retrieves vehicles with filtering and pagination, including per-vehicle
// part counts for the catalog surface.
func (r *Repository) List(ctx context.Context, filter models.VehicleFilter, page, pageSize int) (*models.VehicleListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.List")
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
	countSb.From("vehicles")
	countWhere := filterConditions(countSb, filter)
	if len(countWhere) > 0 {
		countSb.Where(countWhere...)
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count vehicles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count vehicles")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns,
		"(SELECT COUNT(*) FROM vehicle_parts vp JOIN parts p ON p.id = vp.part_id WHERE vp.vehicle_id = vehicles.id AND p.activo) AS active_parts_count",
		"(SELECT COUNT(*) FROM vehicle_parts vp WHERE vp.vehicle_id = vehicles.id) AS total_parts_count",
	)
	sb.From("vehicles")
	where := filterConditions(sb, filter)
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("fecha_actualizacion DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var vehicles []models.Vehicle
	if err := r.db.SelectContext(ctx, &vehicles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list vehicles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list vehicles")
	}

	return &models.VehicleListResponse{
		Items:      vehicles,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

func filterConditions(sb *sqlbuilder.SelectBuilder, filter models.VehicleFilter) []string {
	var where []string
	if filter.Marca != nil {
		where = append(where, sb.ILike("marca", strings.TrimSpace(*filter.Marca)))
	}
	if filter.Modelo != nil {
		where = append(where, sb.ILike("modelo", strings.TrimSpace(*filter.Modelo)))
	}
	if filter.Anyo != nil {
		where = append(where, sb.Equal("anyo", *filter.Anyo))
	}
	if filter.ActiveOnly {
		where = append(where, "activo")
	}
	return where
}

// DeactivateAbsent flips activo off for active vehicles that were not touched
// by the current full import. Returns the number of vehicles deactivated.
func (r *Repository) DeactivateAbsent(ctx context.Context, importStart time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.DeactivateAbsent")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("vehicles")
	ub.Set(
		ub.Assign("activo", false),
		ub.Assign("fecha_actualizacion", now),
	)
	ub.Where(
		"activo",
		ub.LessThan("ultima_sincronizacion", importStart),
	)

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to deactivate absent vehicles")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate vehicles")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"count": rows}).Info("Deactivated vehicles absent from full import")
	}
	return rows, nil
}

// CountActive returns the number of active vehicles. Used by import stats.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "vehicle.Repository.CountActive")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM vehicles WHERE activo"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count active vehicles")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count vehicles")
	}
	return count, nil
}
