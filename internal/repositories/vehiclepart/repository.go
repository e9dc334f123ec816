package vehiclepart

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

const columns = "id, vehicle_id, part_id, id_vehiculo_original, fecha_creacion"

// Repository handles vehicle-part relation persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new vehicle-part repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateResolved records a resolved relation. A pending row for the same
// (part, supplier reference) pair is promoted in place rather than left to
// collide with the insert; when the pair is already resolved the stale
// pending row is dropped instead. Re-running for the same pair is a no-op.
func (r *Repository) CreateResolved(ctx context.Context, vehicleID, partID, idVehiculoOriginal int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.CreateResolved")
	defer span.End()

	exec := database.FromContext(ctx, r.db)
	log := r.logger.WithContext(ctx).WithFields(map[string]any{"vehicle_id": vehicleID, "part_id": partID})

	dropStale := `
		DELETE FROM vehicle_parts
		WHERE part_id = $2 AND id_vehiculo_original = $3 AND vehicle_id IS NULL
		  AND EXISTS (SELECT 1 FROM vehicle_parts WHERE vehicle_id = $1 AND part_id = $2)
	`
	if _, err := exec.ExecContext(ctx, dropStale, vehicleID, partID, idVehiculoOriginal); err != nil {
		log.WithError(err).Error("Failed to drop stale pending relation")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create relation")
	}

	promote := `
		UPDATE vehicle_parts SET vehicle_id = $1
		WHERE part_id = $2 AND id_vehiculo_original = $3 AND vehicle_id IS NULL
	`
	result, err := exec.ExecContext(ctx, promote, vehicleID, partID, idVehiculoOriginal)
	if err != nil {
		log.WithError(err).Error("Failed to promote pending relation in place")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create relation")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return true, nil
	}

	insert := `
		INSERT INTO vehicle_parts (vehicle_id, part_id, id_vehiculo_original, fecha_creacion)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vehicle_id, part_id) WHERE vehicle_id IS NOT NULL DO NOTHING
	`
	result, err = exec.ExecContext(ctx, insert, vehicleID, partID, idVehiculoOriginal, time.Now().UTC())
	if err != nil {
		log.WithError(err).Error("Failed to create resolved relation")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create relation")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// CreatePending inserts an unresolved relation keyed by the supplier's
// vehicle id. Duplicate pending rows for the same (part, original id) pair
// are absorbed by the unique constraint.
func (r *Repository) CreatePending(ctx context.Context, partID, idVehiculoOriginal int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.CreatePending")
	defer span.End()

	query := `
		INSERT INTO vehicle_parts (vehicle_id, part_id, id_vehiculo_original, fecha_creacion)
		VALUES (NULL, $1, $2, $3)
		ON CONFLICT (part_id, id_vehiculo_original) WHERE vehicle_id IS NULL DO NOTHING
	`

	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, partID, idVehiculoOriginal, time.Now().UTC())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID, "id_vehiculo_original": idVehiculoOriginal}).Error("Failed to create pending relation")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create relation")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Promote fills in the vehicle id of a pending relation in place. When the
// (vehicle, part) pair was already resolved through another path the pending
// row is redundant and gets deleted instead. Returns whether the row was
// promoted.
func (r *Repository) Promote(ctx context.Context, relationID, vehicleID int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.Promote")
	defer span.End()

	exec := database.FromContext(ctx, r.db)
	log := r.logger.WithContext(ctx).WithFields(map[string]any{"relation_id": relationID, "vehicle_id": vehicleID})

	query := `
		UPDATE vehicle_parts SET vehicle_id = $2
		WHERE id = $1 AND vehicle_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM vehicle_parts dup
			WHERE dup.vehicle_id = $2 AND dup.part_id = vehicle_parts.part_id
		  )
	`
	result, err := exec.ExecContext(ctx, query, relationID, vehicleID)
	if err != nil {
		log.WithError(err).Error("Failed to promote pending relation")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to promote relation")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return true, nil
	}

	cleanup := `
		DELETE FROM vehicle_parts
		WHERE id = $1 AND vehicle_id IS NULL
		  AND EXISTS (
			SELECT 1 FROM vehicle_parts dup
			WHERE dup.vehicle_id = $2 AND dup.part_id = vehicle_parts.part_id
		  )
	`
	if _, err := exec.ExecContext(ctx, cleanup, relationID, vehicleID); err != nil {
		log.WithError(err).Error("Failed to clean up duplicate pending relation")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to promote relation")
	}
	return false, nil
}

// ListPending returns unresolved relations ordered by the supplier vehicle
// id, so the reconciler can group lookups.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]models.VehiclePart, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.ListPending")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("vehicle_parts")
	sb.Where(sb.IsNull("vehicle_id"))
	sb.OrderBy("id_vehiculo_original", "id")
	sb.Limit(limit)

	query, args := sb.Build()
	var relations []models.VehiclePart
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &relations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending relations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relations")
	}
	return relations, nil
}

// ListByPart returns all relations for a part, resolved first.
func (r *Repository) ListByPart(ctx context.Context, partID int) ([]models.VehiclePart, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.ListByPart")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("vehicle_parts")
	sb.Where(sb.Equal("part_id", partID))
	sb.OrderBy("vehicle_id NULLS LAST", "id")

	query, args := sb.Build()
	var relations []models.VehiclePart
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &relations, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID}).Error("Failed to list relations by part")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relations")
	}
	return relations, nil
}

// HasResolved reports whether the part has at least one resolved relation.
func (r *Repository) HasResolved(ctx context.Context, partID int) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.HasResolved")
	defer span.End()

	query := "SELECT EXISTS (SELECT 1 FROM vehicle_parts WHERE part_id = $1 AND vehicle_id IS NOT NULL)"
	var exists bool
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &exists, query, partID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"part_id": partID}).Error("Failed to check resolved relations")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check relations")
	}
	return exists, nil
}

// PendingStats summarizes the unresolved backlog for the admin surface.
func (r *Repository) PendingStats(ctx context.Context) (*models.PendingRelationStats, error) {
	ctx, span := tracing.StartSpan(ctx, "vehiclepart.Repository.PendingStats")
	defer span.End()

	query := `
		SELECT COUNT(*)                            AS pending_relations,
		       COUNT(DISTINCT part_id)             AS pending_parts,
		       COUNT(DISTINCT id_vehiculo_original) AS distinct_vehicles
		FROM vehicle_parts
		WHERE vehicle_id IS NULL
	`

	var stats models.PendingRelationStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load pending relation stats")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load pending stats")
	}
	return &stats, nil
}
