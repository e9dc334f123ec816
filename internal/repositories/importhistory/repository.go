package importhistory

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

const columns = "id, type, status, progress, processing_item, total_items, processed_items, new_items, updated_items, items_deactivated, errors, error_count, is_full_import, can_resume, last_id, start_time, end_time, last_updated"

// Repository handles import run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new import history repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Start creates a new run in running state and returns it.
func (r *Repository) Start(ctx context.Context, importType string, isFullImport bool) (*models.ImportHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "importhistory.Repository.Start")
	defer span.End()

	now := time.Now().UTC()
	query := `
		INSERT INTO import_history (type, status, is_full_import, errors, start_time, last_updated)
		VALUES ($1, $2, $3, '{}', $4, $4)
		RETURNING ` + columns

	var run models.ImportHistory
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &run, query, importType, models.ImportStatusRunning, isFullImport, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": importType}).Error("Failed to start import run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start import run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": run.ID, "type": importType, "full": isFullImport}).Info("Started import run")
	return &run, nil
}

// Get retrieves a run by id.
func (r *Repository) Get(ctx context.Context, id int) (*models.ImportHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "importhistory.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("import_history")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.ImportHistory
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "import run %d not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get import run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import run")
	}
	return &run, nil
}

// RecordProgress folds one page's deltas into the run row. Errors are
// appended up to the cap; error_count keeps counting past it.
func (r *Repository) RecordProgress(ctx context.Context, id int, delta models.ImportProgress) error {
	ctx, span := tracing.StartSpan(ctx, "importhistory.Repository.RecordProgress")
	defer span.End()

	query := `
		UPDATE import_history
		SET total_items      = GREATEST(total_items, $2),
		    processed_items  = processed_items + $3,
		    new_items        = new_items + $4,
		    updated_items    = updated_items + $5,
		    errors           = (errors || $6::text[])[1:$7],
		    error_count      = error_count + $8,
		    last_id          = $9,
		    processing_item  = $10,
		    progress         = CASE WHEN GREATEST(total_items, $2) > 0
		                            THEN LEAST(100, (processed_items + $3) * 100 / GREATEST(total_items, $2))
		                            ELSE progress END,
		    last_updated     = $11
		WHERE id = $1
	`

	_, err := database.FromContext(ctx, r.db).ExecContext(ctx, query,
		id, delta.TotalItems, delta.ProcessedItems, delta.NewItems, delta.UpdatedItems,
		pq.Array(delta.Errors), models.MaxImportErrors, len(delta.Errors),
		delta.LastID, delta.ProcessingItem, time.Now().UTC(),
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to record import progress")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record progress")
	}
	return nil
}

// Finish closes the run with a terminal status.
func (r *Repository) Finish(ctx context.Context, id int, status string, itemsDeactivated int) error {
	ctx, span := tracing.StartSpan(ctx, "importhistory.Repository.Finish")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("import_history")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("items_deactivated", itemsDeactivated),
		ub.Assign("end_time", now),
		ub.Assign("last_updated", now),
		ub.Assign("processing_item", ""),
		ub.Assign("progress", 100),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "status": status}).Error("Failed to finish import run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish import run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "status": status}).Info("Finished import run")
	return nil
}

// HasRunning reports whether a run of the given type is still in flight.
// The scheduler uses this as its single-flight guard.
func (r *Repository) HasRunning(ctx context.Context, importType string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "importhistory.Repository.HasRunning")
	defer span.End()

	query := "SELECT EXISTS (SELECT 1 FROM import_history WHERE type = $1 AND status = $2)"
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, importType, models.ImportStatusRunning); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": importType}).Error("Failed to check running imports")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check running imports")
	}
	return exists, nil
}

// List retrieves runs newest first with pagination.
func (r *Repository) List(ctx context.Context, importType *string, page, pageSize int) (*models.ImportHistoryListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "importhistory.Repository.List")
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
	countSb.From("import_history")
	if importType != nil {
		countSb.Where(countSb.Equal("type", *importType))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count import runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count import runs")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("import_history")
	if importType != nil {
		sb.Where(sb.Equal("type", *importType))
	}
	sb.OrderBy("start_time DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var runs []models.ImportHistory
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list import runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import runs")
	}

	return &models.ImportHistoryListResponse{
		Items:      runs,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}
