package synccontrol

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/database"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

const columns = "id, type, last_sync_date, last_id, records_processed, active, updated_at"

// Repository handles incremental sync state persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new sync control repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the sync state for an import type. Returns nil, nil when no
// state exists yet, which callers treat as "full import required".
func (r *Repository) Get(ctx context.Context, importType string) (*models.SyncControl, error) {
	ctx, span := tracing.StartSpan(ctx, "synccontrol.Repository.Get")
	defer span.End()

	query := "SELECT " + columns + " FROM sync_control WHERE type = $1"
	var state models.SyncControl
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &state, query, importType); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": importType}).Error("Failed to get sync state")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync state")
	}
	return &state, nil
}

// Record upserts the sync state after a completed run.
func (r *Repository) Record(ctx context.Context, importType string, syncDate time.Time, lastID, recordsProcessed int) error {
	ctx, span := tracing.StartSpan(ctx, "synccontrol.Repository.Record")
	defer span.End()

	query := `
		INSERT INTO sync_control (type, last_sync_date, last_id, records_processed, active, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (type) DO UPDATE SET
			last_sync_date    = EXCLUDED.last_sync_date,
			last_id           = EXCLUDED.last_id,
			records_processed = EXCLUDED.records_processed,
			active            = TRUE,
			updated_at        = EXCLUDED.updated_at
	`

	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, importType, syncDate, lastID, recordsProcessed, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": importType}).Error("Failed to record sync state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record sync state")
	}
	return nil
}

// Reset clears the incremental state so the next run starts from scratch.
// Full imports call this before paging.
func (r *Repository) Reset(ctx context.Context, importType string) error {
	ctx, span := tracing.StartSpan(ctx, "synccontrol.Repository.Reset")
	defer span.End()

	query := `
		INSERT INTO sync_control (type, last_sync_date, last_id, records_processed, active, updated_at)
		VALUES ($1, NULL, 0, 0, TRUE, $2)
		ON CONFLICT (type) DO UPDATE SET
			last_sync_date = NULL,
			last_id        = 0,
			updated_at     = EXCLUDED.updated_at
	`

	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, importType, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": importType}).Error("Failed to reset sync state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reset sync state")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"type": importType}).Info("Reset sync state")
	return nil
}
