package apiconfig

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

const columns = "id, api_key, company_id, channel, active, created_at, updated_at"

// Repository handles supplier credential persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new api config repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetActive returns the active credential row, or nil, nil when none has
// been configured and environment defaults apply.
func (r *Repository) GetActive(ctx context.Context) (*models.APIConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "apiconfig.Repository.GetActive")
	defer span.End()

	query := "SELECT " + columns + " FROM api_config WHERE active ORDER BY updated_at DESC LIMIT 1"
	var config models.APIConfig
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &config, query); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active api config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get api config")
	}
	return &config, nil
}

// Replace deactivates any previous credentials and stores the new row.
func (r *Repository) Replace(ctx context.Context, req models.UpdateAPIConfigRequest) (*models.APIConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "apiconfig.Repository.Replace")
	defer span.End()

	var config models.APIConfig
	err := database.WithTransaction(ctx, r.db, func(ctx context.Context, tx database.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE api_config SET active = FALSE, updated_at = $1 WHERE active", time.Now().UTC()); err != nil {
			return err
		}

		query := `
			INSERT INTO api_config (api_key, company_id, channel, active)
			VALUES ($1, $2, $3, TRUE)
			RETURNING ` + columns
		return tx.GetContext(ctx, &config, query, req.APIKey, req.CompanyID, req.Channel)
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to replace api config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace api config")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"company_id": config.CompanyID}).Info("Replaced api config")
	return &config, nil
}
