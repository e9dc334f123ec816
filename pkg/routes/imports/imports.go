// Package imports exposes the admin surface for triggering and monitoring
// import runs.
package imports

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/recambia/recambia/internal/repositories/apiconfig"
	"github.com/recambia/recambia/internal/repositories/importhistory"
	"github.com/recambia/recambia/internal/repositories/vehiclepart"
	"github.com/recambia/recambia/pkg/importer"
	"github.com/recambia/recambia/pkg/models"
)

var validate = validator.New()

// Register registers import routes
func Register(g *echo.Group) {
	g.POST("/:type", StartImport)
	g.GET("", ListImports)
	g.GET("/:id", GetImport)
	g.POST("/reconcile", Reconcile)
	g.GET("/pending/stats", PendingStats)
	g.GET("/config", GetAPIConfig)
	g.PUT("/config", UpdateAPIConfig)
}

// StartImport triggers a vehicles, parts or all import run. The run executes
// in the background; the response carries the running ImportHistory row.
func StartImport(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.StartImportRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, orchestrator, err := ectoinject.GetContext[*importer.Orchestrator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "import service unavailable")
	}

	run, err := orchestrator.StartImport(ctx, c.Param("type"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, run)
}

// ListImports lists import runs newest first.
func ListImports(c echo.Context) error {
	ctx := c.Request().Context()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	var importType *string
	if t := c.QueryParam("type"); t != "" {
		importType = &t
	}

	ctx, repo, err := ectoinject.GetContext[*importhistory.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "import service unavailable")
	}

	runs, err := repo.List(ctx, importType, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, runs)
}

// GetImport returns one import run with its progress counters.
func GetImport(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid import id")
	}

	ctx, repo, err := ectoinject.GetContext[*importhistory.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "import service unavailable")
	}

	run, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, run)
}

// Reconcile runs one on-demand reconciliation pass plus the repair sweep.
func Reconcile(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, orchestrator, err := ectoinject.GetContext[*importer.Orchestrator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "import service unavailable")
	}

	promoted, repaired, err := orchestrator.Reconcile(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]int{
		"promoted_relations": promoted,
		"repaired_parts":     repaired,
	})
}

// PendingStats summarizes the unresolved relation backlog.
func PendingStats(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*vehiclepart.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "import service unavailable")
	}

	stats, err := repo.PendingStats(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, stats)
}

// GetAPIConfig returns the active supplier credentials with the key masked.
func GetAPIConfig(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*apiconfig.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "config service unavailable")
	}

	config, err := repo.GetActive(ctx)
	if err != nil {
		return err
	}
	if config == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "no supplier credentials configured")
	}

	config.APIKey = mask(config.APIKey)
	return c.JSON(http.StatusOK, config)
}

// UpdateAPIConfig replaces the supplier credentials.
func UpdateAPIConfig(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.UpdateAPIConfigRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid api config: %v", err)
	}

	ctx, repo, err := ectoinject.GetContext[*apiconfig.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "config service unavailable")
	}

	config, err := repo.Replace(ctx, req)
	if err != nil {
		return err
	}

	config.APIKey = mask(config.APIKey)
	return c.JSON(http.StatusOK, config)
}

func mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
