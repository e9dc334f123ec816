// Package vehicles exposes the public vehicle catalog.
package vehicles

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/recambia/recambia/internal/repositories/vehicle"
	"github.com/recambia/recambia/pkg/models"
)

// Register registers vehicle routes
func Register(g *echo.Group) {
	g.GET("", ListVehicles)
	g.GET("/:id", GetVehicle)
}

// ListVehicles lists vehicles with filters, pagination and part counts.
func ListVehicles(c echo.Context) error {
	ctx := c.Request().Context()

	var filter models.VehicleFilter
	if err := c.Bind(&filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid filters")
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*vehicle.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "catalog unavailable")
	}

	vehicles, err := repo.List(ctx, filter, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, vehicles)
}

// GetVehicle returns one vehicle with its part counts.
func GetVehicle(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid vehicle id")
	}

	ctx, repo, err := ectoinject.GetContext[*vehicle.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "catalog unavailable")
	}

	v, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, v)
}
