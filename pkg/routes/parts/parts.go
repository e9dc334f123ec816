// Package parts exposes the public part catalog.
package parts

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/recambia/recambia/internal/repositories/part"
	"github.com/recambia/recambia/internal/repositories/vehiclepart"
	"github.com/recambia/recambia/pkg/models"
)

// Register registers part routes
func Register(g *echo.Group) {
	g.GET("", ListParts)
	g.GET("/:id", GetPart)
	g.GET("/:id/vehicles", GetPartVehicles)
}

// ListParts lists parts with filters and pagination. The storefront passes
// active_only=true; the admin panel omits it to see the whole inventory.
func ListParts(c echo.Context) error {
	ctx := c.Request().Context()

	var filter models.PartFilter
	if err := c.Bind(&filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid filters")
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*part.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "catalog unavailable")
	}

	parts, err := repo.List(ctx, filter, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, parts)
}

// GetPart returns one part.
func GetPart(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid part id")
	}

	ctx, repo, err := ectoinject.GetContext[*part.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "catalog unavailable")
	}

	p, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, p)
}

// GetPartVehicles returns the vehicle relations of a part, resolved first.
func GetPartVehicles(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid part id")
	}

	ctx, repo, err := ectoinject.GetContext[*vehiclepart.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "catalog unavailable")
	}

	relations, err := repo.ListByPart(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, relations)
}
