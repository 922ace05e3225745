package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/maintkg/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/maintkg/backend/internal/server/util"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

func asOfParam(c echo.Context) (int64, bool) {
	raw := c.QueryParam("as_of")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// GetGraphHandler returns the graph as of the as_of query parameter, or the
// latest version.
func GetGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	asOf, ok := asOfParam(c)
	if !ok {
		return util.BadRequest(c, "as_of must be a non-negative version")
	}
	includeRetracted := c.QueryParam("include_retracted") == "true"

	g, err := app.Engine.Graph(asOf, includeRetracted)
	if err != nil {
		return util.Error(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func GetNodeHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	asOf, ok := asOfParam(c)
	if !ok {
		return util.BadRequest(c, "as_of must be a non-negative version")
	}

	n, found, err := app.Engine.Node(asOf, c.Param("id"))
	if err != nil {
		return util.Error(c, err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "node not found"})
	}
	return c.JSON(http.StatusOK, n)
}

// SearchEntitiesHandler lists the active nodes matching the q parameter,
// optionally restricted to one entity type.
func SearchEntitiesHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	text := c.QueryParam("q")
	if text == "" {
		return util.BadRequest(c, "q is required")
	}
	return c.JSON(http.StatusOK, app.Engine.Match(common.EntityType(c.QueryParam("type")), text))
}
