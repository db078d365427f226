package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/topology"
)

func GetTopologyHandler(c echo.Context) error {
	type getTopologyResponse struct {
		Locations   []topology.Node `json:"locations"`
		Adjacencies []topology.Edge `json:"adjacencies"`
	}

	app := c.(*middleware.AppContext).App
	nodes, edges := app.Topology.Snapshot()

	return c.JSON(http.StatusOK, getTopologyResponse{
		Locations:   nodes,
		Adjacencies: edges,
	})
}
