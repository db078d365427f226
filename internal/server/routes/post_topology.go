package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/logger"
	pgxstore "github.com/meditrack/backend/pkg/store/pgx"
	"github.com/meditrack/backend/pkg/topology"
	"github.com/meditrack/backend/pkg/track"
)

// ReplaceTopologyHandler swaps in a new facility layout. The layout is
// validated and applied atomically; in-flight association runs finish on
// the graph they started with. With a database-backed store the layout is
// persisted so it survives restarts.
func ReplaceTopologyHandler(c echo.Context) error {
	type replaceTopologyRequest struct {
		Locations   []topology.Node `json:"locations" validate:"required"`
		Adjacencies []topology.Edge `json:"adjacencies"`
	}

	type replaceTopologyResponse struct {
		Message     string `json:"message"`
		Locations   int    `json:"locations,omitempty"`
		Adjacencies int    `json:"adjacencies,omitempty"`
	}

	data := new(replaceTopologyRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, replaceTopologyResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, replaceTopologyResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	if err := app.Topology.Load(data.Locations, data.Adjacencies); err != nil {
		if errors.Is(err, track.ErrInvalidTopology) {
			return c.JSON(http.StatusUnprocessableEntity, replaceTopologyResponse{
				Message: err.Error(),
			})
		}
		logger.Error("Failed to load topology", "err", err)
		return c.JSON(http.StatusInternalServerError, replaceTopologyResponse{
			Message: "Internal server error",
		})
	}

	if dbStore, ok := app.Storage.(*pgxstore.TrackDBStorage); ok {
		if err := dbStore.SaveTopology(c.Request().Context(), data.Locations, data.Adjacencies); err != nil {
			logger.Error("Failed to persist topology", "err", err)
			return c.JSON(http.StatusInternalServerError, replaceTopologyResponse{
				Message: "Topology applied but not persisted",
			})
		}
	}

	return c.JSON(http.StatusOK, replaceTopologyResponse{
		Message:     "Topology replaced",
		Locations:   len(data.Locations),
		Adjacencies: len(data.Adjacencies),
	})
}
