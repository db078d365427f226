package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/track"
)

func GetTracksHandler(c echo.Context) error {
	type getTracksQuery struct {
		Status     string `query:"status"`
		LocationID string `query:"location_id"`
	}

	type getTracksResponse struct {
		Message string        `json:"message,omitempty"`
		Tracks  []track.Track `json:"tracks"`
	}

	params := new(getTracksQuery)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getTracksResponse{
			Message: "Invalid query parameters",
		})
	}

	filter := store.ListFilter{LocationID: params.LocationID}
	if params.Status != "" {
		status := track.Status(params.Status)
		if !status.Valid() {
			return c.JSON(http.StatusBadRequest, getTracksResponse{
				Message: "Unknown status filter",
			})
		}
		filter.Status = status
	}

	app := c.(*middleware.AppContext).App
	tracks, err := app.Storage.ListTracks(c.Request().Context(), filter)
	if err != nil {
		logger.Error("Failed to list tracks", "err", err)
		return c.JSON(http.StatusInternalServerError, getTracksResponse{
			Message: "Internal server error",
		})
	}
	if tracks == nil {
		tracks = []track.Track{}
	}

	return c.JSON(http.StatusOK, getTracksResponse{Tracks: tracks})
}
