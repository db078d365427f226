package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/track"
)

func GetTrackHandler(c echo.Context) error {
	type getTrackParams struct {
		ID string `param:"id" validate:"required"`
	}

	type getTrackResponse struct {
		Message string       `json:"message,omitempty"`
		Track   *track.Track `json:"track,omitempty"`
	}

	params := new(getTrackParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getTrackResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getTrackResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	t, err := app.Storage.GetTrack(c.Request().Context(), params.ID)
	if err != nil {
		if errors.Is(err, track.ErrTrackNotFound) {
			return c.JSON(http.StatusNotFound, getTrackResponse{
				Message: "Track not found",
			})
		}
		logger.Error("Failed to get track", "track_id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, getTrackResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getTrackResponse{Track: &t})
}
