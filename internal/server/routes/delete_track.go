package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/track"
)

func DeleteTrackHandler(c echo.Context) error {
	type deleteTrackParams struct {
		ID string `param:"id" validate:"required"`
	}

	type deleteTrackResponse struct {
		Message string `json:"message"`
	}

	params := new(deleteTrackParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteTrackResponse{
			Message: "Invalid request",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteTrackResponse{
			Message: "Invalid request",
		})
	}

	app := c.(*middleware.AppContext).App
	if err := app.Storage.DeleteTrack(c.Request().Context(), params.ID); err != nil {
		if errors.Is(err, track.ErrTrackNotFound) {
			return c.JSON(http.StatusNotFound, deleteTrackResponse{
				Message: "Track not found",
			})
		}
		logger.Error("Failed to delete track", "track_id", params.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteTrackResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, deleteTrackResponse{
		Message: "Track deleted",
	})
}
