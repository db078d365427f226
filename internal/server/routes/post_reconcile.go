package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/track"
)

// ReconcileTrackHandler applies a human decision to a track awaiting
// review. Version carries the optimistic-concurrency check: when the
// client omits it, the decision applies to whatever version is current.
func ReconcileTrackHandler(c echo.Context) error {
	type reconcileRequest struct {
		ID      string `param:"id" validate:"required"`
		Action  string `json:"action" validate:"required"`
		Version *int64 `json:"version"`
	}

	type reconcileResponse struct {
		Message string       `json:"message"`
		Track   *track.Track `json:"track,omitempty"`
	}

	data := new(reconcileRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, reconcileResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, reconcileResponse{
			Message: "Invalid request body",
		})
	}

	action := track.Action(data.Action)
	if !action.Valid() {
		return c.JSON(http.StatusBadRequest, reconcileResponse{
			Message: "Unknown action, expected confirm or flag",
		})
	}

	expectedVersion := int64(-1)
	if data.Version != nil {
		expectedVersion = *data.Version
	}

	app := c.(*middleware.AppContext).App
	t, err := app.Storage.Reconcile(c.Request().Context(), data.ID, action, expectedVersion)
	if err != nil {
		switch {
		case errors.Is(err, track.ErrTrackNotFound):
			return c.JSON(http.StatusNotFound, reconcileResponse{
				Message: "Track not found",
			})
		case errors.Is(err, track.ErrConcurrentModification):
			return c.JSON(http.StatusConflict, reconcileResponse{
				Message: err.Error(),
			})
		case errors.Is(err, track.ErrInvalidTransition):
			return c.JSON(http.StatusConflict, reconcileResponse{
				Message: err.Error(),
			})
		}
		logger.Error("Failed to reconcile track", "track_id", data.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, reconcileResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, reconcileResponse{
		Message: "Decision applied",
		Track:   &t,
	})
}
