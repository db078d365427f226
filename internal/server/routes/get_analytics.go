package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/analytics"
	"github.com/meditrack/backend/pkg/logger"
)

func GetAnalyticsHandler(c echo.Context) error {
	type getAnalyticsResponse struct {
		Message string             `json:"message,omitempty"`
		Summary *analytics.Summary `json:"summary,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	summary, err := app.Aggregator.Summarize(c.Request().Context())
	if err != nil {
		logger.Error("Failed to compute analytics", "err", err)
		return c.JSON(http.StatusInternalServerError, getAnalyticsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getAnalyticsResponse{Summary: &summary})
}
