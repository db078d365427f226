package server

import (
	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Association routes
	apiRoutes.POST("/associate", routes.AssociateHandler)

	// Track routes
	apiRoutes.GET("/tracks", routes.GetTracksHandler)
	apiRoutes.GET("/tracks/:id", routes.GetTrackHandler)
	apiRoutes.POST("/tracks/:id/reconcile", routes.ReconcileTrackHandler)
	apiRoutes.DELETE("/tracks/:id", routes.DeleteTrackHandler)

	// Topology routes
	apiRoutes.GET("/topology", routes.GetTopologyHandler)
	apiRoutes.POST("/topology", routes.ReplaceTopologyHandler)

	// Analytics routes
	apiRoutes.GET("/analytics", routes.GetAnalyticsHandler)
}
