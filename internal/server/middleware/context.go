package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/meditrack/backend/pkg/analytics"
	"github.com/meditrack/backend/pkg/engine"
	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/topology"
)

// App bundles the shared dependencies handlers reach through the request
// context. DBConn is nil when the in-memory store is configured.
type App struct {
	DBConn       *pgxpool.Pool
	Queue        *amqp091.Channel
	Storage      store.TrackStorage
	Topology     *topology.Graph
	Engine       *engine.Engine
	Aggregator   *analytics.Aggregator
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
