package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomid "github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/meditrack/backend/internal/queue"
	mid "github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/internal/util"
	"github.com/meditrack/backend/pkg/analytics"
	"github.com/meditrack/backend/pkg/engine"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/store/memory"
	pgxstore "github.com/meditrack/backend/pkg/store/pgx"
	"github.com/meditrack/backend/pkg/topology"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// EngineOptionsFromEnv reads association tuning from the environment, with
// the documented defaults filling every gap.
func EngineOptionsFromEnv() engine.Options {
	d := engine.DefaultOptions()
	return engine.Options{
		AssumedMaxSpeed:         util.GetEnvNumeric("ASSUMED_MAX_SPEED", d.AssumedMaxSpeed),
		SurgeSpeedFactor:        util.GetEnvNumeric("SURGE_SPEED_FACTOR", d.SurgeSpeedFactor),
		HighConfidenceThreshold: util.GetEnvNumeric("HIGH_CONFIDENCE_THRESHOLD", d.HighConfidenceThreshold),
		NonAdjacentCeiling:      util.GetEnvNumeric("NON_ADJACENT_CEILING", d.NonAdjacentCeiling),
		ImplausibleFloor:        util.GetEnvNumeric("IMPLAUSIBLE_FLOOR", d.ImplausibleFloor),
	}
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topo := topology.New()
	topoLoaded := false

	var storage store.TrackStorage
	var conn *pgxpool.Pool
	if util.GetEnvString("STORE", "memory") == "postgres" {
		databaseURL := util.GetEnv("DATABASE_URL")
		runMigrations(databaseURL)

		var err error
		conn, err = pgxpool.New(ctx, databaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		defer conn.Close()

		dbStore := pgxstore.NewTrackDBStorageWithConnection(conn)
		storage = dbStore

		nodes, edges, err := dbStore.LoadTopology(ctx)
		if err != nil {
			logger.Fatal("Failed to load topology from database", "err", err)
		}
		if len(nodes) > 0 {
			if err := topo.Load(nodes, edges); err != nil {
				logger.Fatal("Stored topology is invalid", "err", err)
			}
			topoLoaded = true
			logger.Info("Loaded topology from database", "locations", len(nodes), "adjacencies", len(edges))
		}
	} else {
		storage = memory.NewMemoryStorage()
	}

	if !topoLoaded {
		path := util.GetEnvString("TOPOLOGY_PATH", "config/topology.yaml")
		nodes, edges, err := topology.LoadFile(path)
		if err != nil {
			logger.Fatal("Failed to read topology file", "path", path, "err", err)
		}
		if err := topo.Load(nodes, edges); err != nil {
			logger.Fatal("Topology file is invalid", "path", path, "err", err)
		}
		logger.Info("Loaded topology from file", "path", path, "locations", len(nodes), "adjacencies", len(edges))
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, []string{queue.AssociateQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	opts := EngineOptionsFromEnv()
	eng := engine.New(topo, opts)
	agg := analytics.NewAggregator(storage, opts.HighConfidenceThreshold)

	app := &mid.App{
		DBConn:       conn,
		Queue:        ch,
		Storage:      storage,
		Topology:     topo,
		Engine:       eng,
		Aggregator:   agg,
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(echomid.CORS())
	e.Use(echomid.RequestLogger())
	e.Use(echomid.Recover())

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// runMigrations brings the schema up to date before the pool connects.
// A database that is already current is not an error.
func runMigrations(databaseURL string) {
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		logger.Fatal("Failed to initialize migrations", "err", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	logger.Info("Database schema is up to date")
}
