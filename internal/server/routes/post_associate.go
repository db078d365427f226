package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/meditrack/backend/internal/queue"
	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/track"
)

// AssociateHandler runs one association over a detection batch. With
// async=true the batch is queued for the worker instead and the response
// carries only the correlation id.
func AssociateHandler(c echo.Context) error {
	type associateRequest struct {
		Detections []track.Detection `json:"detections" validate:"required"`
		Surge      bool              `json:"surge"`
		From       time.Time         `json:"from"`
		To         time.Time         `json:"to"`
		Async      bool              `json:"async"`
	}

	type runStats struct {
		DetectionsIn int   `json:"detections_in"`
		Windowed     int   `json:"windowed"`
		TracksOut    int   `json:"tracks_out"`
		NeedsReview  int   `json:"needs_review"`
		DurationMs   int64 `json:"duration_ms"`
	}

	type associateResponse struct {
		Message       string        `json:"message"`
		CorrelationID string        `json:"correlation_id,omitempty"`
		Tracks        []track.Track `json:"tracks,omitempty"`
		Stats         *runStats     `json:"stats,omitempty"`
	}

	data := new(associateRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, associateResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, associateResponse{
			Message: "Invalid request body",
		})
	}

	batch, err := track.NewBatch(data.Detections, data.Surge)
	if err != nil {
		return c.JSON(http.StatusBadRequest, associateResponse{
			Message: err.Error(),
		})
	}
	batch = batch.Window(data.From, data.To)
	if len(batch.Detections) == 0 {
		return c.JSON(http.StatusBadRequest, associateResponse{
			Message: "time window excludes every detection",
		})
	}

	app := c.(*middleware.AppContext).App

	if data.Async {
		if app.Queue == nil {
			return c.JSON(http.StatusServiceUnavailable, associateResponse{
				Message: "Queue not configured",
			})
		}
		correlationID, err := gonanoid.New()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, associateResponse{
				Message: "Internal server error",
			})
		}
		msg, err := json.Marshal(queue.QueueAssociateMsg{
			CorrelationID: correlationID,
			Detections:    batch.Detections,
			Surge:         batch.Surge,
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, associateResponse{
				Message: "Internal server error",
			})
		}
		if err := queue.PublishFIFO(app.Queue, queue.AssociateQueue, msg); err != nil {
			logger.Error("Failed to publish to associate_queue", "err", err)
			return c.JSON(http.StatusInternalServerError, associateResponse{
				Message: "Internal server error",
			})
		}
		return c.JSON(http.StatusAccepted, associateResponse{
			Message:       "Batch queued",
			CorrelationID: correlationID,
		})
	}

	ctx := c.Request().Context()
	start := time.Now()

	tracks, err := app.Engine.Associate(ctx, batch)
	if err != nil {
		if errors.Is(err, track.ErrUnknownLocation) {
			return c.JSON(http.StatusUnprocessableEntity, associateResponse{
				Message: err.Error(),
			})
		}
		logger.Error("Association failed", "err", err)
		return c.JSON(http.StatusInternalServerError, associateResponse{
			Message: "Internal server error",
		})
	}

	stored, err := app.Storage.StoreBatch(ctx, tracks)
	if err != nil {
		logger.Error("Failed to store association run", "err", err)
		return c.JSON(http.StatusInternalServerError, associateResponse{
			Message: "Internal server error",
		})
	}

	if app.Queue != nil {
		for _, t := range stored {
			event, err := json.Marshal(queue.TrackEventMsg{Track: t})
			if err != nil {
				continue
			}
			if err := queue.PublishTopic(app.Queue, queue.TrackEventsTopic, event); err != nil {
				logger.Warn("Failed to publish track event", "track_id", t.ID, "err", err)
			}
		}
	}

	stats := runStats{
		DetectionsIn: len(data.Detections),
		Windowed:     len(batch.Detections),
		TracksOut:    len(stored),
		DurationMs:   time.Since(start).Milliseconds(),
	}
	for _, t := range stored {
		if t.Status == track.StatusNeedsReview {
			stats.NeedsReview++
		}
	}

	return c.JSON(http.StatusOK, associateResponse{
		Message: "Association completed",
		Tracks:  stored,
		Stats:   &stats,
	})
}
