package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/meditrack/backend/internal/util"
	"github.com/meditrack/backend/pkg/engine"
	"github.com/meditrack/backend/pkg/logger"
	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/track"
)

// QueueAssociateMsg is one asynchronous association request. Detection
// batches arrive here when the ingestion side prefers fire-and-forget over
// the synchronous HTTP endpoint.
type QueueAssociateMsg struct {
	CorrelationID string            `json:"correlation_id"`
	Detections    []track.Detection `json:"detections"`
	Surge         bool              `json:"surge"`
}

// TrackEventMsg is published per stored track after a successful run.
type TrackEventMsg struct {
	CorrelationID string      `json:"correlation_id"`
	Track         track.Track `json:"track"`
}

// ProcessAssociateMessage runs one queued batch through association and
// persists the result. Input errors are logged and swallowed: a malformed
// or rejected batch will not get better on redelivery, so it must not loop
// through the retry queue.
func ProcessAssociateMessage(
	ctx context.Context,
	eng *engine.Engine,
	storage store.TrackStorage,
	ch *amqp091.Channel,
	msg string,
) error {
	data := new(QueueAssociateMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		logger.Error("[Queue] Discarding malformed associate message", "err", err)
		return nil
	}

	batch, err := track.NewBatch(data.Detections, data.Surge)
	if err != nil {
		logger.Error("[Queue] Discarding invalid batch", "correlation_id", data.CorrelationID, "err", err)
		return nil
	}

	tracks, err := eng.Associate(ctx, batch)
	if err != nil {
		if errors.Is(err, track.ErrUnknownLocation) {
			logger.Error("[Queue] Discarding batch with unknown location", "correlation_id", data.CorrelationID, "err", err)
			return nil
		}
		return err
	}

	// Overlapping runs can race on version checks for the same track;
	// a short retry resolves that without a round trip through the
	// retry queue.
	stored, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) ([]track.Track, error) {
		return storage.StoreBatch(ctx, tracks)
	})
	if err != nil {
		return err
	}
	logger.Info("[Queue] Stored association run", "correlation_id", data.CorrelationID, "tracks", len(stored))

	for _, t := range stored {
		event, err := json.Marshal(TrackEventMsg{
			CorrelationID: data.CorrelationID,
			Track:         t,
		})
		if err != nil {
			return err
		}
		if err := PublishTopic(ch, TrackEventsTopic, event); err != nil {
			logger.Warn("[Queue] Failed to publish track event", "track_id", t.ID, "err", err)
		}
	}

	return nil
}
