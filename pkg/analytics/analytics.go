// Package analytics derives aggregate indicators over the stored track
// population. Figures are recomputed from the store on every request
// rather than maintained incrementally, so they are always consistent
// with the tracks they summarize.
package analytics

import (
	"context"
	"math"

	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/track"
)

// Summary is one snapshot of the track population.
type Summary struct {
	TotalTracks         int     `json:"total_tracks"`
	AvgConfidence       float64 `json:"avg_confidence"`
	MinConfidence       float64 `json:"min_confidence"`
	MaxConfidence       float64 `json:"max_confidence"`
	HighConfidenceCount int     `json:"high_confidence_count"`
	NeedsReviewCount    int     `json:"needs_review_count"`
	AvgLinksPerTrack    float64 `json:"avg_links_per_track"`
}

type Aggregator struct {
	storage       store.TrackStorage
	highThreshold float64
}

// NewAggregator creates an aggregator over the given store. highThreshold
// is the confidence at or above which a track counts as high-confidence;
// it matches the engine's active-status threshold.
func NewAggregator(storage store.TrackStorage, highThreshold float64) *Aggregator {
	return &Aggregator{storage: storage, highThreshold: highThreshold}
}

// Summarize computes the current indicators. An empty store yields the
// zero summary.
func (a *Aggregator) Summarize(ctx context.Context) (Summary, error) {
	tracks, err := a.storage.ListTracks(ctx, store.ListFilter{})
	if err != nil {
		return Summary{}, err
	}
	if len(tracks) == 0 {
		return Summary{}, nil
	}

	sum := Summary{
		TotalTracks:   len(tracks),
		MinConfidence: math.Inf(1),
		MaxConfidence: math.Inf(-1),
	}
	var confTotal float64
	var linkTotal int
	for _, t := range tracks {
		confTotal += t.Confidence
		linkTotal += len(t.Links)
		sum.MinConfidence = math.Min(sum.MinConfidence, t.Confidence)
		sum.MaxConfidence = math.Max(sum.MaxConfidence, t.Confidence)
		if t.Confidence >= a.highThreshold {
			sum.HighConfidenceCount++
		}
		if t.Status == track.StatusNeedsReview {
			sum.NeedsReviewCount++
		}
	}
	sum.AvgConfidence = confTotal / float64(len(tracks))
	sum.AvgLinksPerTrack = float64(linkTotal) / float64(len(tracks))
	return sum, nil
}
