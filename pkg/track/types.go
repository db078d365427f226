package track

import "time"

// Detection is one timestamped, located, confidence-scored sighting of an
// equipment class, as delivered by the external visual-understanding service.
// Detections are immutable inputs; a batch is handed wholesale to one
// association run.
type Detection struct {
	ID         int64     `json:"det_id"`
	Class      string    `json:"class"`
	LocationID string    `json:"location_id"`
	Timestamp  time.Time `json:"ts"`
	Confidence float64   `json:"score"`
}

// Link is one inferred location-to-location transition within a track.
// ExitTime is the last observation at the source location, EntryTime the
// first observation at the destination. Reasons is never empty: every link
// carries the human-readable evidence that supports or discounts it.
type Link struct {
	FromID     string    `json:"from_location_id"`
	ToID       string    `json:"to_location_id"`
	FromName   string    `json:"from_location_name,omitempty"`
	ToName     string    `json:"to_location_name,omitempty"`
	ExitTime   time.Time `json:"t_exit"`
	EntryTime  time.Time `json:"t_entry"`
	Confidence float64   `json:"confidence"`
	Flagged    bool      `json:"flagged,omitempty"`
	Reasons    []string  `json:"reasons"`
}

// Track is an inferred path of one equipment item through locations over
// time. Locations is the ordered visit sequence and always has
// len(Links)+1 entries; a single-sighting track has one location and no
// links. Confidence is derived (min over link confidences, or the weakest
// detection for a linkless track) and never set independently.
//
// Version is the last-modified marker used for the optimistic-concurrency
// check: reconciliation and merge writes must present the version they
// read, and fail with ErrConcurrentModification if it has moved on.
type Track struct {
	ID         string    `json:"track_id"`
	Class      string    `json:"class"`
	Links      []Link    `json:"links"`
	Locations  []string  `json:"locations"`
	Confidence float64   `json:"confidence"`
	Status     Status    `json:"status"`
	Reasons    []string  `json:"reasons,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Flagged reports whether any link or track-level reason discounts the
// inference. A flagged track never gets the active status, regardless of
// its aggregate confidence.
func (t *Track) Flagged() bool {
	if len(t.Reasons) > 0 {
		return true
	}
	for _, l := range t.Links {
		if l.Flagged {
			return true
		}
	}
	return false
}

// Overlaps reports whether the time span covered by t intersects
// [start, end]. Touching endpoints count as overlap.
func (t *Track) Overlaps(start, end time.Time) bool {
	return !t.StartTime.After(end) && !t.EndTime.Before(start)
}
