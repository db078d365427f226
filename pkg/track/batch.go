package track

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NormalizeClass folds an equipment class label to its canonical form:
// lower-cased, with runs of whitespace collapsed to single underscores.
// "Crash Cart", "crash  cart" and "crash_cart" all normalize identically.
func NormalizeClass(label string) string {
	fields := strings.Fields(strings.ToLower(strings.ReplaceAll(label, "_", " ")))
	return strings.Join(fields, "_")
}

// Batch is the detection buffer for one association run: a validated,
// normalized set of detections plus the surge flag that relaxes
// feasibility thresholds during activity bursts.
type Batch struct {
	Detections []Detection
	Surge      bool
}

// NewBatch validates raw detections and builds a batch. Detection payloads
// arrive loosely typed from the detector service; anything malformed fails
// fast here with ErrInvalidDetection rather than propagating into the
// engine. Class labels are normalized, the order of the input is
// preserved.
func NewBatch(dets []Detection, surge bool) (Batch, error) {
	if len(dets) == 0 {
		return Batch{}, ErrEmptyBatch
	}
	out := make([]Detection, 0, len(dets))
	seen := make(map[int64]bool, len(dets))
	for _, d := range dets {
		if d.Class == "" {
			return Batch{}, fmt.Errorf("%w: detection %d has no class label", ErrInvalidDetection, d.ID)
		}
		if d.LocationID == "" {
			return Batch{}, fmt.Errorf("%w: detection %d has no location", ErrInvalidDetection, d.ID)
		}
		if d.Timestamp.IsZero() {
			return Batch{}, fmt.Errorf("%w: detection %d has no timestamp", ErrInvalidDetection, d.ID)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return Batch{}, fmt.Errorf("%w: detection %d confidence %.3f outside [0,1]", ErrInvalidDetection, d.ID, d.Confidence)
		}
		if seen[d.ID] {
			return Batch{}, fmt.Errorf("%w: duplicate detection id %d", ErrInvalidDetection, d.ID)
		}
		seen[d.ID] = true
		d.Class = NormalizeClass(d.Class)
		out = append(out, d)
	}
	return Batch{Detections: out, Surge: surge}, nil
}

// Window returns a copy of the batch restricted to detections with
// timestamps in [from, to]. A zero bound is open on that side. The caller
// applies the window before submitting the batch for association.
func (b Batch) Window(from, to time.Time) Batch {
	kept := make([]Detection, 0, len(b.Detections))
	for _, d := range b.Detections {
		if !from.IsZero() && d.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && d.Timestamp.After(to) {
			continue
		}
		kept = append(kept, d)
	}
	return Batch{Detections: kept, Surge: b.Surge}
}

// SortDetections orders detections by timestamp ascending, ties broken by
// detection identifier ascending. Association depends on this ordering
// being deterministic.
func SortDetections(dets []Detection) {
	sort.Slice(dets, func(i, j int) bool {
		if dets[i].Timestamp.Equal(dets[j].Timestamp) {
			return dets[i].ID < dets[j].ID
		}
		return dets[i].Timestamp.Before(dets[j].Timestamp)
	})
}
