// Package engine reconstructs equipment movement chains from detection
// batches. Detections are grouped per equipment class, ordered
// deterministically, and walked pairwise against the facility topology to
// form links with per-transition confidence and supporting reasons.
// Ambiguous same-class concurrent sightings split into separate tracks
// instead of being merged by guesswork.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meditrack/backend/internal/util"
	"github.com/meditrack/backend/pkg/topology"
	"github.com/meditrack/backend/pkg/track"
)

const (
	reasonAdjacent     = "adjacent locations"
	reasonNonAdjacent  = "non-adjacent jump"
	reasonImplausible  = "implausible transit time"
	reasonSimultaneous = "simultaneous conflicting observation"
	reasonSurge        = "surge mode: relaxed feasibility"
)

type Engine struct {
	topo *topology.Graph
	opts Options
}

func New(topo *topology.Graph, opts Options) *Engine {
	return &Engine{topo: topo, opts: opts.withDefaults()}
}

// Options returns the engine's effective tuning values.
func (e *Engine) Options() Options {
	return e.opts
}

// Associate runs one association over a batch and returns the resulting
// tracks, one set per equipment class. Classes are processed
// independently and concurrently; the output order is deterministic
// (classes sorted, tracks in chain order within a class).
//
// Fails with ErrEmptyBatch on zero detections and with ErrUnknownLocation
// when a detection references a location absent from the topology. No
// tracks are returned on failure.
func (e *Engine) Associate(ctx context.Context, batch track.Batch) ([]track.Track, error) {
	if len(batch.Detections) == 0 {
		return nil, track.ErrEmptyBatch
	}
	for _, d := range batch.Detections {
		if !e.topo.Contains(d.LocationID) {
			return nil, track.UnknownLocationError(d.LocationID)
		}
	}

	byClass := make(map[string][]track.Detection)
	for _, d := range batch.Detections {
		byClass[d.Class] = append(byClass[d.Class], d)
	}
	classes := make([]string, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	results := make([][]track.Track, len(classes))
	g, gctx := errgroup.WithContext(ctx)
	for i, class := range classes {
		g.Go(func() error {
			tracks, err := e.associateClass(gctx, class, byClass[class], batch.Surge)
			if err != nil {
				return err
			}
			results[i] = tracks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []track.Track
	for _, tracks := range results {
		out = append(out, tracks...)
	}
	return out, nil
}

// chain accumulates one candidate track while walking a class's
// detections.
type chain struct {
	class     string
	locations []string
	links     []track.Link
	detMin    float64
	reasons   []string
	start     time.Time
	end       time.Time
}

func (e *Engine) associateClass(ctx context.Context, class string, dets []track.Detection, surge bool) ([]track.Track, error) {
	track.SortDetections(dets)

	var tracks []track.Track
	cur := e.openChain(class, dets[0])
	prev := dets[0]

	for _, next := range dets[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if next.LocationID == prev.LocationID {
			// Dwell at the same location: the later sighting becomes the
			// exit basis, the weakest sighting bounds a linkless track.
			cur.detMin = math.Min(cur.detMin, next.Confidence)
			cur.end = next.Timestamp
			prev = next
			continue
		}

		elapsed := next.Timestamp.Sub(prev.Timestamp)
		dist, adjacent := e.topo.Distance(prev.LocationID, next.LocationID)

		if !adjacent && elapsed <= 0 {
			// Same-class sightings at the same instant in locations that
			// cannot be traversed: two items, not one. Split instead of
			// guessing.
			cur.reasons = append(cur.reasons, reasonSimultaneous)
			tracks = append(tracks, e.finalize(cur))
			cur = e.openChain(class, next)
			cur.reasons = append(cur.reasons, reasonSimultaneous)
			prev = next
			continue
		}

		if !adjacent && !surge && e.hasIntermediateExplanation(dets, prev, next) {
			// The batch itself explains the jump through an intermediate
			// sighting, so this pair does not belong to one chain.
			cur.reasons = append(cur.reasons,
				fmt.Sprintf("non-adjacent transition %s to %s left unlinked: intermediate sighting explains it",
					prev.LocationID, next.LocationID))
			tracks = append(tracks, e.finalize(cur))
			cur = e.openChain(class, next)
			prev = next
			continue
		}

		link := e.buildLink(prev, next, dist, adjacent, elapsed, surge)
		cur.links = append(cur.links, link)
		cur.locations = append(cur.locations, next.LocationID)
		cur.end = next.Timestamp
		prev = next
	}
	tracks = append(tracks, e.finalize(cur))
	return tracks, nil
}

func (e *Engine) openChain(class string, first track.Detection) *chain {
	return &chain{
		class:     class,
		locations: []string{first.LocationID},
		detMin:    first.Confidence,
		start:     first.Timestamp,
		end:       first.Timestamp,
	}
}

// buildLink forms the transition between two consecutive sightings at
// different locations. A link's confidence never exceeds the weaker of
// its two supporting detections.
func (e *Engine) buildLink(from, to track.Detection, dist float64, adjacent bool, elapsed time.Duration, surge bool) track.Link {
	link := track.Link{
		FromID:    from.LocationID,
		ToID:      to.LocationID,
		FromName:  e.topo.NodeName(from.LocationID),
		ToName:    e.topo.NodeName(to.LocationID),
		ExitTime:  from.Timestamp,
		EntryTime: to.Timestamp,
	}
	support := math.Min(from.Confidence, to.Confidence)

	if !adjacent {
		link.Confidence = math.Min(support, e.opts.NonAdjacentCeiling)
		link.Flagged = true
		link.Reasons = append(link.Reasons, reasonNonAdjacent,
			fmt.Sprintf("no registered adjacency between %s and %s", from.LocationID, to.LocationID))
		if surge {
			link.Reasons = append(link.Reasons, reasonSurge)
		}
		return link
	}

	speed := e.opts.AssumedMaxSpeed
	if surge {
		speed *= e.opts.SurgeSpeedFactor
	}
	minTransit := time.Duration(dist / speed * float64(time.Second))

	if elapsed < minTransit {
		// The floor caps, it never lifts: a link backed by detections
		// weaker than the floor keeps their minimum.
		link.Confidence = math.Min(support, e.opts.ImplausibleFloor)
		link.Flagged = true
		link.Reasons = append(link.Reasons, reasonAdjacent,
			fmt.Sprintf("%s: %s elapsed for %.0fm distance (minimum %s)",
				reasonImplausible, elapsed, dist, minTransit.Round(time.Millisecond)))
		return link
	}

	link.Confidence = support
	link.Reasons = append(link.Reasons, reasonAdjacent,
		fmt.Sprintf("elapsed time %s consistent with %.0fm distance", elapsed, dist))
	return link
}

// hasIntermediateExplanation reports whether the batch contains a sighting
// of the same class between the two timestamps at a location adjacent to
// both ends of the jump. Candidate destinations are bounded by the
// topology's neighbor sequence.
func (e *Engine) hasIntermediateExplanation(dets []track.Detection, from, to track.Detection) bool {
	for via := range e.topo.Neighbors(from.LocationID) {
		if !e.topo.IsAdjacent(via, to.LocationID) {
			continue
		}
		for _, d := range dets {
			if d.ID == from.ID || d.ID == to.ID || d.LocationID != via {
				continue
			}
			if !d.Timestamp.Before(from.Timestamp) && !d.Timestamp.After(to.Timestamp) {
				return true
			}
		}
	}
	return false
}

// finalize closes a chain into a track. Aggregate confidence is the
// minimum link confidence, or the weakest detection for a linkless track.
// Only an unflagged track at or above the high-confidence threshold is
// active; everything else awaits review.
func (e *Engine) finalize(c *chain) track.Track {
	confidence := c.detMin
	if len(c.links) > 0 {
		confidence = c.links[0].Confidence
		for _, l := range c.links[1:] {
			confidence = math.Min(confidence, l.Confidence)
		}
	}

	t := track.Track{
		ID:         util.NewTrackID(),
		Class:      c.class,
		Links:      c.links,
		Locations:  c.locations,
		Confidence: confidence,
		Reasons:    c.reasons,
		StartTime:  c.start,
		EndTime:    c.end,
	}
	if confidence >= e.opts.HighConfidenceThreshold && !t.Flagged() {
		t.Status = track.StatusActive
	} else {
		t.Status = track.StatusNeedsReview
	}
	return t
}
