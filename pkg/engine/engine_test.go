package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meditrack/backend/pkg/topology"
	"github.com/meditrack/backend/pkg/track"
)

var t0 = time.Date(2025, 11, 4, 12, 0, 0, 0, time.UTC)

func testGraph(t *testing.T) *topology.Graph {
	t.Helper()
	g := topology.New()
	err := g.Load(
		[]topology.Node{
			{ID: "room_2", Name: "Room 2"},
			{ID: "hallway_a", Name: "Hallway A"},
			{ID: "room_5", Name: "Room 5"},
			{ID: "icu_1", Name: "ICU 1"},
		},
		[]topology.Edge{
			{From: "room_2", To: "hallway_a", Distance: 20},
			{From: "hallway_a", To: "room_5", Distance: 30},
		},
	)
	if err != nil {
		t.Fatalf("failed to load test topology: %v", err)
	}
	return g
}

func mustBatch(t *testing.T, surge bool, dets ...track.Detection) track.Batch {
	t.Helper()
	b, err := track.NewBatch(dets, surge)
	if err != nil {
		t.Fatalf("failed to build batch: %v", err)
	}
	return b
}

func det(id int64, class, loc string, offset time.Duration, conf float64) track.Detection {
	return track.Detection{ID: id, Class: class, LocationID: loc, Timestamp: t0.Add(offset), Confidence: conf}
}

func TestAssociate_EmptyBatch(t *testing.T) {
	e := New(testGraph(t), Options{})
	_, err := e.Associate(context.Background(), track.Batch{})
	if !errors.Is(err, track.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestAssociate_UnknownLocation(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false, det(1, "crash cart", "basement", 0, 0.9))
	_, err := e.Associate(context.Background(), batch)
	if !errors.Is(err, track.ErrUnknownLocation) {
		t.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
	if !strings.Contains(err.Error(), "basement") {
		t.Fatalf("expected offending identifier in error, got %v", err)
	}
}

func TestAssociate_SingleLocationTrack(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "crash cart", "room_2", 0, 0.91),
		det(2, "crash cart", "room_2", 30*time.Second, 0.87),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if len(tr.Links) != 0 {
		t.Fatalf("expected no links, got %d", len(tr.Links))
	}
	if tr.Confidence != 0.87 {
		t.Fatalf("expected minimum detection confidence 0.87, got %v", tr.Confidence)
	}
	if tr.Status != track.StatusActive {
		t.Fatalf("expected active, got %q", tr.Status)
	}
	if len(tr.Locations) != 1 || tr.Locations[0] != "room_2" {
		t.Fatalf("expected single location room_2, got %v", tr.Locations)
	}
}

// The crash cart walks Room 2 -> Hallway A -> Room 5 with feasible timing:
// one track, two links, aggregate confidence is the weakest link.
func TestAssociate_FeasibleChain(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "crash_cart", "room_2", 0, 0.9),
		det(2, "crash_cart", "hallway_a", 120*time.Second, 0.88),
		det(3, "crash_cart", "room_5", 300*time.Second, 0.86),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if len(tr.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(tr.Links))
	}
	if tr.Links[0].Confidence != 0.88 {
		t.Fatalf("expected first link confidence 0.88, got %v", tr.Links[0].Confidence)
	}
	if tr.Links[1].Confidence != 0.86 {
		t.Fatalf("expected second link confidence 0.86, got %v", tr.Links[1].Confidence)
	}
	if tr.Confidence != 0.86 {
		t.Fatalf("expected aggregate 0.86, got %v", tr.Confidence)
	}
	if tr.Status != track.StatusActive {
		t.Fatalf("expected active, got %q", tr.Status)
	}
	for _, l := range tr.Links {
		if len(l.Reasons) == 0 {
			t.Fatal("expected every link to carry reasons")
		}
		if l.Flagged {
			t.Fatalf("expected feasible link to be unflagged, got %v", l.Reasons)
		}
	}
	if tr.Links[0].FromName != "Room 2" || tr.Links[0].ToName != "Hallway A" {
		t.Fatalf("expected display names on link, got %q -> %q", tr.Links[0].FromName, tr.Links[0].ToName)
	}
}

// Link confidence never exceeds the weaker of the two supporting
// detections, and a track is only as strong as its weakest link.
func TestAssociate_ConfidenceBounds(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "iv pump", "room_2", 0, 0.95),
		det(2, "iv pump", "hallway_a", 60*time.Second, 0.55),
		det(3, "iv pump", "room_5", 180*time.Second, 0.97),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	tr := tracks[0]
	if tr.Links[0].Confidence > 0.55 || tr.Links[1].Confidence > 0.55 {
		t.Fatalf("link confidence exceeds weakest detection: %v, %v",
			tr.Links[0].Confidence, tr.Links[1].Confidence)
	}
	if tr.Confidence != 0.55 {
		t.Fatalf("expected aggregate 0.55, got %v", tr.Confidence)
	}
	if tr.Status != track.StatusNeedsReview {
		t.Fatalf("expected needs_review below threshold, got %q", tr.Status)
	}
}

// Two simultaneous sightings at non-adjacent locations are two items.
// The engine splits rather than guessing an identity.
func TestAssociate_SimultaneousConflictSplits(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "defibrillator", "room_2", 0, 0.92),
		det(2, "defibrillator", "room_5", 0, 0.9),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	for _, tr := range tracks {
		if len(tr.Links) != 0 {
			t.Fatalf("expected no links on split track, got %d", len(tr.Links))
		}
		if tr.Status != track.StatusNeedsReview {
			t.Fatalf("expected needs_review, got %q", tr.Status)
		}
		found := false
		for _, r := range tr.Reasons {
			if strings.Contains(r, "simultaneous conflicting observation") {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected simultaneous conflict reason, got %v", tr.Reasons)
		}
	}
}

// A non-adjacent jump with elapsed time is linked, but capped to the
// ceiling, flagged, and escalated to review.
func TestAssociate_NonAdjacentJumpCapped(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "crash cart", "room_2", 0, 0.95),
		det(2, "crash cart", "room_5", 5*time.Minute, 0.93),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if len(tr.Links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(tr.Links))
	}
	l := tr.Links[0]
	if l.Confidence != 0.4 {
		t.Fatalf("expected non-adjacent ceiling 0.4, got %v", l.Confidence)
	}
	if !l.Flagged {
		t.Fatal("expected non-adjacent link to be flagged")
	}
	found := false
	for _, r := range l.Reasons {
		if r == "non-adjacent jump" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected non-adjacent jump reason, got %v", l.Reasons)
	}
	if tr.Status != track.StatusNeedsReview {
		t.Fatalf("expected needs_review, got %q", tr.Status)
	}
}

func TestAssociate_SurgeRelaxesFeasibility(t *testing.T) {
	e := New(testGraph(t), Options{})

	// 20m at 1.4 m/s needs >= ~14.3s; 10s is implausible normally but
	// feasible under surge (effective speed 2.45 m/s, minimum ~8.2s).
	dets := []track.Detection{
		det(1, "crash cart", "room_2", 0, 0.9),
		det(2, "crash cart", "hallway_a", 10*time.Second, 0.88),
	}

	normal, err := e.Associate(context.Background(), mustBatch(t, false, dets...))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if normal[0].Links[0].Confidence != 0.05 {
		t.Fatalf("expected implausible floor without surge, got %v", normal[0].Links[0].Confidence)
	}

	surged, err := e.Associate(context.Background(), mustBatch(t, true, dets...))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if surged[0].Links[0].Confidence != 0.88 {
		t.Fatalf("expected full confidence under surge, got %v", surged[0].Links[0].Confidence)
	}
}

// An implausibly short transit is still linked, never dropped, but at
// minimal confidence with the anomaly spelled out.
func TestAssociate_ImplausibleTransitVisible(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "crash cart", "room_2", 0, 0.9),
		det(2, "crash cart", "hallway_a", 0, 0.88),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 1 || len(tracks[0].Links) != 1 {
		t.Fatalf("expected 1 track with 1 link, got %v", tracks)
	}
	l := tracks[0].Links[0]
	if !l.EntryTime.Equal(l.ExitTime) {
		t.Fatal("expected equal exit and entry times to be preserved")
	}
	if l.Confidence != 0.05 {
		t.Fatalf("expected implausible floor, got %v", l.Confidence)
	}
	found := false
	for _, r := range l.Reasons {
		if strings.Contains(r, "implausible transit time") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected implausible transit reason, got %v", l.Reasons)
	}
}

// The implausible floor caps a link, it never lifts one: detections
// weaker than the floor keep their minimum as the link confidence.
func TestAssociate_ImplausibleFloorNeverExceedsDetections(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "crash cart", "room_2", 0, 0.02),
		det(2, "crash cart", "hallway_a", time.Second, 0.03),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 1 || len(tracks[0].Links) != 1 {
		t.Fatalf("expected 1 track with 1 link, got %v", tracks)
	}
	l := tracks[0].Links[0]
	if l.Confidence != 0.02 {
		t.Fatalf("expected weakest detection confidence 0.02, got %v", l.Confidence)
	}
	if !l.Flagged {
		t.Fatal("expected link to stay flagged")
	}
}

// When an intermediate sighting inside the batch explains a jump, the
// pair is split instead of jump-linked.
func TestAssociate_IntermediateExplanationSplits(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "crash cart", "room_2", 0, 0.9),
		det(2, "crash cart", "room_5", 100*time.Second, 0.88),
		det(3, "crash cart", "hallway_a", 100*time.Second, 0.87),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected a split into 2 tracks, got %d", len(tracks))
	}
	for _, tr := range tracks {
		for _, l := range tr.Links {
			if l.FromID == "room_2" && l.ToID == "room_5" {
				t.Fatal("expected no direct room_2 -> room_5 link")
			}
		}
	}
}

func TestAssociate_ClassesIndependent(t *testing.T) {
	e := New(testGraph(t), Options{})
	batch := mustBatch(t, false,
		det(1, "IV Pump", "room_2", 0, 0.9),
		det(2, "Crash Cart", "room_5", 10*time.Second, 0.9),
		det(3, "iv_pump", "hallway_a", 2*time.Minute, 0.88),
	)
	tracks, err := e.Associate(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	// Deterministic order: classes sorted.
	if tracks[0].Class != "crash_cart" || tracks[1].Class != "iv_pump" {
		t.Fatalf("expected [crash_cart iv_pump], got [%s %s]", tracks[0].Class, tracks[1].Class)
	}
	if len(tracks[1].Links) != 1 {
		t.Fatalf("expected the iv_pump sightings to chain, got %d links", len(tracks[1].Links))
	}
}

// Re-running association on an identical batch yields identical link
// sequences and confidences.
func TestAssociate_Deterministic(t *testing.T) {
	e := New(testGraph(t), Options{})
	dets := []track.Detection{
		det(1, "crash cart", "room_2", 0, 0.9),
		det(2, "crash cart", "hallway_a", 2*time.Minute, 0.88),
		det(3, "crash cart", "room_5", 5*time.Minute, 0.86),
		det(4, "defibrillator", "icu_1", time.Minute, 0.7),
	}

	first, err := e.Associate(context.Background(), mustBatch(t, false, dets...))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := e.Associate(context.Background(), mustBatch(t, false, dets...))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical track counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Class != b.Class || a.Confidence != b.Confidence || len(a.Links) != len(b.Links) {
			t.Fatalf("run mismatch at %d: %+v vs %+v", i, a, b)
		}
		for j := range a.Links {
			if a.Links[j].FromID != b.Links[j].FromID ||
				a.Links[j].ToID != b.Links[j].ToID ||
				a.Links[j].Confidence != b.Links[j].Confidence {
				t.Fatalf("link mismatch at %d/%d", i, j)
			}
		}
	}
}

func TestAssociate_Cancellation(t *testing.T) {
	e := New(testGraph(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := mustBatch(t, false,
		det(1, "crash cart", "room_2", 0, 0.9),
		det(2, "crash cart", "hallway_a", 2*time.Minute, 0.88),
	)
	_, err := e.Associate(ctx, batch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
