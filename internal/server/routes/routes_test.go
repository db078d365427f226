package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/meditrack/backend/internal/server/middleware"
	"github.com/meditrack/backend/pkg/analytics"
	"github.com/meditrack/backend/pkg/engine"
	"github.com/meditrack/backend/pkg/store"
	"github.com/meditrack/backend/pkg/store/memory"
	"github.com/meditrack/backend/pkg/topology"
	"github.com/meditrack/backend/pkg/track"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

func newTestApp(t *testing.T) (*echo.Echo, *middleware.App) {
	t.Helper()

	topo := topology.New()
	err := topo.Load(
		[]topology.Node{
			{ID: "room_1", Name: "Patient Room 1"},
			{ID: "hall_a", Name: "Hallway A"},
			{ID: "icu_1", Name: "ICU 1"},
		},
		[]topology.Edge{
			{From: "room_1", To: "hall_a", Distance: 10},
			{From: "hall_a", To: "icu_1", Distance: 20},
		},
	)
	if err != nil {
		t.Fatalf("failed to load topology: %v", err)
	}

	storage := memory.NewMemoryStorage()
	opts := engine.DefaultOptions()
	app := &middleware.App{
		Storage:    storage,
		Topology:   topo,
		Engine:     engine.New(topo, opts),
		Aggregator: analytics.NewAggregator(storage, opts.HighConfidenceThreshold),
	}

	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}
	return e, app
}

func doRequest(e *echo.Echo, app *middleware.App, method, target, body string, handler echo.HandlerFunc, pathParams map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range pathParams {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	cc := &middleware.AppContext{Context: c, App: app}
	if err := handler(cc); err != nil {
		e.HTTPErrorHandler(err, cc)
	}
	return rec
}

func TestAssociateHandlerStoresTracks(t *testing.T) {
	e, app := newTestApp(t)

	body := `{"detections": [
		{"det_id": 1, "class": "crash cart", "location_id": "room_1", "ts": "2026-03-14T09:00:00Z", "score": 0.92},
		{"det_id": 2, "class": "crash cart", "location_id": "hall_a", "ts": "2026-03-14T09:02:00Z", "score": 0.9}
	]}`
	rec := doRequest(e, app, http.MethodPost, "/api/associate", body, AssociateHandler, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Tracks []track.Track `json:"tracks"`
		Stats  *struct {
			DetectionsIn int `json:"detections_in"`
			TracksOut    int `json:"tracks_out"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(resp.Tracks))
	}
	if resp.Tracks[0].Class != "crash_cart" {
		t.Fatalf("expected normalized class crash_cart, got %q", resp.Tracks[0].Class)
	}
	if resp.Stats == nil || resp.Stats.TracksOut != 1 {
		t.Fatalf("expected run stats with 1 track out, got %+v", resp.Stats)
	}

	stored, err := app.Storage.ListTracks(context.Background(), store.ListFilter{})
	if err != nil {
		t.Fatalf("ListTracks failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored track, got %d", len(stored))
	}
}

func TestAssociateHandlerUnknownLocation(t *testing.T) {
	e, app := newTestApp(t)

	body := `{"detections": [
		{"det_id": 1, "class": "wheelchair", "location_id": "basement", "ts": "2026-03-14T09:00:00Z", "score": 0.9}
	]}`
	rec := doRequest(e, app, http.MethodPost, "/api/associate", body, AssociateHandler, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAssociateHandlerEmptyBatch(t *testing.T) {
	e, app := newTestApp(t)

	rec := doRequest(e, app, http.MethodPost, "/api/associate", `{"detections": []}`, AssociateHandler, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetTrackHandlerNotFound(t *testing.T) {
	e, app := newTestApp(t)

	rec := doRequest(e, app, http.MethodGet, "/api/tracks/trk_missing", "", GetTrackHandler,
		map[string]string{"id": "trk_missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReconcileHandlerVersionConflict(t *testing.T) {
	e, app := newTestApp(t)

	seed := track.Track{
		ID:         "trk_a",
		Class:      "wheelchair",
		Locations:  []string{"room_1"},
		Confidence: 0.5,
		Status:     track.StatusNeedsReview,
		StartTime:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if _, err := app.Storage.StoreBatch(context.Background(), []track.Track{seed}); err != nil {
		t.Fatalf("StoreBatch failed: %v", err)
	}

	rec := doRequest(e, app, http.MethodPost, "/api/tracks/trk_a/reconcile",
		`{"action": "confirm", "version": 99}`, ReconcileTrackHandler,
		map[string]string{"id": "trk_a"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(e, app, http.MethodPost, "/api/tracks/trk_a/reconcile",
		`{"action": "confirm", "version": 1}`, ReconcileTrackHandler,
		map[string]string{"id": "trk_a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetAnalyticsHandler(t *testing.T) {
	e, app := newTestApp(t)

	rec := doRequest(e, app, http.MethodGet, "/api/analytics", "", GetAnalyticsHandler, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Summary *analytics.Summary `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Summary == nil || resp.Summary.TotalTracks != 0 {
		t.Fatalf("expected empty summary, got %+v", resp.Summary)
	}
}

func TestReplaceTopologyHandlerRejectsInvalid(t *testing.T) {
	e, app := newTestApp(t)

	body := `{"locations": [{"id": "a", "name": "A"}],
		"adjacencies": [{"from": "a", "to": "ghost", "distance_m": 5}]}`
	rec := doRequest(e, app, http.MethodPost, "/api/topology", body, ReplaceTopologyHandler, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	// The previous graph must still be in place.
	if !app.Topology.Contains("room_1") {
		t.Fatal("expected original topology to survive a rejected replacement")
	}
}
