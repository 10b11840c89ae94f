package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"momcal/internal/category"
	"momcal/internal/config"
	"momcal/internal/feed"
	"momcal/internal/model"
	"momcal/internal/videos"
)

type stubEvents struct {
	view      feed.View
	refreshes int
	err       error
}

func (s *stubEvents) Snapshot() feed.View { return s.view }

func (s *stubEvents) Refresh(context.Context) error {
	s.refreshes++
	return s.err
}

type stubVideos struct{}

func (stubVideos) List(context.Context) []videos.Video {
	return []videos.Video{{ID: "dQw4w9WgXcQ", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}}
}

func newTestServer(t *testing.T, events *stubEvents) (*Server, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Snapshot.Output = filepath.Join(t.TempDir(), "share.png")
	cfg.Normalize()
	cat := category.New(cfg.Categories, cfg.DefaultCategory)
	return NewServer(cfg, events, cat, stubVideos{}), cfg
}

func sampleView() feed.View {
	start := time.Date(2025, 12, 10, 17, 0, 0, 0, time.UTC)
	updated := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
	return feed.View{
		Events: []model.CalendarEvent{{
			ID:          "1",
			Title:       "Kids Show",
			Start:       start,
			End:         start.Add(time.Hour),
			CategoryKey: "kids",
			InfoLink:    "https://mom.example/kids",
		}},
		LastUpdated: &updated,
	}
}

func do(s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{})
	rec := do(s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventsJSON(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{view: sampleView()})

	rec := do(s, http.MethodGet, "/api/events", map[string]string{"Accept-Language": "de-DE,de;q=0.9"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["error"] != nil {
		t.Errorf("Expected null error, got %v", body["error"])
	}
	if body["loading"] != false {
		t.Errorf("Expected loading=false, got %v", body["loading"])
	}
	if body["lastUpdated"] != "2025-12-01T12:00:00Z" {
		t.Errorf("Unexpected lastUpdated %v", body["lastUpdated"])
	}
	events := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0].(map[string]any)
	if ev["title"] != "Kids Show" || ev["categoryKey"] != "kids" || ev["categoryLabel"] != "Kindershow" {
		t.Errorf("Unexpected event payload %v", ev)
	}
	if ev["start"] != "2025-12-10T17:00:00Z" {
		t.Errorf("Unexpected start %v", ev["start"])
	}
}

func TestEventsLangQueryWins(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{view: sampleView()})
	rec := do(s, http.MethodGet, "/api/events?lang=en", map[string]string{"Accept-Language": "de"})
	if !strings.Contains(rec.Body.String(), `"categoryLabel":"Kids show"`) {
		t.Errorf("Expected English label, got %s", rec.Body.String())
	}
}

func TestEventsErrorStates(t *testing.T) {
	view := sampleView()
	view.Error = feed.ErrorCached
	s, _ := newTestServer(t, &stubEvents{view: view})

	rec := do(s, http.MethodGet, "/api/events", nil)
	if !strings.Contains(rec.Body.String(), `"error":"cached"`) {
		t.Errorf("Expected cached error, got %s", rec.Body.String())
	}

	s, _ = newTestServer(t, &stubEvents{view: feed.View{Events: []model.CalendarEvent{}, Error: feed.ErrorFailed}})
	rec = do(s, http.MethodGet, "/api/events", nil)
	if !strings.Contains(rec.Body.String(), `"error":"failed"`) || !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Errorf("Expected failed state with empty events, got %s", rec.Body.String())
	}
}

func TestRefresh(t *testing.T) {
	events := &stubEvents{view: sampleView(), err: feed.ErrRefreshFailed}
	s, _ := newTestServer(t, events)

	rec := do(s, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected fetch failure to be reported in the view, got %d", rec.Code)
	}
	if events.refreshes != 1 {
		t.Errorf("Expected one refresh, got %d", events.refreshes)
	}

	if rec := do(s, http.MethodGet, "/api/refresh", nil); rec.Code == http.StatusOK {
		t.Errorf("Expected GET /api/refresh to be rejected, got %d", rec.Code)
	}
}

func TestRefreshClosed(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{err: feed.ErrClosed})
	if rec := do(s, http.MethodPost, "/api/refresh", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestCategories(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{})
	rec := do(s, http.MethodGet, "/api/categories?lang=de", nil)

	var body struct {
		Categories []categoryDTO `json:"categories"`
		Lang       string        `json:"lang"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body.Lang != "de" || len(body.Categories) != 4 {
		t.Fatalf("Unexpected categories response %+v", body)
	}
	if body.Categories[2].Key != "concerts" || body.Categories[2].Label != "Konzert" || !body.Categories[2].Default {
		t.Errorf("Unexpected concerts entry %+v", body.Categories[2])
	}
}

func TestICSExport(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{view: sampleView()})
	rec := do(s, http.MethodGet, "/events.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Unexpected content type %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Kids Show") {
		t.Errorf("Expected event in export, got %s", rec.Body.String())
	}
}

func TestVideos(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{})
	rec := do(s, http.MethodGet, "/api/videos", nil)
	if !strings.Contains(rec.Body.String(), "dQw4w9WgXcQ") {
		t.Errorf("Expected video list, got %s", rec.Body.String())
	}
}

func TestShareImage(t *testing.T) {
	s, cfg := newTestServer(t, &stubEvents{})

	if rec := do(s, http.MethodGet, "/share.png", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before first capture, got %d", rec.Code)
	}

	png := []byte("\x89PNG\r\n\x1a\n")
	if err := os.WriteFile(cfg.Snapshot.Output, png, 0o600); err != nil {
		t.Fatal(err)
	}
	rec := do(s, http.MethodGet, "/share.png", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != len(png) {
		t.Errorf("Expected captured image, got %d (%d bytes)", rec.Code, rec.Body.Len())
	}
}

func TestStaticFallback(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{})

	rec := do(s, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "data-ready") {
		t.Errorf("Expected embedded page, got %d", rec.Code)
	}

	rec = do(s, http.MethodGet, "/api/unknown", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		t.Errorf("Expected JSON 404 for unknown API path, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &stubEvents{})
	rec := do(s, http.MethodOptions, "/api/events", nil)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS preflight response, got %d", rec.Code)
	}
}
