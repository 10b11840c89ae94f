package ics

import (
	"strings"
	"testing"
	"time"

	"momcal/internal/model"
)

func TestExportRoundTripsThroughParser(t *testing.T) {
	start := time.Date(2026, 1, 10, 19, 30, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		{
			ID:          "evt-1",
			Title:       "Winter Concert",
			Start:       start,
			End:         start.Add(2 * time.Hour),
			Location:    "Stadthalle",
			InfoLink:    "https://tickets.example/winter",
			CategoryKey: "concerts",
		},
	}

	out := Export("MOM Events", events)

	for _, want := range []string{"BEGIN:VCALENDAR", "METHOD:PUBLISH", "UID:evt-1", "CATEGORIES:concerts"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected export to contain %q:\n%s", want, out)
		}
	}

	parsed := NewParser(time.UTC, false).Parse(out)
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 event after round trip, got %d", len(parsed))
	}
	got := parsed[0]
	if got.Title != "Winter Concert" || got.Location != "Stadthalle" {
		t.Errorf("Unexpected round-trip fields: %+v", got)
	}
	if !got.Start.Equal(start) || !got.End.Equal(start.Add(2*time.Hour)) {
		t.Errorf("Expected times to survive, got %v - %v", got.Start, got.End)
	}
	if got.InfoLink != "https://tickets.example/winter" {
		t.Errorf("Expected URL to survive, got %q", got.InfoLink)
	}
}

func TestExportEmpty(t *testing.T) {
	out := Export("", nil)
	if !strings.Contains(out, "BEGIN:VCALENDAR") || strings.Contains(out, "BEGIN:VEVENT") {
		t.Errorf("Expected empty calendar, got:\n%s", out)
	}
}
