package model

import (
	"encoding/json"
	"time"
)

// CalendarEvent is one parsed occurrence from the public calendar feed.
// Title, Start and End are always set on events handed out by the parser,
// the expander and the cache.
type CalendarEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// AllDay is true when DTSTART carried a date-only value.
	AllDay bool `json:"allDay,omitempty"`

	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	InfoLink    string `json:"infoLink,omitempty"`
	CategoryKey string `json:"categoryKey,omitempty"`

	// Recurrence is only populated between parsing and expansion.
	Recurrence *Recurrence `json:"-"`
}

// Recurrence holds the raw recurrence data of a VEVENT.
type Recurrence struct {
	RRule   string
	ExDates []time.Time
}

// Valid reports whether the event satisfies the title/start/end invariant.
func (e CalendarEvent) Valid() bool {
	return e.Title != "" && !e.Start.IsZero() && !e.End.IsZero()
}

// VisibleAt reports whether the event is upcoming or ongoing at now.
// End is used when present, Start otherwise.
func (e CalendarEvent) VisibleAt(now time.Time) bool {
	ref := e.End
	if ref.IsZero() {
		ref = e.Start
	}
	return !ref.Before(now)
}

// CachedCalendarData is the persisted snapshot of the latest successful fetch.
type CachedCalendarData struct {
	Version   int             `json:"version"`
	Events    []CalendarEvent `json:"events"`
	FetchedAt time.Time       `json:"-"`
}

type cachedWire struct {
	Version   int             `json:"version,omitempty"`
	Events    []CalendarEvent `json:"events"`
	FetchedAt int64           `json:"fetchedAt"`
}

// MarshalJSON writes fetchedAt as unix milliseconds.
func (c CachedCalendarData) MarshalJSON() ([]byte, error) {
	events := c.Events
	if events == nil {
		events = []CalendarEvent{}
	}
	return json.Marshal(cachedWire{
		Version:   c.Version,
		Events:    events,
		FetchedAt: c.FetchedAt.UnixMilli(),
	})
}

func (c *CachedCalendarData) UnmarshalJSON(data []byte) error {
	var w cachedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Version = w.Version
	c.Events = w.Events
	c.FetchedAt = time.UnixMilli(w.FetchedAt)
	return nil
}

// LocalizedString is a bilingual label.
type LocalizedString struct {
	EN string `yaml:"en" json:"en"`
	DE string `yaml:"de" json:"de"`
}

// Get returns the text for lang ("en" or "de"), falling back to English.
func (s LocalizedString) Get(lang string) string {
	if lang == "de" && s.DE != "" {
		return s.DE
	}
	return s.EN
}

// Category is a static event classification with its matching keywords.
type Category struct {
	Key      string          `yaml:"key" json:"key"`
	Label    LocalizedString `yaml:"label" json:"label"`
	Keywords []string        `yaml:"keywords" json:"keywords"`
}
