package ics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "momcal/internal/log"
	"momcal/internal/model"
)

var lineSplit = regexp.MustCompile(`\r?\n`)

// textUnescaper handles the RFC 5545 TEXT escapes in one left-to-right pass.
var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
)

// eventIDNamespace seeds deterministic ids in stable-id mode.
var eventIDNamespace = uuid.MustParse("6f1c2d3e-8a4b-5c6d-9e0f-a1b2c3d4e5f6")

// Parser converts raw calendar text into CalendarEvents.
type Parser struct {
	// Location is used for floating date-times and date-only values.
	// If nil, time.Local is used.
	Location *time.Location

	// StableIDs derives ids from (title, start, end) instead of random UUIDs.
	StableIDs bool
}

// NewParser returns a parser resolving local times in loc.
func NewParser(loc *time.Location, stableIDs bool) *Parser {
	return &Parser{Location: loc, StableIDs: stableIDs}
}

// pendingEvent accumulates one VEVENT. Dates keep their parse status so an
// invalid DTSTART/DTEND rejects the event at END:VEVENT.
type pendingEvent struct {
	ev       model.CalendarEvent
	startSet bool
	endSet   bool
	badDate  bool
}

// Parse returns every complete VEVENT in text, sorted ascending by start.
// Incomplete or malformed events are dropped; the parse itself never fails.
func (p *Parser) Parse(text string) []model.CalendarEvent {
	events := make([]model.CalendarEvent, 0)
	dropped := 0

	var cur *pendingEvent
	for _, raw := range unfold(lineSplit.Split(text, -1)) {
		line := strings.TrimSpace(raw)

		switch {
		case strings.EqualFold(line, "BEGIN:VEVENT"):
			if cur != nil {
				dropped++
			}
			cur = &pendingEvent{}
			continue
		case strings.EqualFold(line, "END:VEVENT"):
			if cur == nil {
				continue
			}
			if ev, ok := p.finish(cur); ok {
				events = append(events, ev)
			} else {
				dropped++
			}
			cur = nil
			continue
		}

		if cur == nil {
			continue
		}
		p.applyProperty(cur, line)
	}
	if cur != nil {
		dropped++
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	appLog.Debug("ics parse completed", "event_count", len(events), "dropped", dropped)
	return events
}

// unfold joins continuation lines (leading space or tab) onto the previous
// logical line, stripping the single continuation character.
func unfold(rawLines []string) []string {
	lines := make([]string, 0, len(rawLines))
	for _, l := range rawLines {
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += l[1:]
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func (p *Parser) applyProperty(cur *pendingEvent, line string) {
	colon := strings.IndexByte(line, ':')
	if colon == -1 {
		return
	}
	namePart := line[:colon]
	value := line[colon+1:]

	name, params := splitName(namePart)

	switch name {
	case "SUMMARY":
		cur.ev.Title = UnescapeText(value)
	case "DTSTART":
		t, allDay, ok := p.parseDate(value, params)
		cur.ev.Start, cur.ev.AllDay = t, allDay
		cur.startSet = true
		cur.badDate = cur.badDate || !ok
	case "DTEND":
		t, _, ok := p.parseDate(value, params)
		cur.ev.End = t
		cur.endSet = true
		cur.badDate = cur.badDate || !ok
	case "LOCATION":
		cur.ev.Location = UnescapeText(value)
	case "DESCRIPTION":
		cur.ev.Description = UnescapeText(value)
	case "URL":
		cur.ev.InfoLink = NormalizeURL(UnescapeText(value))
	case "RRULE":
		if cur.ev.Recurrence == nil {
			cur.ev.Recurrence = &model.Recurrence{}
		}
		cur.ev.Recurrence.RRule = value
	case "EXDATE":
		if cur.ev.Recurrence == nil {
			cur.ev.Recurrence = &model.Recurrence{}
		}
		for _, part := range strings.Split(value, ",") {
			if t, _, ok := p.parseDate(strings.TrimSpace(part), params); ok {
				cur.ev.Recurrence.ExDates = append(cur.ev.Recurrence.ExDates, t)
			}
		}
	}
}

// splitName returns the uppercased property name and its parameters.
func splitName(namePart string) (string, map[string]string) {
	parts := strings.Split(namePart, ";")
	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) == 1 {
		return name, nil
	}
	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		params[strings.ToUpper(k)] = strings.Trim(v, `"`)
	}
	return name, params
}

func (p *Parser) finish(cur *pendingEvent) (model.CalendarEvent, bool) {
	if !cur.startSet || !cur.endSet || cur.badDate || cur.ev.Title == "" {
		return model.CalendarEvent{}, false
	}
	ev := cur.ev
	ev.ID = p.newID(ev)
	return ev, true
}

func (p *Parser) newID(ev model.CalendarEvent) string {
	if !p.StableIDs {
		return uuid.NewString()
	}
	return StableID(ev.Title, ev.Start, ev.End)
}

// StableID derives a deterministic UUIDv5 from title, start and end.
func StableID(title string, start, end time.Time) string {
	name := title + "|" + start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(eventIDNamespace, []byte(name)).String()
}

func (p *Parser) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return time.Local
}

// parseDate reads DATE (YYYYMMDD) and DATE-TIME (YYYYMMDDTHHMM[SS][Z]) values.
// Seconds are ignored. Zulu values are UTC; floating values use the TZID
// parameter when it names a known zone, the parser location otherwise.
// Date-only values are midnight in the parser location.
func (p *Parser) parseDate(value string, params map[string]string) (time.Time, bool, bool) {
	v := strings.TrimSpace(value)
	if len(v) < 8 {
		return time.Time{}, false, false
	}

	year, errY := strconv.Atoi(v[0:4])
	month, errM := strconv.Atoi(v[4:6])
	day, errD := strconv.Atoi(v[6:8])
	if errY != nil || errM != nil || errD != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false, false
	}

	if !strings.Contains(v, "T") {
		if len(v) != 8 {
			return time.Time{}, false, false
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, p.location()), true, true
	}

	if len(v) < 13 || v[8] != 'T' {
		return time.Time{}, false, false
	}
	hour, errH := strconv.Atoi(v[9:11])
	minute, errMin := strconv.Atoi(v[11:13])
	if errH != nil || errMin != nil || hour > 23 || minute > 59 {
		return time.Time{}, false, false
	}

	loc := p.location()
	if strings.HasSuffix(v, "Z") {
		loc = time.UTC
	} else if tzid := params["TZID"]; tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), false, true
}

// UnescapeText decodes RFC 5545 TEXT escapes.
func UnescapeText(s string) string {
	return textUnescaper.Replace(s)
}
