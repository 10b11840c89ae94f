package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "momcal/internal/log"
	"momcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the window occurrences must overlap.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single rule. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int

	// StableIDs makes occurrence ids depend only on title and times.
	StableIDs bool
}

// Expand replaces every event that carries a recurrence rule with its
// concrete occurrences inside the window. Events without a rule are passed
// through unchanged. Events whose rule cannot be parsed keep their first
// occurrence. The result is sorted by start and has Recurrence cleared.
func Expand(events []model.CalendarEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence == nil || ev.Recurrence.RRule == "" {
			ev.Recurrence = nil
			out = append(out, ev)
			continue
		}
		out = append(out, expandRecurring(ev, cfg)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func expandRecurring(ev model.CalendarEvent, cfg ExpandConfig) []model.CalendarEvent {
	base := ev
	base.Recurrence = nil

	r, err := rrule.StrToRRule(ev.Recurrence.RRule)
	if err != nil {
		appLog.Warn("expand: failed to parse RRULE, keeping first occurrence", "title", ev.Title, "rrule", ev.Recurrence.RRule, "err", err)
		return []model.CalendarEvent{base}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.Recurrence.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Occurrences that started before the window but are still running count.
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(from, to, true)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated occurrences", "title", ev.Title, "cap", cfg.MaxOccurrencesPerEvent)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}

	out := make([]model.CalendarEvent, 0, len(starts))
	for _, s := range starts {
		occ := base
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
		}
		occ.Start = s
		occ.End = s.Add(dur)
		occ.ID = occurrenceID(ev, occ, cfg.StableIDs)
		out = append(out, occ)
	}
	return out
}

func occurrenceID(base, occ model.CalendarEvent, stable bool) string {
	if stable {
		return StableID(occ.Title, occ.Start, occ.End)
	}
	ns, err := uuid.Parse(base.ID)
	if err != nil {
		ns = eventIDNamespace
	}
	return uuid.NewSHA1(ns, []byte(occ.Start.UTC().Format(time.RFC3339))).String()
}
