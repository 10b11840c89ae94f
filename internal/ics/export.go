package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"momcal/internal/model"
)

const productID = "-//MOM Crew//momcal//EN"

// Export serializes events as a publishable VCALENDAR so visitors can
// subscribe to the upcoming-events list.
func Export(name string, events []model.CalendarEvent) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	stamp := time.Now().UTC()
	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		ve.SetSummary(ev.Title)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.InfoLink != "" {
			ve.SetProperty(ical.ComponentPropertyUrl, ev.InfoLink)
		}
		if ev.CategoryKey != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, ev.CategoryKey)
		}
	}

	return cal.Serialize()
}
