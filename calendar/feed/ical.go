// Package feed renders upcoming occurrences as iCalendar and RSS
// documents. Both feeds are pure consumers of the occurrence rows the
// sync engine maintains.
package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/dukop/eventcal/calendar"
	"github.com/dukop/eventcal/calendar/recurrence"
)

// ProductID identifies generated calendars.
const ProductID = "-//dukop//eventcal//EN"

// ICal renders the entries as a VCALENDAR. Each occurrence becomes its
// own VEVENT; the first occurrence of a rule whose kind is expressible
// in RFC 5545 additionally advertises the matching RRULE so subscribing
// clients can show the series' rhythm. Later occurrences of the same
// rule stay plain, otherwise every one of them would seed its own
// repeating series in the client.
func ICal(baseURL string, entries []calendar.Upcoming, now time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	ruleSeen := make(map[uuid.UUID]bool)
	for _, entry := range entries {
		event := ical.NewComponent(ical.CompEvent)
		event.Props.SetText(ical.PropUID, entry.Occurrence.ID.String()+"@dukop")
		event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		event.Props.SetDateTime(ical.PropDateTimeStart, entry.Occurrence.Start.UTC())
		if entry.Occurrence.End != nil {
			event.Props.SetDateTime(ical.PropDateTimeEnd, entry.Occurrence.End.UTC())
		}
		event.Props.SetText(ical.PropSummary, entry.Event.Name)
		link := eventLink(baseURL, entry.Event.Slug)
		event.Props.SetText(ical.PropDescription,
			fmt.Sprintf("%s\n\nMore details: %s", entry.Event.Description, link))
		if linkURL, err := url.Parse(link); err == nil {
			event.Props.SetURI(ical.PropURL, linkURL)
		}
		if loc := location(entry.Event); loc != "" {
			event.Props.SetText(ical.PropLocation, loc)
		}
		if entry.Occurrence.Cancelled {
			event.Props.SetText(ical.PropStatus, "CANCELLED")
		}
		if ruleID := entry.Occurrence.RuleID; ruleID.Valid && !ruleSeen[ruleID.UUID] {
			ruleSeen[ruleID.UUID] = true
			if opt, ok := rruleOption(entry.Kinds, entry.Occurrence.Start); ok {
				event.Props.SetRecurrenceRule(opt)
			}
		}
		cal.Children = append(cal.Children, event)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// rruleOption maps the first RFC-5545-expressible kind to recurrence
// options. Biweekly kinds translate to a plain two-week interval; the
// ISO-week-parity phase is carried by the occurrence's own DTSTART.
func rruleOption(kinds []recurrence.Kind, start time.Time) (*rrule.ROption, bool) {
	for _, kind := range kinds {
		opt, ok := kindROption(kind, start)
		if !ok {
			continue
		}
		if _, err := rrule.NewRRule(opt); err != nil {
			continue
		}
		return &opt, true
	}
	return nil, false
}

func kindROption(kind recurrence.Kind, start time.Time) (rrule.ROption, bool) {
	weekday := rruleWeekday(start.Weekday())
	switch kind {
	case recurrence.EveryWeek:
		return rrule.ROption{Freq: rrule.WEEKLY, Byweekday: []rrule.Weekday{weekday}}, true
	case recurrence.BiweeklyEven, recurrence.BiweeklyOdd:
		return rrule.ROption{Freq: rrule.WEEKLY, Interval: 2, Byweekday: []rrule.Weekday{weekday}}, true
	case recurrence.FirstWeekOfMonth:
		return rrule.ROption{Freq: rrule.MONTHLY, Byweekday: []rrule.Weekday{weekday.Nth(1)}}, true
	case recurrence.SecondWeekOfMonth:
		return rrule.ROption{Freq: rrule.MONTHLY, Byweekday: []rrule.Weekday{weekday.Nth(2)}}, true
	case recurrence.ThirdWeekOfMonth:
		return rrule.ROption{Freq: rrule.MONTHLY, Byweekday: []rrule.Weekday{weekday.Nth(3)}}, true
	case recurrence.LastWeekOfMonth:
		return rrule.ROption{Freq: rrule.MONTHLY, Byweekday: []rrule.Weekday{weekday.Nth(-1)}}, true
	}
	return rrule.ROption{}, false
}

func rruleWeekday(w time.Weekday) rrule.Weekday {
	switch w {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	}
	return rrule.SU
}
