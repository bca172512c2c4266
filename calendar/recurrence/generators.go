package recurrence

import (
	"time"

	"github.com/samber/mo"

	"github.com/dukop/eventcal/calendar/times"
)

// Expand produces the occurrences of kind k for the given anchor,
// ordered by start and bounded to [windowStart, windowEnd). The anchor
// itself is never emitted; the sync engine handles it separately. Every
// step uses the fixed-time add so the local time-of-day survives DST
// transitions.
func Expand(k Kind, anchor Span, windowStart, windowEnd time.Time) []Span {
	switch k {
	case EveryWeek:
		return stepDays(anchor, 7, 7, windowStart, windowEnd)
	case BiweeklyEven:
		return stepDays(anchor, biweeklyPhase(anchor.Start, true), 14, windowStart, windowEnd)
	case BiweeklyOdd:
		return stepDays(anchor, biweeklyPhase(anchor.Start, false), 14, windowStart, windowEnd)
	case FirstWeekOfMonth:
		return weekOfMonth(anchor, 0, windowStart, windowEnd)
	case SecondWeekOfMonth:
		return weekOfMonth(anchor, 1, windowStart, windowEnd)
	case ThirdWeekOfMonth:
		return weekOfMonth(anchor, 2, windowStart, windowEnd)
	case LastWeekOfMonth:
		return lastWeekOfMonth(anchor, windowStart, windowEnd)
	}
	return nil
}

// shiftedBy returns the anchor span moved by the given number of civil
// days. Start and end shift by the same day count, so an end on the
// following civil date keeps that relationship.
func shiftedBy(anchor Span, days int) Span {
	sp := Span{Start: times.AddDays(anchor.Start, days), End: mo.None[time.Time]()}
	if end, ok := anchor.End.Get(); ok {
		sp.End = mo.Some(times.AddDays(end, days))
	}
	return sp
}

// stepDays walks from the anchor in fixed civil-day steps, starting
// first days past the anchor.
func stepDays(anchor Span, first, step int, windowStart, windowEnd time.Time) []Span {
	var out []Span
	for days := first; ; days += step {
		start := times.AddDays(anchor.Start, days)
		if !start.Before(windowEnd) {
			return out
		}
		if start.Before(windowStart) {
			continue
		}
		out = append(out, shiftedBy(anchor, days))
	}
}

// biweeklyPhase aligns a biweekly series to the requested ISO week
// parity. When the anchor already sits in a week of the wanted parity
// the next occurrence is a fortnight out; otherwise a single seven-day
// shift moves the series into phase.
func biweeklyPhase(anchorStart time.Time, wantEven bool) int {
	_, week := anchorStart.ISOWeek()
	if (week%2 == 0) == wantEven {
		return 14
	}
	return 7
}

// weekOfMonth emits, for each month, the anchor's weekday in the
// month's first week plus offsetWeeks whole weeks.
func weekOfMonth(anchor Span, offsetWeeks int, windowStart, windowEnd time.Time) []Span {
	weekday := anchor.Start.Weekday()
	year, month, _ := windowStart.Date()
	var out []Span
	for {
		first := monthDay(anchor.Start, year, month, 1)
		shift := (int(weekday) - int(first.Weekday()) + 7) % 7
		start := monthDay(anchor.Start, year, month, 1+shift+7*offsetWeeks)
		if !start.Before(windowEnd) {
			return out
		}
		if start.After(anchor.Start) && !start.Before(windowStart) {
			out = append(out, monthSpan(anchor, start))
		}
		year, month = nextMonth(year, month)
	}
}

// lastWeekOfMonth emits, for each month, the nearest occurrence of the
// anchor's weekday within the month's final seven days.
func lastWeekOfMonth(anchor Span, windowStart, windowEnd time.Time) []Span {
	weekday := anchor.Start.Weekday()
	year, month, _ := windowStart.Date()
	var out []Span
	for {
		// Day zero of the next month is the last day of this one.
		ny, nm := nextMonth(year, month)
		last := monthDay(anchor.Start, ny, nm, 0)
		back := (int(last.Weekday()) - int(weekday) + 7) % 7
		start := monthDay(anchor.Start, year, month, last.Day()-back)
		if !start.Before(windowEnd) {
			return out
		}
		if start.After(anchor.Start) && !start.Before(windowStart) {
			out = append(out, monthSpan(anchor, start))
		}
		year, month = ny, nm
	}
}

// monthDay builds an instant on the given civil day carrying the
// anchor's local time-of-day. time.Date normalizes out-of-range days.
func monthDay(anchorStart time.Time, year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day,
		anchorStart.Hour(), anchorStart.Minute(), anchorStart.Second(), anchorStart.Nanosecond(),
		anchorStart.Location())
}

func monthSpan(anchor Span, start time.Time) Span {
	return shiftedBy(anchor, times.DaysBetween(times.DateOf(anchor.Start), times.DateOf(start)))
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
