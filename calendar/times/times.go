// Package times holds the calendar's civil-time primitives: the clock
// abstraction that decides what counts as past and future, and the
// wall-clock-preserving date arithmetic every recurrence step uses.
package times

import (
	"fmt"
	"time"
)

// Clock is the single source of truth for the current time in the
// calendar. Nothing in the calendar domain may call time.Now directly;
// injecting a Clock lets tests and staging deployments shift "now"
// without touching the system clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc    *time.Location
	rewind int
}

// NewSystemClock returns a Clock reporting the system time in loc,
// rewound by rewindDays civil days. A non-zero rewind mimics the past,
// which is useful for exercising expansion against historic data.
func NewSystemClock(loc *time.Location, rewindDays int) Clock {
	return systemClock{loc: loc, rewind: rewindDays}
}

func (c systemClock) Now() time.Time {
	now := time.Now().In(c.loc)
	if c.rewind != 0 {
		return AddDays(now, -c.rewind)
	}
	return now
}

type fixedClock struct {
	t time.Time
}

// NewFixedClock returns a Clock frozen at t.
func NewFixedClock(t time.Time) Clock {
	return fixedClock{t: t}
}

func (c fixedClock) Now() time.Time {
	return c.t
}

// AddDays returns t shifted by days civil days, keeping the local
// wall-clock time-of-day in t's location. Adding an absolute duration
// instead would drift the local time across DST transitions; a weekly
// 19:00 event must stay at 19:00 after the clocks change.
func AddDays(t time.Time, days int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+days, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Date is a civil calendar date without a time-of-day. It is comparable
// and therefore usable as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the civil date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a date in ISO form, e.g. "2024-01-31".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Midnight returns the instant the date begins in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Before reports whether d is an earlier calendar date than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// After reports whether d is a later calendar date than o.
func (d Date) After(o Date) bool {
	return o.Before(d)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// DaysBetween returns the number of civil days from a to b, negative
// when b precedes a.
func DaysBetween(a, b Date) int {
	ta := time.Date(a.Year, a.Month, a.Day, 0, 0, 0, 0, time.UTC)
	tb := time.Date(b.Year, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
	return int(tb.Sub(ta) / (24 * time.Hour))
}
