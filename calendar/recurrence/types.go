// Package recurrence implements the calendar's recurring-event model:
// recurrence rules, the per-kind occurrence generators, and the engine
// that reconciles a rule's generated series against stored occurrences.
package recurrence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/dukop/eventcal/calendar/times"
)

// Kind identifies one recurrence pattern. A rule carries a set of
// kinds; in the common case exactly one.
type Kind int

const (
	EveryWeek Kind = iota
	BiweeklyEven
	BiweeklyOdd
	FirstWeekOfMonth
	SecondWeekOfMonth
	ThirdWeekOfMonth
	LastWeekOfMonth
)

var kindNames = map[Kind]string{
	EveryWeek:         "every_week",
	BiweeklyEven:      "biweekly_even",
	BiweeklyOdd:       "biweekly_odd",
	FirstWeekOfMonth:  "first_week_of_month",
	SecondWeekOfMonth: "second_week_of_month",
	ThirdWeekOfMonth:  "third_week_of_month",
	LastWeekOfMonth:   "last_week_of_month",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a kind name such as "every_week" back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown recurrence kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds serialize by
// name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown recurrence kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Span is one concrete (start, end) pair produced by a generator. The
// end is absent when the anchor occurrence is open-ended.
type Span struct {
	Start time.Time
	End   mo.Option[time.Time]
}

// Occurrence is a single concrete meeting of an event. Occurrences with
// AutoManaged set are owned by their rule's sync and may be moved or
// deleted by it; clearing AutoManaged detaches the occurrence so sync
// never touches it again.
type Occurrence struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	EventID     uuid.UUID     `db:"event_id" json:"event_id"`
	RuleID      uuid.NullUUID `db:"rule_id" json:"rule_id"`
	Start       time.Time     `db:"start_at" json:"start"`
	End         *time.Time    `db:"end_at" json:"end,omitempty"`
	Cancelled   bool          `db:"cancelled" json:"cancelled"`
	AutoManaged bool          `db:"auto_managed" json:"auto_managed"`
	Comment     string        `db:"comment" json:"comment,omitempty"`
	Created     time.Time     `db:"created_at" json:"created"`
	Modified    time.Time     `db:"modified_at" json:"modified"`
}

// Clone returns a deep copy of the occurrence.
func (o *Occurrence) Clone() *Occurrence {
	c := *o
	if o.End != nil {
		end := *o.End
		c.End = &end
	}
	return &c
}

// Span returns the occurrence's times as a generator span.
func (o *Occurrence) Span() Span {
	sp := Span{Start: o.Start, End: mo.None[time.Time]()}
	if o.End != nil {
		sp.End = mo.Some(*o.End)
	}
	return sp
}

// Rule describes a recurring series: which event it belongs to, the
// anchor occurrence supplying weekday, time-of-day and duration, the
// recurrence kinds, and an optional end date. Without an end date the
// engine's default horizon bounds expansion.
type Rule struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	AnchorID uuid.NullUUID
	Kinds    []Kind
	End      mo.Option[times.Date]
	Created  time.Time
	Modified time.Time
}

// HasKind reports whether k is among the rule's kinds.
func (r *Rule) HasKind(k Kind) bool {
	for _, kind := range r.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}
