package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/dukop/eventcal/calendar/times"
)

// ErrNoAnchor is returned when Sync runs on a rule without an anchor
// occurrence. This is a caller bug; the form layer must guarantee an
// anchor before a rule is synced.
var ErrNoAnchor = errors.New("recurrence rule has no anchor occurrence")

// OccurrenceStore is the persistence the engine needs. The caller must
// invoke Sync inside a transaction scope so the reconciliation's writes
// commit or roll back as a unit; the engine itself never begins one.
type OccurrenceStore interface {
	GetOccurrence(ctx context.Context, id uuid.UUID) (*Occurrence, error)
	// ListManaged returns a rule's auto-managed occurrences starting
	// at or after from, ordered by start. Callers pass a local
	// midnight so the cut is date-granular.
	ListManaged(ctx context.Context, ruleID uuid.UUID, from time.Time) ([]*Occurrence, error)
	CreateOccurrence(ctx context.Context, occ *Occurrence) error
	UpdateOccurrence(ctx context.Context, occ *Occurrence) error
	DeleteOccurrence(ctx context.Context, id uuid.UUID) error
}

// Engine expands recurrence rules into concrete occurrences and
// reconciles them against what is already stored.
type Engine struct {
	clock       times.Clock
	loc         *time.Location
	horizonDays int
}

// pending is an occurrence the current sync wants to exist, keyed by
// its civil date in the engine's reconciliation map.
type pending struct {
	occ   *Occurrence
	isNew bool
	dirty bool
}

// Sync regenerates rule's occurrence series and reconciles it with the
// stored one. Occurrences whose civil date is still wanted are updated
// in place, keeping their identity; dates that fell out of the series
// are deleted; new dates are created auto-managed. Detached occurrences
// (AutoManaged false) are invisible: never updated, never deleted.
// Running Sync twice with no intervening change performs zero writes on
// the second run.
func (e *Engine) Sync(ctx context.Context, store OccurrenceStore, rule *Rule, opts SyncOptions) error {
	if !rule.AnchorID.Valid {
		return ErrNoAnchor
	}
	anchor, err := store.GetOccurrence(ctx, rule.AnchorID.UUID)
	if err != nil {
		return fmt.Errorf("load anchor occurrence: %w", err)
	}

	anchorSpan := e.localSpan(anchor)
	windowStart, windowEnd := e.window(rule, anchorSpan.Start, opts)

	fromDate := times.DateOf(windowStart)
	existingList, err := store.ListManaged(ctx, rule.ID, fromDate.Midnight(e.loc))
	if err != nil {
		return fmt.Errorf("load managed occurrences: %w", err)
	}
	existing := make(map[times.Date]*Occurrence, len(existingList))
	for _, occ := range existingList {
		existing[times.DateOf(occ.Start.In(e.loc))] = occ
	}

	wanted := make(map[times.Date]*pending)
	var order []times.Date

	// The anchor is the series' first instance. When its date is in
	// the window it is claimed by the rule rather than regenerated, so
	// the original row keeps its identity.
	anchorDate := times.DateOf(anchorSpan.Start)
	if !anchorDate.Before(fromDate) {
		p := &pending{occ: anchor}
		if prev, ok := existing[anchorDate]; ok && prev.ID != anchor.ID {
			// A generated row already sits on the anchor's date from
			// an earlier lattice; fold it into the anchor's slot.
			p.occ = prev
			p.dirty = applySpan(prev, anchorSpan)
		}
		if !p.occ.AutoManaged || !p.occ.RuleID.Valid || p.occ.RuleID.UUID != rule.ID {
			p.occ.AutoManaged = true
			p.occ.RuleID = uuid.NullUUID{UUID: rule.ID, Valid: true}
			p.dirty = true
		}
		wanted[anchorDate] = p
		order = append(order, anchorDate)
	}

	// A rule without kinds is a series of exactly one occurrence, the
	// anchor; no generator runs. With several kinds, all generators
	// share the date-keyed map and the last one to visit a date wins.
	for _, kind := range rule.Kinds {
		for _, span := range Expand(kind, anchorSpan, windowStart, windowEnd) {
			date := times.DateOf(span.Start)
			if p, ok := wanted[date]; ok {
				if applySpan(p.occ, span) {
					p.dirty = true
				}
				continue
			}
			if occ, ok := existing[date]; ok {
				wanted[date] = &pending{occ: occ, dirty: applySpan(occ, span)}
			} else {
				occ := &Occurrence{
					ID:          uuid.New(),
					EventID:     rule.EventID,
					RuleID:      uuid.NullUUID{UUID: rule.ID, Valid: true},
					AutoManaged: true,
				}
				applySpan(occ, span)
				wanted[date] = &pending{occ: occ, isNew: true}
			}
			order = append(order, date)
		}
	}

	for _, date := range order {
		p := wanted[date]
		switch {
		case p.isNew:
			if err := store.CreateOccurrence(ctx, p.occ); err != nil {
				return fmt.Errorf("create occurrence %s: %w", date, err)
			}
		case p.dirty:
			if err := store.UpdateOccurrence(ctx, p.occ); err != nil {
				return fmt.Errorf("update occurrence %s: %w", date, err)
			}
		}
	}

	for date, occ := range existing {
		if _, ok := wanted[date]; ok {
			continue
		}
		if err := store.DeleteOccurrence(ctx, occ.ID); err != nil {
			return fmt.Errorf("delete occurrence %s: %w", date, err)
		}
	}
	return nil
}

// window resolves the sync window. The start is the anchor, or now when
// the past is off limits; the end is the horizon counted from now, so
// periodic resyncs extend the series as time passes, clamped to the
// rule's end date at local midnight.
func (e *Engine) window(rule *Rule, anchorStart time.Time, opts SyncOptions) (time.Time, time.Time) {
	now := e.clock.Now().In(e.loc)
	windowStart := anchorStart
	if !opts.IncludePast && now.After(windowStart) {
		windowStart = now
	}
	maxDays := opts.MaxDays
	if maxDays <= 0 {
		maxDays = e.horizonDays
	}
	windowEnd := times.AddDays(now, maxDays)
	if end, ok := rule.End.Get(); ok {
		if midnight := end.Midnight(e.loc); midnight.Before(windowEnd) {
			windowEnd = midnight
		}
	}
	return windowStart, windowEnd
}

// localSpan returns the anchor's times in the engine's location.
func (e *Engine) localSpan(anchor *Occurrence) Span {
	sp := Span{Start: anchor.Start.In(e.loc), End: mo.None[time.Time]()}
	if anchor.End != nil {
		sp.End = mo.Some(anchor.End.In(e.loc))
	}
	return sp
}

// applySpan copies a generated span onto an occurrence and reports
// whether anything changed.
func applySpan(occ *Occurrence, span Span) bool {
	changed := false
	if !occ.Start.Equal(span.Start) {
		occ.Start = span.Start
		changed = true
	}
	if end, ok := span.End.Get(); ok {
		if occ.End == nil || !occ.End.Equal(end) {
			occ.End = &end
			changed = true
		}
	} else if occ.End != nil {
		occ.End = nil
		changed = true
	}
	return changed
}
