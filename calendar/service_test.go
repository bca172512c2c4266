package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage"
	"github.com/dukop/eventcal/calendar/storage/memory"
	"github.com/dukop/eventcal/calendar/times"
)

func newTestService(t *testing.T, now time.Time) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := times.NewFixedClock(now)
	engine := recurrence.NewEngine(recurrence.Config{Clock: clock, Location: now.Location()})
	return NewService(store, engine, clock, nil), store
}

func copenhagen(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Copenhagen")
	require.NoError(t, err)
	return loc
}

func TestCreateEvent(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)
	svc, store := newTestService(t, now)

	start := time.Date(2024, 3, 15, 19, 0, 0, 0, loc)
	end := start.Add(3 * time.Hour)
	event, occ, err := svc.CreateEvent(ctx, NewEvent{
		Name:      "Fællesspisning på Folkets Hus",
		VenueName: "Folkets Hus",
		City:      "København",
		Start:     start,
		End:       &end,
	})
	require.NoError(t, err)
	assert.Equal(t, "faellesspisning-pa-folkets-hus", event.Slug)
	assert.Len(t, event.EditSecret, 24)
	assert.Len(t, event.ViewSecret, 24)
	assert.NotEqual(t, event.EditSecret, event.ViewSecret)
	assert.False(t, event.Published)
	assert.Equal(t, event.ID, occ.EventID)
	assert.True(t, occ.Start.Equal(start))

	// A second event with the same name gets a disambiguated slug.
	other, _, err := svc.CreateEvent(ctx, NewEvent{Name: "Fællesspisning på Folkets Hus", Start: start})
	require.NoError(t, err)
	assert.NotEqual(t, event.Slug, other.Slug)
	assert.Contains(t, other.Slug, "faellesspisning-pa-folkets-hus-")

	stored, err := store.GetEventBySlug(ctx, event.Slug)
	require.NoError(t, err)
	assert.Equal(t, event.ID, stored.ID)
}

func TestCreateEventValidation(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)
	svc, _ := newTestService(t, now)

	start := time.Date(2024, 3, 15, 19, 0, 0, 0, loc)
	badEnd := start.Add(-time.Hour)

	tests := []struct {
		name string
		in   NewEvent
	}{
		{"missing name", NewEvent{Start: start}},
		{"missing start", NewEvent{Name: "No start"}},
		{"end before start", NewEvent{Name: "Backwards", Start: start, End: &badEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateEvent(ctx, tt.in)
			var serr *storage.Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, storage.ErrInvalidInput, serr.Type)
		})
	}
}

func TestCreateRuleAndSync(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, loc)
	svc, store := newTestService(t, now)

	start := time.Date(2024, 3, 4, 19, 0, 0, 0, loc)
	event, anchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Weekly meetup", Start: start})
	require.NoError(t, err)

	rule, err := svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: anchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek, recurrence.EveryWeek},
	})
	require.NoError(t, err)
	assert.Equal(t, []recurrence.Kind{recurrence.EveryWeek}, rule.Kinds, "duplicate kinds collapse")

	occs, err := store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, occs, 26)
	got, err := store.GetOccurrence(ctx, anchor.ID)
	require.NoError(t, err)
	assert.True(t, got.AutoManaged, "anchor is claimed by the rule")
}

func TestCreateRuleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, loc)
	svc, store := newTestService(t, now)

	start := time.Date(2024, 3, 4, 19, 0, 0, 0, loc)
	event, anchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Weekly meetup", Start: start})
	require.NoError(t, err)

	// Anchor from a different event.
	_, otherAnchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Other", Start: start})
	require.NoError(t, err)
	_, err = svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: otherAnchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
	})
	require.Error(t, err)

	// End date on the anchor's own date.
	_, err = svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: anchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
		End:      mo.Some(times.DateOf(start)),
	})
	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, storage.ErrInvalidInput, serr.Type)

	// Unknown anchor.
	_, err = svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: uuid.New(),
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
	})
	require.Error(t, err)

	// Failed creations leave nothing behind.
	rules, err := store.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestEditRuleAndResync(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, loc)
	svc, store := newTestService(t, now)

	start := time.Date(2024, 3, 4, 19, 0, 0, 0, loc)
	event, anchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Weekly meetup", Start: start})
	require.NoError(t, err)
	rule, err := svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: anchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
	})
	require.NoError(t, err)

	// Cap the series at four weeks.
	err = svc.EditRuleAndResync(ctx, rule.ID, RuleEdit{
		End: mo.Some(times.DateOf(times.AddDays(start, 22))),
	})
	require.NoError(t, err)
	occs, err := store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, occs, 4)

	// Clearing the end restores the full horizon.
	err = svc.EditRuleAndResync(ctx, rule.ID, RuleEdit{ClearEnd: true})
	require.NoError(t, err)
	occs, err = store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, occs, 26)

	// Switching kinds rebuilds the lattice.
	err = svc.EditRuleAndResync(ctx, rule.ID, RuleEdit{
		Kinds: []recurrence.Kind{recurrence.FirstWeekOfMonth},
	})
	require.NoError(t, err)
	occs, err = store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	for _, occ := range occs[1:] {
		assert.LessOrEqual(t, occ.Start.Day(), 7)
	}
}

func TestDeleteRuleCascades(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, loc)
	svc, store := newTestService(t, now)

	start := time.Date(2024, 3, 4, 19, 0, 0, 0, loc)
	event, anchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Weekly meetup", Start: start})
	require.NoError(t, err)
	rule, err := svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: anchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
	})
	require.NoError(t, err)

	occs, err := store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, occs, 26)
	require.NoError(t, svc.DetachOccurrence(ctx, occs[3].ID))

	require.NoError(t, svc.DeleteRule(ctx, rule.ID))

	occs, err = store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, occs, 1, "only the detached occurrence survives")
	assert.False(t, occs[0].RuleID.Valid)
	assert.False(t, occs[0].AutoManaged)

	err = svc.DeleteRule(ctx, rule.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestResyncAllRollsHorizonForward(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	start := time.Date(2024, 3, 4, 19, 0, 0, 0, loc)

	store := memory.New()
	clock := times.NewFixedClock(time.Date(2024, 2, 28, 12, 0, 0, 0, loc))
	engine := recurrence.NewEngine(recurrence.Config{Clock: clock, Location: loc})
	svc := NewService(store, engine, clock, nil)

	event, anchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Weekly meetup", Start: start})
	require.NoError(t, err)
	_, err = svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: anchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
	})
	require.NoError(t, err)

	occs, err := store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	before := len(occs)
	last := occs[len(occs)-1].Start

	// Eight weeks later the horizon has moved, so a resync extends the
	// series.
	later := times.NewFixedClock(time.Date(2024, 4, 24, 12, 0, 0, 0, loc))
	engine = recurrence.NewEngine(recurrence.Config{Clock: later, Location: loc})
	svc = NewService(store, engine, later, nil)
	require.NoError(t, svc.ResyncAll(ctx, false))

	occs, err = store.ListEventOccurrences(ctx, event.ID)
	require.NoError(t, err)
	assert.Greater(t, occs[len(occs)-1].Start.Unix(), last.Unix())
	assert.GreaterOrEqual(t, len(occs), before)
}

func TestListUpcomingFiltersUnpublished(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)
	svc, _ := newTestService(t, now)

	start := time.Date(2024, 3, 15, 19, 0, 0, 0, loc)
	published, pubOcc, err := svc.CreateEvent(ctx, NewEvent{Name: "Published", Start: start})
	require.NoError(t, err)
	require.NoError(t, svc.PublishEvent(ctx, published.ID))
	_, _, err = svc.CreateEvent(ctx, NewEvent{Name: "Draft", Start: start.Add(time.Hour)})
	require.NoError(t, err)
	// A past occurrence of the published event stays out of the list.
	_, _, err = svc.CreateEvent(ctx, NewEvent{Name: "Long gone", Start: now.AddDate(0, -1, 0)})
	require.NoError(t, err)

	upcoming, err := svc.ListUpcoming(ctx, 100)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, published.ID, upcoming[0].Event.ID)
	assert.Equal(t, pubOcc.ID, upcoming[0].Occurrence.ID)
	assert.Empty(t, upcoming[0].Kinds)
}

func TestListUpcomingCarriesRuleKinds(t *testing.T) {
	ctx := context.Background()
	loc := copenhagen(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, loc)
	svc, _ := newTestService(t, now)

	start := time.Date(2024, 3, 4, 19, 0, 0, 0, loc)
	event, anchor, err := svc.CreateEvent(ctx, NewEvent{Name: "Weekly meetup", Start: start})
	require.NoError(t, err)
	require.NoError(t, svc.PublishEvent(ctx, event.ID))
	_, err = svc.CreateRuleAndSync(ctx, NewRule{
		EventID:  event.ID,
		AnchorID: anchor.ID,
		Kinds:    []recurrence.Kind{recurrence.EveryWeek},
	})
	require.NoError(t, err)

	upcoming, err := svc.ListUpcoming(ctx, 5)
	require.NoError(t, err)
	require.Len(t, upcoming, 5)
	for _, up := range upcoming {
		assert.Equal(t, []recurrence.Kind{recurrence.EveryWeek}, up.Kinds)
	}
}
