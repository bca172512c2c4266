package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage"
)

func TestEventLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	event := &storage.Event{
		ID:   uuid.New(),
		Name: "Folk kitchen",
		Slug: "folk-kitchen",
	}
	require.NoError(t, s.CreateEvent(ctx, event))
	assert.False(t, event.Created.IsZero())

	err := s.CreateEvent(ctx, event)
	var serr *storage.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, storage.ErrAlreadyExists, serr.Type)

	got, err := s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Folk kitchen", got.Name)

	got, err = s.GetEventBySlug(ctx, "folk-kitchen")
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)

	got.Published = true
	require.NoError(t, s.UpdateEvent(ctx, got))
	got, err = s.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)

	_, err = s.GetEvent(ctx, uuid.New())
	assert.True(t, storage.IsNotFound(err))
	_, err = s.GetEventBySlug(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))
}

func TestOccurrenceCountersAndClones(t *testing.T) {
	ctx := context.Background()
	s := New()

	occ := &recurrence.Occurrence{
		ID:      uuid.New(),
		EventID: uuid.New(),
		Start:   time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateOccurrence(ctx, occ))
	require.NoError(t, s.UpdateOccurrence(ctx, occ))
	require.NoError(t, s.DeleteOccurrence(ctx, occ.ID))
	assert.Equal(t, Counters{Creates: 1, Updates: 1, Deletes: 1}, s.Counters())

	s.ResetCounters()
	assert.Equal(t, Counters{}, s.Counters())

	// Reads return clones, so mutating a result must not leak back.
	occ.ID = uuid.New()
	require.NoError(t, s.CreateOccurrence(ctx, occ))
	got, err := s.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	got.Comment = "scribbled on"
	got, err = s.GetOccurrence(ctx, occ.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Comment)
}

func TestListManagedFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	ruleID := uuid.New()
	eventID := uuid.New()
	base := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

	add := func(start time.Time, managed bool, rule uuid.UUID) uuid.UUID {
		occ := &recurrence.Occurrence{
			ID:          uuid.New(),
			EventID:     eventID,
			Start:       start,
			AutoManaged: managed,
		}
		if rule != uuid.Nil {
			occ.RuleID = uuid.NullUUID{UUID: rule, Valid: true}
		}
		require.NoError(t, s.CreateOccurrence(ctx, occ))
		return occ.ID
	}

	early := add(base.AddDate(0, 0, -7), true, ruleID)
	first := add(base, true, ruleID)
	second := add(base.AddDate(0, 0, 7), true, ruleID)
	add(base.AddDate(0, 0, 14), false, ruleID)    // detached
	add(base.AddDate(0, 0, 21), true, uuid.New()) // other rule

	occs, err := s.ListManaged(ctx, ruleID, base)
	require.NoError(t, err)
	require.Len(t, occs, 2)
	assert.Equal(t, first, occs[0].ID)
	assert.Equal(t, second, occs[1].ID)

	occs, err = s.ListManaged(ctx, ruleID, base.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, occs, 3)
	assert.Equal(t, early, occs[0].ID)
}

func TestDeleteManaged(t *testing.T) {
	ctx := context.Background()
	s := New()
	ruleID := uuid.New()
	eventID := uuid.New()
	base := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

	managed := &recurrence.Occurrence{
		ID:          uuid.New(),
		EventID:     eventID,
		RuleID:      uuid.NullUUID{UUID: ruleID, Valid: true},
		Start:       base,
		AutoManaged: true,
	}
	detached := &recurrence.Occurrence{
		ID:      uuid.New(),
		EventID: eventID,
		RuleID:  uuid.NullUUID{UUID: ruleID, Valid: true},
		Start:   base.AddDate(0, 0, 7),
	}
	require.NoError(t, s.CreateOccurrence(ctx, managed))
	require.NoError(t, s.CreateOccurrence(ctx, detached))

	require.NoError(t, s.DeleteManaged(ctx, ruleID))

	_, err := s.GetOccurrence(ctx, managed.ID)
	assert.True(t, storage.IsNotFound(err))

	got, err := s.GetOccurrence(ctx, detached.ID)
	require.NoError(t, err)
	assert.False(t, got.RuleID.Valid, "detached occurrence loses its rule link")
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	kept := &storage.Event{ID: uuid.New(), Name: "Kept", Slug: "kept"}
	require.NoError(t, s.CreateEvent(ctx, kept))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.CreateEvent(ctx, &storage.Event{ID: uuid.New(), Name: "Lost", Slug: "lost"}); err != nil {
			return err
		}
		if err := tx.CreateOccurrence(ctx, &recurrence.Occurrence{
			ID:      uuid.New(),
			EventID: kept.ID,
			Start:   time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetEventBySlug(ctx, "lost")
	assert.True(t, storage.IsNotFound(err))
	occs, err := s.ListEventOccurrences(ctx, kept.ID)
	require.NoError(t, err)
	assert.Empty(t, occs)
	assert.Zero(t, s.Counters().Creates, "counters roll back with the data")

	err = s.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		return tx.CreateEvent(ctx, &storage.Event{ID: uuid.New(), Name: "Stays", Slug: "stays"})
	})
	require.NoError(t, err)
	_, err = s.GetEventBySlug(ctx, "stays")
	assert.NoError(t, err)
}
