// Package calendar is the service layer tying events, occurrences and
// recurrence rules together. It owns the transaction boundaries around
// recurrence sync; handlers and commands talk to a Service, never to
// the engine directly.
package calendar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/samber/mo"

	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage"
	"github.com/dukop/eventcal/calendar/times"
)

const secretLength = 24

// Service exposes the calendar's entry points.
type Service struct {
	store  storage.Store
	engine *recurrence.Engine
	clock  times.Clock
	log    *slog.Logger
}

// NewService wires a service. A nil logger discards log output.
func NewService(store storage.Store, engine *recurrence.Engine, clock times.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, engine: engine, clock: clock, log: log}
}

func invalid(format string, args ...any) error {
	return &storage.Error{Type: storage.ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewEvent is the input for CreateEvent: the event's description plus
// its first occurrence.
type NewEvent struct {
	Name        string
	Description string
	VenueName   string
	Street      string
	City        string
	ZipCode     string
	Start       time.Time
	End         *time.Time
}

// CreateEvent stores a new event with a slug derived from its name,
// fresh edit/view secrets, and its first occurrence.
func (s *Service) CreateEvent(ctx context.Context, in NewEvent) (*storage.Event, *recurrence.Occurrence, error) {
	if in.Name == "" {
		return nil, nil, invalid("event name is required")
	}
	if in.Start.IsZero() {
		return nil, nil, invalid("event start is required")
	}
	if in.End != nil && !in.End.After(in.Start) {
		return nil, nil, invalid("event end must be after its start")
	}

	editSecret, err := gonanoid.New(secretLength)
	if err != nil {
		return nil, nil, fmt.Errorf("generate edit secret: %w", err)
	}
	viewSecret, err := gonanoid.New(secretLength)
	if err != nil {
		return nil, nil, fmt.Errorf("generate view secret: %w", err)
	}

	event := &storage.Event{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		VenueName:   in.VenueName,
		Street:      in.Street,
		City:        in.City,
		ZipCode:     in.ZipCode,
		EditSecret:  editSecret,
		ViewSecret:  viewSecret,
	}
	occ := &recurrence.Occurrence{
		ID:      uuid.New(),
		EventID: event.ID,
		Start:   in.Start,
		End:     in.End,
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		event.Slug, err = s.uniqueSlug(ctx, tx, in.Name)
		if err != nil {
			return err
		}
		if err := tx.CreateEvent(ctx, event); err != nil {
			return err
		}
		return tx.CreateOccurrence(ctx, occ)
	})
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("event created", "event", event.ID, "slug", event.Slug)
	return event, occ, nil
}

// uniqueSlug slugifies name, suffixing a short random tail when the
// plain slug is taken.
func (s *Service) uniqueSlug(ctx context.Context, tx storage.Store, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "event"
	}
	if _, err := tx.GetEventBySlug(ctx, base); storage.IsNotFound(err) {
		return base, nil
	} else if err != nil {
		return "", err
	}
	tail, err := gonanoid.New(6)
	if err != nil {
		return "", fmt.Errorf("generate slug suffix: %w", err)
	}
	return base + "-" + slug.Make(tail), nil
}

// NewRule is the input for CreateRuleAndSync.
type NewRule struct {
	EventID  uuid.UUID
	AnchorID uuid.UUID
	Kinds    []recurrence.Kind
	End      mo.Option[times.Date]
	// IncludePast backfills occurrences between the anchor and now,
	// which only makes sense when importing historic data.
	IncludePast bool
}

// CreateRuleAndSync creates a recurrence rule anchored at an existing
// occurrence and expands it, all in one transaction.
func (s *Service) CreateRuleAndSync(ctx context.Context, in NewRule) (*recurrence.Rule, error) {
	rule := &recurrence.Rule{
		ID:       uuid.New(),
		EventID:  in.EventID,
		AnchorID: uuid.NullUUID{UUID: in.AnchorID, Valid: true},
		Kinds:    dedupeKinds(in.Kinds),
		End:      in.End,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		anchor, err := tx.GetOccurrence(ctx, in.AnchorID)
		if err != nil {
			return fmt.Errorf("load anchor: %w", err)
		}
		if anchor.EventID != in.EventID {
			return invalid("anchor occurrence belongs to another event")
		}
		if err := validateEnd(rule.End, anchor.Start); err != nil {
			return err
		}
		if err := tx.CreateRule(ctx, rule); err != nil {
			return err
		}
		return s.engine.Sync(ctx, tx, rule, recurrence.SyncOptions{IncludePast: in.IncludePast})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("recurrence rule created", "rule", rule.ID, "event", rule.EventID, "kinds", len(rule.Kinds))
	return rule, nil
}

// RuleEdit describes an edit to an existing rule. A nil Kinds slice
// leaves the kinds unchanged; End replaces the end date when present,
// and ClearEnd removes it.
type RuleEdit struct {
	Kinds    []recurrence.Kind
	End      mo.Option[times.Date]
	ClearEnd bool
}

// EditRuleAndResync applies the edit and re-expands the rule in one
// transaction.
func (s *Service) EditRuleAndResync(ctx context.Context, ruleID uuid.UUID, edit RuleEdit) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		rule, err := tx.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if edit.Kinds != nil {
			rule.Kinds = dedupeKinds(edit.Kinds)
		}
		if edit.ClearEnd {
			rule.End = mo.None[times.Date]()
		} else if end, ok := edit.End.Get(); ok {
			rule.End = mo.Some(end)
		}
		if rule.AnchorID.Valid {
			anchor, err := tx.GetOccurrence(ctx, rule.AnchorID.UUID)
			if err != nil {
				return fmt.Errorf("load anchor: %w", err)
			}
			if err := validateEnd(rule.End, anchor.Start); err != nil {
				return err
			}
		}
		if err := tx.UpdateRule(ctx, rule); err != nil {
			return err
		}
		return s.engine.Sync(ctx, tx, rule, recurrence.SyncOptions{})
	})
	if err == nil {
		s.log.Info("recurrence rule updated", "rule", ruleID)
	}
	return err
}

// DeleteRule removes a rule and cascades to its auto-managed
// occurrences. Detached occurrences survive with the rule reference
// cleared.
func (s *Service) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := tx.GetRule(ctx, ruleID); err != nil {
			return err
		}
		if err := tx.DeleteManaged(ctx, ruleID); err != nil {
			return err
		}
		return tx.DeleteRule(ctx, ruleID)
	})
	if err == nil {
		s.log.Info("recurrence rule deleted", "rule", ruleID)
	}
	return err
}

// DetachOccurrence takes an occurrence out of automatic maintenance so
// a manual edit to it survives future syncs.
func (s *Service) DetachOccurrence(ctx context.Context, id uuid.UUID) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		occ, err := tx.GetOccurrence(ctx, id)
		if err != nil {
			return err
		}
		if !occ.AutoManaged {
			return nil
		}
		occ.AutoManaged = false
		return tx.UpdateOccurrence(ctx, occ)
	})
}

// ResyncAll re-expands every stored rule, each in its own transaction.
// Run periodically so elapsed time rolls the horizon forward.
func (s *Service) ResyncAll(ctx context.Context, includePast bool) error {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, rule := range rules {
		rule := rule
		err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
			return s.engine.Sync(ctx, tx, rule, recurrence.SyncOptions{IncludePast: includePast})
		})
		if err != nil {
			failed++
			s.log.Error("resync failed", "rule", rule.ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("resync: %d of %d rules failed", failed, len(rules))
	}
	s.log.Info("resync complete", "rules", len(rules))
	return nil
}

// Upcoming pairs an occurrence with its event and, when generated by a
// rule, that rule's kinds. Feeds and listings consume it.
type Upcoming struct {
	Occurrence *recurrence.Occurrence
	Event      *storage.Event
	Kinds      []recurrence.Kind
}

// ListUpcoming returns future occurrences of published events ordered
// by start, judged against the injected clock.
func (s *Service) ListUpcoming(ctx context.Context, limit int) ([]Upcoming, error) {
	occs, err := s.store.ListUpcoming(ctx, s.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	events := make(map[uuid.UUID]*storage.Event)
	kinds := make(map[uuid.UUID][]recurrence.Kind)
	var out []Upcoming
	for _, occ := range occs {
		event, ok := events[occ.EventID]
		if !ok {
			event, err = s.store.GetEvent(ctx, occ.EventID)
			if err != nil {
				return nil, err
			}
			events[occ.EventID] = event
		}
		if !event.Published {
			continue
		}
		up := Upcoming{Occurrence: occ, Event: event}
		if occ.RuleID.Valid {
			ruleKinds, ok := kinds[occ.RuleID.UUID]
			if !ok {
				rule, err := s.store.GetRule(ctx, occ.RuleID.UUID)
				if err != nil && !storage.IsNotFound(err) {
					return nil, err
				}
				if rule != nil {
					ruleKinds = rule.Kinds
				}
				kinds[occ.RuleID.UUID] = ruleKinds
			}
			up.Kinds = ruleKinds
		}
		out = append(out, up)
	}
	return out, nil
}

// GetEventBySlug returns an event with all its occurrences.
func (s *Service) GetEventBySlug(ctx context.Context, eventSlug string) (*storage.Event, []*recurrence.Occurrence, error) {
	event, err := s.store.GetEventBySlug(ctx, eventSlug)
	if err != nil {
		return nil, nil, err
	}
	occs, err := s.store.ListEventOccurrences(ctx, event.ID)
	if err != nil {
		return nil, nil, err
	}
	return event, occs, nil
}

// PublishEvent marks an event visible in listings and feeds.
func (s *Service) PublishEvent(ctx context.Context, id uuid.UUID) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		event, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		event.Published = true
		return tx.UpdateEvent(ctx, event)
	})
}

func validateEnd(end mo.Option[times.Date], anchorStart time.Time) error {
	date, ok := end.Get()
	if !ok {
		return nil
	}
	if !date.After(times.DateOf(anchorStart)) {
		return invalid("rule end %s is not after the anchor date", date)
	}
	return nil
}

func dedupeKinds(kinds []recurrence.Kind) []recurrence.Kind {
	seen := make(map[recurrence.Kind]bool, len(kinds))
	out := make([]recurrence.Kind, 0, len(kinds))
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	return out
}
