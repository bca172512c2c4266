// Package memory provides a map-backed storage.Store for tests and
// development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage"
)

// Store implements storage.Store using in-memory maps. It additionally
// counts occurrence writes, which lets tests assert that a repeated
// sync performs no work.
type Store struct {
	mu          sync.RWMutex
	events      map[uuid.UUID]*storage.Event
	occurrences map[uuid.UUID]*recurrence.Occurrence
	rules       map[uuid.UUID]*recurrence.Rule

	counters Counters
}

// Counters tallies occurrence writes since the last reset.
type Counters struct {
	Creates int
	Updates int
	Deletes int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:      make(map[uuid.UUID]*storage.Event),
		occurrences: make(map[uuid.UUID]*recurrence.Occurrence),
		rules:       make(map[uuid.UUID]*recurrence.Rule),
	}
}

// Counters returns the write tallies.
func (s *Store) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// ResetCounters zeroes the write tallies.
func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = Counters{}
}

func notFound(what string) error {
	return &storage.Error{Type: storage.ErrNotFound, Message: what + " not found"}
}

// Event operations

func (s *Store) CreateEvent(_ context.Context, event *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "event already exists"}
	}
	now := time.Now()
	event.Created, event.Modified = now, now
	s.events[event.ID] = cloneEvent(event)
	return nil
}

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, notFound("event")
	}
	return cloneEvent(event), nil
}

func (s *Store) GetEventBySlug(_ context.Context, slug string) (*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, event := range s.events {
		if event.Slug == slug {
			return cloneEvent(event), nil
		}
	}
	return nil, notFound("event")
}

func (s *Store) UpdateEvent(_ context.Context, event *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.events[event.ID]
	if !ok {
		return notFound("event")
	}
	event.Created = prev.Created
	event.Modified = time.Now()
	s.events[event.ID] = cloneEvent(event)
	return nil
}

// Rule operations

func (s *Store) CreateRule(_ context.Context, rule *recurrence.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "rule already exists"}
	}
	now := time.Now()
	rule.Created, rule.Modified = now, now
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *Store) GetRule(_ context.Context, id uuid.UUID) (*recurrence.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, notFound("rule")
	}
	return cloneRule(rule), nil
}

func (s *Store) UpdateRule(_ context.Context, rule *recurrence.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rules[rule.ID]
	if !ok {
		return notFound("rule")
	}
	rule.Created = prev.Created
	rule.Modified = time.Now()
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return notFound("rule")
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) ListRules(_ context.Context) ([]*recurrence.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*recurrence.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, cloneRule(rule))
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Created.Before(rules[j].Created) })
	return rules, nil
}

// Occurrence operations

func (s *Store) GetOccurrence(_ context.Context, id uuid.UUID) (*recurrence.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ, ok := s.occurrences[id]
	if !ok {
		return nil, notFound("occurrence")
	}
	return occ.Clone(), nil
}

func (s *Store) ListManaged(_ context.Context, ruleID uuid.UUID, from time.Time) ([]*recurrence.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*recurrence.Occurrence
	for _, occ := range s.occurrences {
		if occ.AutoManaged && occ.RuleID.Valid && occ.RuleID.UUID == ruleID && !occ.Start.Before(from) {
			out = append(out, occ.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) CreateOccurrence(_ context.Context, occ *recurrence.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occurrences[occ.ID]; ok {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "occurrence already exists"}
	}
	now := time.Now()
	occ.Created, occ.Modified = now, now
	s.occurrences[occ.ID] = occ.Clone()
	s.counters.Creates++
	return nil
}

func (s *Store) UpdateOccurrence(_ context.Context, occ *recurrence.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.occurrences[occ.ID]
	if !ok {
		return notFound("occurrence")
	}
	occ.Created = prev.Created
	occ.Modified = time.Now()
	s.occurrences[occ.ID] = occ.Clone()
	s.counters.Updates++
	return nil
}

func (s *Store) DeleteOccurrence(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occurrences[id]; !ok {
		return notFound("occurrence")
	}
	delete(s.occurrences, id)
	s.counters.Deletes++
	return nil
}

func (s *Store) ListUpcoming(_ context.Context, from time.Time, limit int) ([]*recurrence.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*recurrence.Occurrence
	for _, occ := range s.occurrences {
		if !occ.Start.Before(from) {
			out = append(out, occ.Clone())
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListEventOccurrences(_ context.Context, eventID uuid.UUID) ([]*recurrence.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*recurrence.Occurrence
	for _, occ := range s.occurrences {
		if occ.EventID == eventID {
			out = append(out, occ.Clone())
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) DeleteManaged(_ context.Context, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, occ := range s.occurrences {
		if !occ.RuleID.Valid || occ.RuleID.UUID != ruleID {
			continue
		}
		if occ.AutoManaged {
			delete(s.occurrences, id)
			s.counters.Deletes++
		} else {
			occ.RuleID = uuid.NullUUID{}
		}
	}
	return nil
}

// RunInTx snapshots the store, runs fn against it, and restores the
// snapshot when fn fails. That gives tests the same all-or-nothing
// visibility a database transaction provides.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	s.mu.Lock()
	snapshot := s.snapshot()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.restore(snapshot)
		s.mu.Unlock()
		return err
	}
	return nil
}

type state struct {
	events      map[uuid.UUID]*storage.Event
	occurrences map[uuid.UUID]*recurrence.Occurrence
	rules       map[uuid.UUID]*recurrence.Rule
	counters    Counters
}

func (s *Store) snapshot() state {
	st := state{
		events:      make(map[uuid.UUID]*storage.Event, len(s.events)),
		occurrences: make(map[uuid.UUID]*recurrence.Occurrence, len(s.occurrences)),
		rules:       make(map[uuid.UUID]*recurrence.Rule, len(s.rules)),
		counters:    s.counters,
	}
	for id, event := range s.events {
		st.events[id] = cloneEvent(event)
	}
	for id, occ := range s.occurrences {
		st.occurrences[id] = occ.Clone()
	}
	for id, rule := range s.rules {
		st.rules[id] = cloneRule(rule)
	}
	return st
}

func (s *Store) restore(st state) {
	s.events = st.events
	s.occurrences = st.occurrences
	s.rules = st.rules
	s.counters = st.counters
}

func sortByStart(occs []*recurrence.Occurrence) {
	sort.Slice(occs, func(i, j int) bool { return occs[i].Start.Before(occs[j].Start) })
}

func cloneEvent(event *storage.Event) *storage.Event {
	c := *event
	return &c
}

func cloneRule(rule *recurrence.Rule) *recurrence.Rule {
	c := *rule
	c.Kinds = append([]recurrence.Kind(nil), rule.Kinds...)
	return &c
}
