// Package storage defines the persistence contracts the calendar is
// built against. Implementations must return the error types provided
// here so callers can branch on the failure class.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukop/eventcal/calendar/recurrence"
)

// ErrorType classifies a storage failure.
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
	ErrUnavailable   ErrorType = "unavailable"
)

// Error represents a storage-related error.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == ErrNotFound
}

// Event is a calendar event: the thing people attend, hosted somewhere,
// taking place at one or more occurrences.
type Event struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Slug        string    `db:"slug" json:"slug"`
	VenueName   string    `db:"venue_name" json:"venue_name,omitempty"`
	Street      string    `db:"street" json:"street,omitempty"`
	City        string    `db:"city" json:"city,omitempty"`
	ZipCode     string    `db:"zip_code" json:"zip_code,omitempty"`
	Published   bool      `db:"published" json:"published"`
	Cancelled   bool      `db:"cancelled" json:"cancelled"`
	// Secrets grant edit respectively read access to unpublished
	// events through sharing links.
	EditSecret string    `db:"edit_secret" json:"-"`
	ViewSecret string    `db:"view_secret" json:"-"`
	Created    time.Time `db:"created_at" json:"created"`
	Modified   time.Time `db:"modified_at" json:"modified"`
}

// EventStore persists events.
type EventStore interface {
	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	GetEventBySlug(ctx context.Context, slug string) (*Event, error)
	UpdateEvent(ctx context.Context, event *Event) error
}

// RuleStore persists recurrence rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *recurrence.Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (*recurrence.Rule, error)
	UpdateRule(ctx context.Context, rule *recurrence.Rule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	ListRules(ctx context.Context) ([]*recurrence.Rule, error)
}

// OccurrenceQueries are the read and maintenance paths beyond what the
// sync engine itself consumes.
type OccurrenceQueries interface {
	// ListUpcoming returns occurrences starting at or after from,
	// ordered by start. A positive limit caps the result.
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]*recurrence.Occurrence, error)
	// ListEventOccurrences returns all of an event's occurrences
	// ordered by start.
	ListEventOccurrences(ctx context.Context, eventID uuid.UUID) ([]*recurrence.Occurrence, error)
	// DeleteManaged removes every auto-managed occurrence of a rule.
	// Detached occurrences keep their row but lose the rule
	// reference.
	DeleteManaged(ctx context.Context, ruleID uuid.UUID) error
}

// Store is the full persistence surface. RunInTx runs fn against a
// transaction-scoped Store; fn's writes commit together or not at all.
// Sync must always be invoked through such a scope.
type Store interface {
	EventStore
	RuleStore
	OccurrenceQueries
	recurrence.OccurrenceStore

	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
