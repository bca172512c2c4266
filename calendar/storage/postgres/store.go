// Package postgres implements storage.Store on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/mo"

	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage"
	"github.com/dukop/eventcal/calendar/times"
)

// Store is the PostgreSQL-backed storage.
type Store struct {
	queries
	db *sqlx.DB
}

// Open connects to the database at dsn and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, &storage.Error{Type: storage.ErrUnavailable, Message: "connect to database", Err: err}
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{queries: queries{ext: db}, db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RunInTx runs fn inside one database transaction. The transaction
// aborts when fn returns an error, so a failed sync never leaves a
// partial series behind.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &txStore{queries{ext: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the Store view handed to RunInTx callbacks. Nested
// RunInTx calls join the surrounding transaction.
type txStore struct {
	queries
}

func (t *txStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	return fn(ctx, t)
}

// queries holds the SQL shared by pool and transaction scope.
type queries struct {
	ext sqlx.ExtContext
}

func mapErr(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.Error{Type: storage.ErrNotFound, Message: what + " not found"}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Event operations

func (q queries) CreateEvent(ctx context.Context, event *storage.Event) error {
	query := `
		INSERT INTO events (id, name, description, slug, venue_name, street, city, zip_code,
		                    published, cancelled, edit_secret, view_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, modified_at
	`
	row := q.ext.QueryRowxContext(ctx, query,
		event.ID, event.Name, event.Description, event.Slug,
		event.VenueName, event.Street, event.City, event.ZipCode,
		event.Published, event.Cancelled, event.EditSecret, event.ViewSecret)
	if err := row.Scan(&event.Created, &event.Modified); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

const eventColumns = `id, name, description, slug, venue_name, street, city, zip_code,
	published, cancelled, edit_secret, view_secret, created_at, modified_at`

func (q queries) GetEvent(ctx context.Context, id uuid.UUID) (*storage.Event, error) {
	var event storage.Event
	err := sqlx.GetContext(ctx, q.ext, &event,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr("event", err)
	}
	return &event, nil
}

func (q queries) GetEventBySlug(ctx context.Context, slug string) (*storage.Event, error) {
	var event storage.Event
	err := sqlx.GetContext(ctx, q.ext, &event,
		`SELECT `+eventColumns+` FROM events WHERE slug = $1`, slug)
	if err != nil {
		return nil, mapErr("event", err)
	}
	return &event, nil
}

func (q queries) UpdateEvent(ctx context.Context, event *storage.Event) error {
	query := `
		UPDATE events
		SET name = $2, description = $3, slug = $4, venue_name = $5, street = $6,
		    city = $7, zip_code = $8, published = $9, cancelled = $10, modified_at = now()
		WHERE id = $1
		RETURNING modified_at
	`
	row := q.ext.QueryRowxContext(ctx, query,
		event.ID, event.Name, event.Description, event.Slug, event.VenueName,
		event.Street, event.City, event.ZipCode, event.Published, event.Cancelled)
	if err := row.Scan(&event.Modified); err != nil {
		return mapErr("event", err)
	}
	return nil
}

// Rule operations

type ruleRow struct {
	ID       uuid.UUID      `db:"id"`
	EventID  uuid.UUID      `db:"event_id"`
	AnchorID uuid.NullUUID  `db:"anchor_id"`
	Kinds    pq.StringArray `db:"kinds"`
	End      sql.NullTime   `db:"end_date"`
	Created  time.Time      `db:"created_at"`
	Modified time.Time      `db:"modified_at"`
}

func (r *ruleRow) toRule() (*recurrence.Rule, error) {
	rule := &recurrence.Rule{
		ID:       r.ID,
		EventID:  r.EventID,
		AnchorID: r.AnchorID,
		Created:  r.Created,
		Modified: r.Modified,
	}
	for _, name := range r.Kinds {
		kind, err := recurrence.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		rule.Kinds = append(rule.Kinds, kind)
	}
	if r.End.Valid {
		rule.End = mo.Some(times.DateOf(r.End.Time.UTC()))
	}
	return rule, nil
}

func kindNames(kinds []recurrence.Kind) pq.StringArray {
	names := make(pq.StringArray, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, kind.String())
	}
	return names
}

func ruleEndParam(rule *recurrence.Rule) sql.NullTime {
	if end, ok := rule.End.Get(); ok {
		return sql.NullTime{Time: end.Midnight(time.UTC), Valid: true}
	}
	return sql.NullTime{}
}

func (q queries) CreateRule(ctx context.Context, rule *recurrence.Rule) error {
	query := `
		INSERT INTO recurrence_rules (id, event_id, anchor_id, kinds, end_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, modified_at
	`
	row := q.ext.QueryRowxContext(ctx, query,
		rule.ID, rule.EventID, rule.AnchorID, kindNames(rule.Kinds), ruleEndParam(rule))
	if err := row.Scan(&rule.Created, &rule.Modified); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (q queries) GetRule(ctx context.Context, id uuid.UUID) (*recurrence.Rule, error) {
	var row ruleRow
	err := sqlx.GetContext(ctx, q.ext, &row, `
		SELECT id, event_id, anchor_id, kinds, end_date, created_at, modified_at
		FROM recurrence_rules WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr("rule", err)
	}
	return row.toRule()
}

func (q queries) UpdateRule(ctx context.Context, rule *recurrence.Rule) error {
	query := `
		UPDATE recurrence_rules
		SET anchor_id = $2, kinds = $3, end_date = $4, modified_at = now()
		WHERE id = $1
		RETURNING modified_at
	`
	row := q.ext.QueryRowxContext(ctx, query,
		rule.ID, rule.AnchorID, kindNames(rule.Kinds), ruleEndParam(rule))
	if err := row.Scan(&rule.Modified); err != nil {
		return mapErr("rule", err)
	}
	return nil
}

func (q queries) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: "rule not found"}
	}
	return nil
}

func (q queries) ListRules(ctx context.Context) ([]*recurrence.Rule, error) {
	var rows []ruleRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT id, event_id, anchor_id, kinds, end_date, created_at, modified_at
		FROM recurrence_rules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules := make([]*recurrence.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Occurrence operations

const occurrenceColumns = `id, event_id, rule_id, start_at, end_at, cancelled,
	auto_managed, comment, created_at, modified_at`

type occurrenceRow struct {
	ID          uuid.UUID      `db:"id"`
	EventID     uuid.UUID      `db:"event_id"`
	RuleID      uuid.NullUUID  `db:"rule_id"`
	Start       time.Time      `db:"start_at"`
	End         sql.NullTime   `db:"end_at"`
	Cancelled   bool           `db:"cancelled"`
	AutoManaged bool           `db:"auto_managed"`
	Comment     sql.NullString `db:"comment"`
	Created     time.Time      `db:"created_at"`
	Modified    time.Time      `db:"modified_at"`
}

func (r *occurrenceRow) toOccurrence() *recurrence.Occurrence {
	occ := &recurrence.Occurrence{
		ID:          r.ID,
		EventID:     r.EventID,
		RuleID:      r.RuleID,
		Start:       r.Start,
		Cancelled:   r.Cancelled,
		AutoManaged: r.AutoManaged,
		Comment:     r.Comment.String,
		Created:     r.Created,
		Modified:    r.Modified,
	}
	if r.End.Valid {
		end := r.End.Time
		occ.End = &end
	}
	return occ
}

func occurrenceEnd(occ *recurrence.Occurrence) sql.NullTime {
	if occ.End != nil {
		return sql.NullTime{Time: *occ.End, Valid: true}
	}
	return sql.NullTime{}
}

func (q queries) GetOccurrence(ctx context.Context, id uuid.UUID) (*recurrence.Occurrence, error) {
	var row occurrenceRow
	err := sqlx.GetContext(ctx, q.ext, &row,
		`SELECT `+occurrenceColumns+` FROM occurrences WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr("occurrence", err)
	}
	return row.toOccurrence(), nil
}

func (q queries) ListManaged(ctx context.Context, ruleID uuid.UUID, from time.Time) ([]*recurrence.Occurrence, error) {
	var rows []occurrenceRow
	err := sqlx.SelectContext(ctx, q.ext, &rows, `
		SELECT `+occurrenceColumns+` FROM occurrences
		WHERE rule_id = $1 AND auto_managed AND start_at >= $2
		ORDER BY start_at`, ruleID, from)
	if err != nil {
		return nil, fmt.Errorf("list managed occurrences: %w", err)
	}
	return toOccurrences(rows), nil
}

func (q queries) CreateOccurrence(ctx context.Context, occ *recurrence.Occurrence) error {
	query := `
		INSERT INTO occurrences (id, event_id, rule_id, start_at, end_at, cancelled, auto_managed, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, modified_at
	`
	row := q.ext.QueryRowxContext(ctx, query,
		occ.ID, occ.EventID, occ.RuleID, occ.Start, occurrenceEnd(occ),
		occ.Cancelled, occ.AutoManaged, occ.Comment)
	if err := row.Scan(&occ.Created, &occ.Modified); err != nil {
		return fmt.Errorf("create occurrence: %w", err)
	}
	return nil
}

func (q queries) UpdateOccurrence(ctx context.Context, occ *recurrence.Occurrence) error {
	query := `
		UPDATE occurrences
		SET rule_id = $2, start_at = $3, end_at = $4, cancelled = $5,
		    auto_managed = $6, comment = $7, modified_at = now()
		WHERE id = $1
		RETURNING modified_at
	`
	row := q.ext.QueryRowxContext(ctx, query,
		occ.ID, occ.RuleID, occ.Start, occurrenceEnd(occ),
		occ.Cancelled, occ.AutoManaged, occ.Comment)
	if err := row.Scan(&occ.Modified); err != nil {
		return mapErr("occurrence", err)
	}
	return nil
}

func (q queries) DeleteOccurrence(ctx context.Context, id uuid.UUID) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM occurrences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: "occurrence not found"}
	}
	return nil
}

func (q queries) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]*recurrence.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE start_at >= $1 ORDER BY start_at`
	args := []any{from}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []occurrenceRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list upcoming occurrences: %w", err)
	}
	return toOccurrences(rows), nil
}

func (q queries) ListEventOccurrences(ctx context.Context, eventID uuid.UUID) ([]*recurrence.Occurrence, error) {
	var rows []occurrenceRow
	err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT `+occurrenceColumns+` FROM occurrences WHERE event_id = $1 ORDER BY start_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event occurrences: %w", err)
	}
	return toOccurrences(rows), nil
}

func (q queries) DeleteManaged(ctx context.Context, ruleID uuid.UUID) error {
	if _, err := q.ext.ExecContext(ctx,
		`DELETE FROM occurrences WHERE rule_id = $1 AND auto_managed`, ruleID); err != nil {
		return fmt.Errorf("delete managed occurrences: %w", err)
	}
	if _, err := q.ext.ExecContext(ctx,
		`UPDATE occurrences SET rule_id = NULL WHERE rule_id = $1`, ruleID); err != nil {
		return fmt.Errorf("detach remaining occurrences: %w", err)
	}
	return nil
}

func toOccurrences(rows []occurrenceRow) []*recurrence.Occurrence {
	occs := make([]*recurrence.Occurrence, 0, len(rows))
	for i := range rows {
		occs = append(occs, rows[i].toOccurrence())
	}
	return occs
}
