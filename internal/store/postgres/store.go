// Package postgres implements events.Store on PostgreSQL via pgxpool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventcal/internal/events"
	"eventcal/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

var _ events.Store = (*Store)(nil)

// Open connects to dsn, pings the server and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	op := "postgres.Open"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller owns the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func wrapNotFound(err error, op, kind string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", kind, id, events.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func checkAffected(tag pgconn.CommandTag, kind string, id any) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %v: %w", kind, id, events.ErrNotFound)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

const eventColumns = `id, organizer_id, name, summary, description, venue_id, max_attendees,
	allow_waitlist, is_recurring, recurrence, recurrence_end_date, instance_name,
	instance_description, start_at, end_at, external_uid, created_at, updated_at`

func scanEvent(row pgx.Row) (model.Event, error) {
	var ev model.Event
	err := row.Scan(&ev.ID, &ev.OrganizerID, &ev.Name, &ev.Summary, &ev.Description,
		&ev.VenueID, &ev.MaxAttendees, &ev.AllowWaitlist, &ev.IsRecurring, &ev.Recurrence,
		&ev.RecurrenceEndDate, &ev.InstanceName, &ev.InstanceDescription, &ev.Start, &ev.End,
		&ev.ExternalUID, &ev.Created, &ev.Updated)
	if err != nil {
		return model.Event{}, err
	}
	ev.Start = ev.Start.UTC()
	ev.End = utcPtr(ev.End)
	ev.RecurrenceEndDate = utcPtr(ev.RecurrenceEndDate)
	ev.Created = ev.Created.UTC()
	ev.Updated = ev.Updated.UTC()
	return ev, nil
}

func (s *Store) CreateEvent(ctx context.Context, ev *model.Event) error {
	op := "postgres.CreateEvent"

	err := s.pool.QueryRow(ctx, `
	INSERT INTO events
	(organizer_id, name, summary, description, venue_id, max_attendees, allow_waitlist,
	 is_recurring, recurrence, recurrence_end_date, instance_name, instance_description,
	 start_at, end_at, external_uid, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING id;
	`,
		ev.OrganizerID, ev.Name, ev.Summary, ev.Description, ev.VenueID, ev.MaxAttendees,
		ev.AllowWaitlist, ev.IsRecurring, ev.Recurrence, ev.RecurrenceEndDate,
		ev.InstanceName, ev.InstanceDescription, ev.Start, ev.End, ev.ExternalUID,
		ev.Created, ev.Updated,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (model.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return model.Event{}, wrapNotFound(err, "postgres.GetEvent", "event", id)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev *model.Event) error {
	op := "postgres.UpdateEvent"

	tag, err := s.pool.Exec(ctx, `
	UPDATE events SET
	name = $1, summary = $2, description = $3, venue_id = $4, max_attendees = $5,
	allow_waitlist = $6, is_recurring = $7, recurrence = $8, recurrence_end_date = $9,
	instance_name = $10, instance_description = $11, start_at = $12, end_at = $13,
	external_uid = $14, updated_at = $15
	WHERE id = $16;
	`,
		ev.Name, ev.Summary, ev.Description, ev.VenueID, ev.MaxAttendees, ev.AllowWaitlist,
		ev.IsRecurring, ev.Recurrence, ev.RecurrenceEndDate, ev.InstanceName,
		ev.InstanceDescription, ev.Start, ev.End, ev.ExternalUID, ev.Updated, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return checkAffected(tag, "event", ev.ID)
}

func (s *Store) queryEvents(ctx context.Context, op, query string, args ...any) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ListEventsByOrganizer(ctx context.Context, organizerID int64) ([]model.Event, error) {
	return s.queryEvents(ctx, "postgres.ListEventsByOrganizer",
		`SELECT `+eventColumns+` FROM events WHERE organizer_id = $1 ORDER BY id`, organizerID)
}

func (s *Store) FindEventByExternalUID(ctx context.Context, organizerID int64, uid string) (model.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events
	WHERE organizer_id = $1 AND external_uid = $2`, organizerID, uid)
	ev, err := scanEvent(row)
	if err != nil {
		return model.Event{}, wrapNotFound(err, "postgres.FindEventByExternalUID", "external event", uid)
	}
	return ev, nil
}

const instanceColumns = `id, event_id, start_at, end_at, name, description, venue_id,
	allow_waitlist, current_attendees, max_attendees`

func scanInstance(row pgx.Row) (model.Instance, error) {
	var inst model.Instance
	err := row.Scan(&inst.ID, &inst.EventID, &inst.Start, &inst.End, &inst.Name,
		&inst.Description, &inst.VenueID, &inst.AllowWaitlist, &inst.CurrentAttendees,
		&inst.MaxAttendees)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Start = inst.Start.UTC()
	inst.End = utcPtr(inst.End)
	return inst, nil
}

func (s *Store) CreateInstance(ctx context.Context, inst *model.Instance) error {
	op := "postgres.CreateInstance"

	err := s.pool.QueryRow(ctx, `
	INSERT INTO event_instances
	(event_id, start_at, end_at, name, description, venue_id, allow_waitlist,
	 current_attendees, max_attendees)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id;
	`,
		inst.EventID, inst.Start, inst.End, inst.Name, inst.Description, inst.VenueID,
		inst.AllowWaitlist, inst.CurrentAttendees, inst.MaxAttendees,
	).Scan(&inst.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id int64) (model.Instance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM event_instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if err != nil {
		return model.Instance{}, wrapNotFound(err, "postgres.GetInstance", "instance", id)
	}
	return inst, nil
}

func (s *Store) UpdateInstance(ctx context.Context, inst *model.Instance) error {
	op := "postgres.UpdateInstance"

	tag, err := s.pool.Exec(ctx, `
	UPDATE event_instances SET
	start_at = $1, end_at = $2, name = $3, description = $4, venue_id = $5,
	allow_waitlist = $6, current_attendees = $7, max_attendees = $8
	WHERE id = $9;
	`,
		inst.Start, inst.End, inst.Name, inst.Description, inst.VenueID,
		inst.AllowWaitlist, inst.CurrentAttendees, inst.MaxAttendees, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return checkAffected(tag, "instance", inst.ID)
}

func (s *Store) DeleteInstance(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM event_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres.DeleteInstance: %w", err)
	}
	return checkAffected(tag, "instance", id)
}

func (s *Store) queryInstances(ctx context.Context, op, query string, args ...any) ([]model.Instance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []model.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) ListInstances(ctx context.Context, eventID int64) ([]model.Instance, error) {
	return s.queryInstances(ctx, "postgres.ListInstances", `SELECT `+instanceColumns+`
	FROM event_instances WHERE event_id = $1 ORDER BY start_at, id`, eventID)
}

func (s *Store) ListInstancesBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Instance, error) {
	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	return s.queryInstances(ctx, "postgres.ListInstancesBetween", `SELECT `+instanceColumns+`
	FROM event_instances WHERE start_at >= $1 AND start_at < $2
	ORDER BY start_at, id LIMIT $3`, from, to, lim)
}

func (s *Store) GetRSVP(ctx context.Context, instanceID int64, userID string) (model.RSVP, error) {
	var (
		r      model.RSVP
		status string
	)
	err := s.pool.QueryRow(ctx, `SELECT instance_id, user_id, status, comment, updated_at
	FROM event_attendees WHERE instance_id = $1 AND user_id = $2`, instanceID, userID).
		Scan(&r.InstanceID, &r.UserID, &status, &r.Comment, &r.Updated)
	if err != nil {
		return model.RSVP{}, wrapNotFound(err, "postgres.GetRSVP", "rsvp", userID)
	}
	r.Status = model.RSVPStatus(status)
	r.Updated = r.Updated.UTC()
	return r, nil
}

func (s *Store) UpsertRSVP(ctx context.Context, r model.RSVP) error {
	_, err := s.pool.Exec(ctx, upsertRSVPSQL, r.InstanceID, r.UserID, string(r.Status), r.Comment, r.Updated)
	if err != nil {
		return fmt.Errorf("postgres.UpsertRSVP: %w", err)
	}
	return nil
}

func (s *Store) ListRSVPs(ctx context.Context, instanceID int64) ([]model.RSVP, error) {
	op := "postgres.ListRSVPs"

	rows, err := s.pool.Query(ctx, `SELECT instance_id, user_id, status, comment, updated_at
	FROM event_attendees WHERE instance_id = $1 ORDER BY user_id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []model.RSVP{}
	for rows.Next() {
		var (
			r      model.RSVP
			status string
		)
		if err := rows.Scan(&r.InstanceID, &r.UserID, &status, &r.Comment, &r.Updated); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		r.Status = model.RSVPStatus(status)
		r.Updated = r.Updated.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListWaitlist(ctx context.Context, instanceID int64) ([]model.WaitlistEntry, error) {
	op := "postgres.ListWaitlist"

	rows, err := s.pool.Query(ctx, `SELECT instance_id, user_id, position, created_at
	FROM event_waitlist WHERE instance_id = $1 ORDER BY position`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []model.WaitlistEntry{}
	for rows.Next() {
		var w model.WaitlistEntry
		if err := rows.Scan(&w.InstanceID, &w.UserID, &w.Position, &w.Created); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		w.Created = w.Created.UTC()
		out = append(out, w)
	}
	return out, rows.Err()
}

const insertWaitlistSQL = `
	INSERT INTO event_waitlist (instance_id, user_id, position, created_at)
	SELECT $1::bigint, $2::text, COALESCE(MAX(position), 0) + 1, $3::timestamptz
	FROM event_waitlist WHERE instance_id = $1
	ON CONFLICT (instance_id, user_id) DO NOTHING;
	`

const upsertRSVPSQL = `
	INSERT INTO event_attendees (instance_id, user_id, status, comment, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (instance_id, user_id) DO UPDATE SET
	status = EXCLUDED.status, comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at;
	`

func (s *Store) AddToWaitlist(ctx context.Context, instanceID int64, userID string) (model.WaitlistEntry, error) {
	op := "postgres.AddToWaitlist"

	if _, err := s.pool.Exec(ctx, insertWaitlistSQL, instanceID, userID, time.Now()); err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("%s: %w", op, err)
	}

	var w model.WaitlistEntry
	err := s.pool.QueryRow(ctx, `SELECT instance_id, user_id, position, created_at
	FROM event_waitlist WHERE instance_id = $1 AND user_id = $2`, instanceID, userID).
		Scan(&w.InstanceID, &w.UserID, &w.Position, &w.Created)
	if err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("%s: read back: %w", op, err)
	}
	w.Created = w.Created.UTC()
	return w, nil
}

func (s *Store) RemoveFromWaitlist(ctx context.Context, instanceID int64, userID string) error {
	op := "postgres.RemoveFromWaitlist"

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return removeWaitlist(ctx, tx, instanceID, userID)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func removeWaitlist(ctx context.Context, tx pgx.Tx, instanceID int64, userID string) error {
	var pos int
	err := tx.QueryRow(ctx, `DELETE FROM event_waitlist
	WHERE instance_id = $1 AND user_id = $2 RETURNING position`, instanceID, userID).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE event_waitlist SET position = position - 1
	WHERE instance_id = $1 AND position > $2`, instanceID, pos); err != nil {
		return fmt.Errorf("renumber: %w", err)
	}
	return nil
}

func (s *Store) ApplyRSVP(ctx context.Context, c events.RSVPChange) (model.Instance, error) {
	op := "postgres.ApplyRSVP"
	id := c.RSVP.InstanceID

	var inst model.Instance
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		inst, err = scanInstance(tx.QueryRow(ctx, `
		UPDATE event_instances SET current_attendees = GREATEST(current_attendees + $1, 0)
		WHERE id = $2 RETURNING `+instanceColumns, c.AttendeeDelta, id))
		if err != nil {
			return wrapNotFound(err, "update attendees", "instance", id)
		}
		if c.JoinWaitlist {
			if _, err := tx.Exec(ctx, insertWaitlistSQL, id, c.RSVP.UserID, time.Now()); err != nil {
				return fmt.Errorf("add to waitlist: %w", err)
			}
		}
		for _, u := range c.LeaveWaitlist {
			if err := removeWaitlist(ctx, tx, id, u); err != nil {
				return fmt.Errorf("remove from waitlist: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, upsertRSVPSQL, id, c.RSVP.UserID, string(c.RSVP.Status),
			c.RSVP.Comment, c.RSVP.Updated); err != nil {
			return fmt.Errorf("upsert rsvp: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Instance{}, fmt.Errorf("%s: %w", op, err)
	}
	return inst, nil
}

func (s *Store) AddComment(ctx context.Context, c *model.Comment) error {
	err := s.pool.QueryRow(ctx, `
	INSERT INTO event_comments (instance_id, user_id, body, created_at)
	VALUES ($1, $2, $3, $4)
	RETURNING id;
	`, c.InstanceID, c.UserID, c.Body, c.Created).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("postgres.AddComment: %w", err)
	}
	return nil
}

func (s *Store) ListComments(ctx context.Context, instanceID int64) ([]model.Comment, error) {
	op := "postgres.ListComments"

	rows, err := s.pool.Query(ctx, `SELECT id, instance_id, user_id, body, created_at
	FROM event_comments WHERE instance_id = $1 ORDER BY id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.InstanceID, &c.UserID, &c.Body, &c.Created); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		c.Created = c.Created.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
