// Package sqlite implements events.Store on SQLite via mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"eventcal/internal/events"
	"eventcal/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - UNIQUE index on (organizer_id, external_uid) for imported events
// 2 - event_comments table
const currentSchemaVersion = 2

// Store persists events in SQLite with WAL mode. Timestamps are stored as
// UTC unix milliseconds.
type Store struct {
	db *sql.DB
}

var _ events.Store = (*Store)(nil)

// Open creates or opens a SQLite database at the given path and applies
// pragmas and migrations. It is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_external_uid
			ON events(organizer_id, external_uid) WHERE external_uid != ''`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func toMS(t time.Time) int64 { return t.UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func ptrMS(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMS(n.Int64)
	return &t
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func ptrInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func wrapNotFound(err error, kind string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", kind, id, events.ErrNotFound)
	}
	return err
}

func checkAffected(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", kind, id, events.ErrNotFound)
	}
	return nil
}

const eventColumns = `id, organizer_id, name, summary, description, venue_id, max_attendees,
	allow_waitlist, is_recurring, recurrence, recurrence_end_ms, instance_name,
	instance_description, start_ms, end_ms, external_uid, created_ms, updated_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		ev                         model.Event
		venue, maxAtt, recEnd, end sql.NullInt64
		start, created, updated    int64
	)
	err := row.Scan(&ev.ID, &ev.OrganizerID, &ev.Name, &ev.Summary, &ev.Description,
		&venue, &maxAtt, &ev.AllowWaitlist, &ev.IsRecurring, &ev.Recurrence, &recEnd,
		&ev.InstanceName, &ev.InstanceDescription, &start, &end, &ev.ExternalUID,
		&created, &updated)
	if err != nil {
		return model.Event{}, err
	}
	ev.VenueID = ptrInt64(venue)
	ev.MaxAttendees = ptrInt(maxAtt)
	ev.RecurrenceEndDate = ptrMS(recEnd)
	ev.Start = fromMS(start)
	ev.End = ptrMS(end)
	ev.Created = fromMS(created)
	ev.Updated = fromMS(updated)
	return ev, nil
}

func (s *Store) CreateEvent(ctx context.Context, ev *model.Event) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO events
		(organizer_id, name, summary, description, venue_id, max_attendees, allow_waitlist,
		 is_recurring, recurrence, recurrence_end_ms, instance_name, instance_description,
		 start_ms, end_ms, external_uid, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.OrganizerID, ev.Name, ev.Summary, ev.Description, nullInt64(ev.VenueID),
		nullInt(ev.MaxAttendees), ev.AllowWaitlist, ev.IsRecurring, ev.Recurrence,
		nullMS(ev.RecurrenceEndDate), ev.InstanceName, ev.InstanceDescription,
		toMS(ev.Start), nullMS(ev.End), ev.ExternalUID, toMS(ev.Created), toMS(ev.Updated))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	ev.ID = id
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return model.Event{}, wrapNotFound(err, "event", id)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, ev *model.Event) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET
		name = ?, summary = ?, description = ?, venue_id = ?, max_attendees = ?,
		allow_waitlist = ?, is_recurring = ?, recurrence = ?, recurrence_end_ms = ?,
		instance_name = ?, instance_description = ?, start_ms = ?, end_ms = ?,
		external_uid = ?, updated_ms = ?
		WHERE id = ?`,
		ev.Name, ev.Summary, ev.Description, nullInt64(ev.VenueID), nullInt(ev.MaxAttendees),
		ev.AllowWaitlist, ev.IsRecurring, ev.Recurrence, nullMS(ev.RecurrenceEndDate),
		ev.InstanceName, ev.InstanceDescription, toMS(ev.Start), nullMS(ev.End),
		ev.ExternalUID, toMS(ev.Updated), ev.ID)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return checkAffected(res, "event", ev.ID)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ListEventsByOrganizer(ctx context.Context, organizerID int64) ([]model.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE organizer_id = ? ORDER BY id`, organizerID)
}

func (s *Store) FindEventByExternalUID(ctx context.Context, organizerID int64, uid string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events
		WHERE organizer_id = ? AND external_uid = ?`, organizerID, uid)
	ev, err := scanEvent(row)
	if err != nil {
		return model.Event{}, wrapNotFound(err, "external event", uid)
	}
	return ev, nil
}

const instanceColumns = `id, event_id, start_ms, end_ms, name, description, venue_id,
	allow_waitlist, current_attendees, max_attendees`

func scanInstance(row scanner) (model.Instance, error) {
	var (
		inst               model.Instance
		start              int64
		end, venue, maxAtt sql.NullInt64
	)
	err := row.Scan(&inst.ID, &inst.EventID, &start, &end, &inst.Name, &inst.Description,
		&venue, &inst.AllowWaitlist, &inst.CurrentAttendees, &maxAtt)
	if err != nil {
		return model.Instance{}, err
	}
	inst.Start = fromMS(start)
	inst.End = ptrMS(end)
	inst.VenueID = ptrInt64(venue)
	inst.MaxAttendees = ptrInt(maxAtt)
	return inst, nil
}

func (s *Store) CreateInstance(ctx context.Context, inst *model.Instance) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO event_instances
		(event_id, start_ms, end_ms, name, description, venue_id, allow_waitlist,
		 current_attendees, max_attendees)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.EventID, toMS(inst.Start), nullMS(inst.End), inst.Name, inst.Description,
		nullInt64(inst.VenueID), inst.AllowWaitlist, inst.CurrentAttendees, nullInt(inst.MaxAttendees))
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	inst.ID = id
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id int64) (model.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM event_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err != nil {
		return model.Instance{}, wrapNotFound(err, "instance", id)
	}
	return inst, nil
}

func (s *Store) UpdateInstance(ctx context.Context, inst *model.Instance) error {
	res, err := s.db.ExecContext(ctx, `UPDATE event_instances SET
		start_ms = ?, end_ms = ?, name = ?, description = ?, venue_id = ?,
		allow_waitlist = ?, current_attendees = ?, max_attendees = ?
		WHERE id = ?`,
		toMS(inst.Start), nullMS(inst.End), inst.Name, inst.Description, nullInt64(inst.VenueID),
		inst.AllowWaitlist, inst.CurrentAttendees, nullInt(inst.MaxAttendees), inst.ID)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	return checkAffected(res, "instance", inst.ID)
}

func (s *Store) DeleteInstance(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return checkAffected(res, "instance", id)
}

func (s *Store) queryInstances(ctx context.Context, query string, args ...any) ([]model.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) ListInstances(ctx context.Context, eventID int64) ([]model.Instance, error) {
	return s.queryInstances(ctx, `SELECT `+instanceColumns+` FROM event_instances
		WHERE event_id = ? ORDER BY start_ms, id`, eventID)
}

func (s *Store) ListInstancesBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Instance, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryInstances(ctx, `SELECT `+instanceColumns+` FROM event_instances
		WHERE start_ms >= ? AND start_ms < ? ORDER BY start_ms, id LIMIT ?`,
		toMS(from), toMS(to), limit)
}

func (s *Store) GetRSVP(ctx context.Context, instanceID int64, userID string) (model.RSVP, error) {
	var (
		r       model.RSVP
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT instance_id, user_id, status, comment, updated_ms
		FROM event_attendees WHERE instance_id = ? AND user_id = ?`, instanceID, userID).
		Scan(&r.InstanceID, &r.UserID, &r.Status, &r.Comment, &updated)
	if err != nil {
		return model.RSVP{}, wrapNotFound(err, "rsvp", userID)
	}
	r.Updated = fromMS(updated)
	return r, nil
}

func (s *Store) UpsertRSVP(ctx context.Context, r model.RSVP) error {
	_, err := s.db.ExecContext(ctx, upsertRSVPSQL,
		r.InstanceID, r.UserID, string(r.Status), r.Comment, toMS(r.Updated))
	if err != nil {
		return fmt.Errorf("upsert rsvp: %w", err)
	}
	return nil
}

func (s *Store) ListRSVPs(ctx context.Context, instanceID int64) ([]model.RSVP, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, user_id, status, comment, updated_ms
		FROM event_attendees WHERE instance_id = ? ORDER BY user_id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RSVP, 0)
	for rows.Next() {
		var (
			r       model.RSVP
			updated int64
		)
		if err := rows.Scan(&r.InstanceID, &r.UserID, &r.Status, &r.Comment, &updated); err != nil {
			return nil, err
		}
		r.Updated = fromMS(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListWaitlist(ctx context.Context, instanceID int64) ([]model.WaitlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, user_id, position, created_ms
		FROM event_waitlist WHERE instance_id = ? ORDER BY position`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.WaitlistEntry, 0)
	for rows.Next() {
		var (
			w       model.WaitlistEntry
			created int64
		)
		if err := rows.Scan(&w.InstanceID, &w.UserID, &w.Position, &created); err != nil {
			return nil, err
		}
		w.Created = fromMS(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

const insertWaitlistSQL = `INSERT INTO event_waitlist (instance_id, user_id, position, created_ms)
	SELECT ?, ?, COALESCE(MAX(position), 0) + 1, ? FROM event_waitlist WHERE instance_id = ?
	ON CONFLICT(instance_id, user_id) DO NOTHING`

const upsertRSVPSQL = `INSERT INTO event_attendees
	(instance_id, user_id, status, comment, updated_ms) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(instance_id, user_id) DO UPDATE SET
	status = excluded.status, comment = excluded.comment, updated_ms = excluded.updated_ms`

func (s *Store) AddToWaitlist(ctx context.Context, instanceID int64, userID string) (model.WaitlistEntry, error) {
	_, err := s.db.ExecContext(ctx, insertWaitlistSQL, instanceID, userID, toMS(time.Now()), instanceID)
	if err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("add to waitlist: %w", err)
	}

	var (
		w       model.WaitlistEntry
		created int64
	)
	err = s.db.QueryRowContext(ctx, `SELECT instance_id, user_id, position, created_ms
		FROM event_waitlist WHERE instance_id = ? AND user_id = ?`, instanceID, userID).
		Scan(&w.InstanceID, &w.UserID, &w.Position, &created)
	if err != nil {
		return model.WaitlistEntry{}, fmt.Errorf("read waitlist entry: %w", err)
	}
	w.Created = fromMS(created)
	return w, nil
}

func (s *Store) RemoveFromWaitlist(ctx context.Context, instanceID int64, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := removeWaitlist(ctx, tx, instanceID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func removeWaitlist(ctx context.Context, tx *sql.Tx, instanceID int64, userID string) error {
	var pos int
	err := tx.QueryRowContext(ctx, `SELECT position FROM event_waitlist
		WHERE instance_id = ? AND user_id = ?`, instanceID, userID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_waitlist
		WHERE instance_id = ? AND user_id = ?`, instanceID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE event_waitlist SET position = position - 1
		WHERE instance_id = ? AND position > ?`, instanceID, pos); err != nil {
		return err
	}
	return nil
}

func (s *Store) ApplyRSVP(ctx context.Context, c events.RSVPChange) (model.Instance, error) {
	id := c.RSVP.InstanceID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Instance{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE event_instances
		SET current_attendees = MAX(current_attendees + ?, 0) WHERE id = ?`, c.AttendeeDelta, id)
	if err != nil {
		return model.Instance{}, fmt.Errorf("update attendees: %w", err)
	}
	if err := checkAffected(res, "instance", id); err != nil {
		return model.Instance{}, err
	}
	if c.JoinWaitlist {
		if _, err := tx.ExecContext(ctx, insertWaitlistSQL, id, c.RSVP.UserID, toMS(time.Now()), id); err != nil {
			return model.Instance{}, fmt.Errorf("add to waitlist: %w", err)
		}
	}
	for _, u := range c.LeaveWaitlist {
		if err := removeWaitlist(ctx, tx, id, u); err != nil {
			return model.Instance{}, fmt.Errorf("remove from waitlist: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertRSVPSQL, id, c.RSVP.UserID, string(c.RSVP.Status),
		c.RSVP.Comment, toMS(c.RSVP.Updated)); err != nil {
		return model.Instance{}, fmt.Errorf("upsert rsvp: %w", err)
	}

	inst, err := scanInstance(tx.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM event_instances WHERE id = ?`, id))
	if err != nil {
		return model.Instance{}, wrapNotFound(err, "instance", id)
	}
	if err := tx.Commit(); err != nil {
		return model.Instance{}, fmt.Errorf("commit: %w", err)
	}
	return inst, nil
}

func (s *Store) AddComment(ctx context.Context, c *model.Comment) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO event_comments (instance_id, user_id, body, created_ms)
		VALUES (?, ?, ?, ?)`, c.InstanceID, c.UserID, c.Body, toMS(c.Created))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListComments(ctx context.Context, instanceID int64) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, instance_id, user_id, body, created_ms
		FROM event_comments WHERE instance_id = ? ORDER BY id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Comment, 0)
	for rows.Next() {
		var (
			c       model.Comment
			created int64
		)
		if err := rows.Scan(&c.ID, &c.InstanceID, &c.UserID, &c.Body, &created); err != nil {
			return nil, err
		}
		c.Created = fromMS(created)
		out = append(out, c)
	}
	return out, rows.Err()
}
