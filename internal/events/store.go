package events

import (
	"context"
	"errors"
	"time"

	"eventcal/internal/model"
)

var (
	// ErrNotFound is returned by stores and the service for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrValidation wraps any rejected input, including recurrence errors.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is returned when an organizer touches another organizer's event.
	ErrForbidden = errors.New("forbidden")
	// ErrEventFull is returned for a "going" RSVP on a full instance without a waitlist.
	ErrEventFull = errors.New("event is full and waitlist is not allowed")
)

// Store persists events, their instances, RSVPs and waitlists. Rule
// strings are stored verbatim and never interpreted by a Store.
type Store interface {
	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id int64) (model.Event, error)
	UpdateEvent(ctx context.Context, ev *model.Event) error
	ListEventsByOrganizer(ctx context.Context, organizerID int64) ([]model.Event, error)
	FindEventByExternalUID(ctx context.Context, organizerID int64, uid string) (model.Event, error)

	CreateInstance(ctx context.Context, inst *model.Instance) error
	GetInstance(ctx context.Context, id int64) (model.Instance, error)
	UpdateInstance(ctx context.Context, inst *model.Instance) error
	DeleteInstance(ctx context.Context, id int64) error
	// ListInstances returns an event's instances ordered by start.
	ListInstances(ctx context.Context, eventID int64) ([]model.Instance, error)
	// ListInstancesBetween returns instances with from <= start < to ordered by start.
	ListInstancesBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Instance, error)

	GetRSVP(ctx context.Context, instanceID int64, userID string) (model.RSVP, error)
	UpsertRSVP(ctx context.Context, r model.RSVP) error
	ListRSVPs(ctx context.Context, instanceID int64) ([]model.RSVP, error)

	// ListWaitlist returns entries ordered by position.
	ListWaitlist(ctx context.Context, instanceID int64) ([]model.WaitlistEntry, error)
	// AddToWaitlist appends the user at the end of the queue; re-adding an
	// existing user is a no-op.
	AddToWaitlist(ctx context.Context, instanceID int64, userID string) (model.WaitlistEntry, error)
	// RemoveFromWaitlist deletes the user and closes the gap in positions.
	RemoveFromWaitlist(ctx context.Context, instanceID int64, userID string) error

	// ApplyRSVP applies c in a single transaction and returns the updated
	// instance. On error nothing is written.
	ApplyRSVP(ctx context.Context, c RSVPChange) (model.Instance, error)

	// AddComment stores c and assigns its ID.
	AddComment(ctx context.Context, c *model.Comment) error
	// ListComments returns an instance's comments oldest first.
	ListComments(ctx context.Context, instanceID int64) ([]model.Comment, error)
}

// RSVPChange is one attendee transition on an instance. Stores apply the
// waitlist edits, then the counter delta, then the RSVP upsert.
type RSVPChange struct {
	RSVP model.RSVP
	// JoinWaitlist appends RSVP.UserID to the waitlist.
	JoinWaitlist bool
	// LeaveWaitlist users are removed and the remaining positions closed up.
	LeaveWaitlist []string
	// AttendeeDelta is added to current_attendees, floored at zero.
	AttendeeDelta int
}

// Cache is the TTL key/value cache used for read paths.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration, tags ...string)
	Delete(key string)
	DeletePattern(pattern string) int
	InvalidateTag(tag string) int
}

type noopCache struct{}

func (noopCache) Get(string) (any, bool)                    { return nil, false }
func (noopCache) Set(string, any, time.Duration, ...string) {}
func (noopCache) Delete(string)                             {}
func (noopCache) DeletePattern(string) int                  { return 0 }
func (noopCache) InvalidateTag(string) int                  { return 0 }
