package model

import "time"

// Event is the organizer-owned template. A recurring event carries its
// encoded recurrence rule; its concrete dates live in Instance rows.
type Event struct {
	ID          int64  `json:"id"`
	OrganizerID int64  `json:"organizer_id"`
	Name        string `json:"name"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	VenueID     *int64 `json:"venue_id,omitempty"`

	MaxAttendees  *int `json:"max_attendees,omitempty"`
	AllowWaitlist bool `json:"allow_waitlist"`

	IsRecurring bool `json:"is_recurring"`
	// Recurrence is the encoded rule string, stored verbatim.
	Recurrence        string     `json:"recurrence,omitempty"`
	RecurrenceEndDate *time.Time `json:"recurrence_end_date,omitempty"`

	InstanceName        string `json:"instance_name,omitempty"`
	InstanceDescription string `json:"instance_description,omitempty"`

	// Start / End describe the base occurrence.
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	// ExternalUID is set for events imported from an ICS feed.
	ExternalUID string `json:"external_uid,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Instance is one dated occurrence of an Event.
type Instance struct {
	ID          int64      `json:"id"`
	EventID     int64      `json:"event_id"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	VenueID     *int64     `json:"venue_id,omitempty"`

	AllowWaitlist    bool `json:"allow_waitlist"`
	CurrentAttendees int  `json:"current_attendees"`
	MaxAttendees     *int `json:"max_attendees,omitempty"`
}

// Full reports whether the instance has reached its attendee limit.
func (i Instance) Full() bool {
	return i.MaxAttendees != nil && i.CurrentAttendees >= *i.MaxAttendees
}

// RSVPStatus is an attendee's response to an instance.
type RSVPStatus string

const (
	StatusGoing    RSVPStatus = "going"
	StatusMaybe    RSVPStatus = "maybe"
	StatusNotGoing RSVPStatus = "not_going"
)

// Valid reports whether s is a known status.
func (s RSVPStatus) Valid() bool {
	switch s {
	case StatusGoing, StatusMaybe, StatusNotGoing:
		return true
	}
	return false
}

// RSVP is a user's response for one instance.
type RSVP struct {
	InstanceID int64      `json:"instance_id"`
	UserID     string     `json:"user_id"`
	Status     RSVPStatus `json:"status"`
	Comment    string     `json:"comment,omitempty"`
	Updated    time.Time  `json:"updated"`
}

// WaitlistEntry is a queued attendee for a full instance. Position is
// 1-based.
type WaitlistEntry struct {
	InstanceID int64     `json:"instance_id"`
	UserID     string    `json:"user_id"`
	Position   int       `json:"position"`
	Created    time.Time `json:"created"`
}

// Comment is a note left by a user on one instance.
type Comment struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	UserID     string    `json:"user_id"`
	Body       string    `json:"body"`
	Created    time.Time `json:"created"`
}
