package events

import (
	"fmt"
	"strings"
	"time"

	"eventcal/internal/recurrence"
)

// RecurrenceInput is the recurrence section of the event form.
type RecurrenceInput struct {
	Pattern    string `json:"pattern"`
	Interval   int    `json:"interval,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
}

// Spec converts the form values into a validated recurrence.Spec.
func (in RecurrenceInput) Spec() (recurrence.Spec, error) {
	pattern, err := recurrence.ParsePattern(in.Pattern)
	if err != nil {
		return recurrence.Spec{}, err
	}

	spec := recurrence.Spec{Pattern: pattern, Interval: in.Interval}

	if s := strings.TrimSpace(in.EndDate); s != "" {
		// Accept a full timestamp from date-time pickers as well.
		if len(s) > 10 {
			s = s[:10]
		}
		d, err := recurrence.ParseDate(s)
		if err != nil {
			return recurrence.Spec{}, fmt.Errorf("end_date %q: %w", in.EndDate, err)
		}
		spec.EndDate = &d
	}

	if len(in.DaysOfWeek) > 0 {
		spec.DaysOfWeek = make([]time.Weekday, len(in.DaysOfWeek))
		for i, d := range in.DaysOfWeek {
			spec.DaysOfWeek[i] = time.Weekday(d)
		}
	}

	if err := spec.Validate(); err != nil {
		return recurrence.Spec{}, err
	}
	return spec, nil
}

// RecurrenceInputFrom renders spec back into form values.
func RecurrenceInputFrom(spec recurrence.Spec) RecurrenceInput {
	in := RecurrenceInput{Pattern: string(spec.Pattern), Interval: spec.Interval}
	if spec.EndDate != nil {
		in.EndDate = spec.EndDate.String()
	}
	for _, d := range spec.DaysOfWeek {
		in.DaysOfWeek = append(in.DaysOfWeek, int(d))
	}
	return in
}

// CreateEventInput is the organizer's event form.
type CreateEventInput struct {
	Name        string `json:"name"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	VenueID     *int64 `json:"venue_id,omitempty"`

	MaxAttendees  *int  `json:"max_attendees,omitempty"`
	AllowWaitlist *bool `json:"allow_waitlist,omitempty"`

	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	InstanceName        string `json:"instance_name,omitempty"`
	InstanceDescription string `json:"instance_description,omitempty"`

	IsRecurring bool             `json:"is_recurring"`
	Recurrence  *RecurrenceInput `json:"recurrence,omitempty"`

	ExternalUID string `json:"-"`
}

func (in CreateEventInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrValidation)
	}
	if in.End != nil && in.End.Before(in.Start) {
		return fmt.Errorf("%w: end is before start", ErrValidation)
	}
	if in.MaxAttendees != nil && *in.MaxAttendees < 0 {
		return fmt.Errorf("%w: max_attendees must not be negative", ErrValidation)
	}
	if in.IsRecurring && in.Recurrence == nil {
		return fmt.Errorf("%w: recurring event needs a recurrence", ErrValidation)
	}
	return nil
}

// rule returns the encoded rule and its end date, or "" for a one-off event.
func (in CreateEventInput) rule() (string, *time.Time, error) {
	if !in.IsRecurring || in.Recurrence == nil {
		return "", nil, nil
	}
	spec, err := in.Recurrence.Spec()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	rule, err := recurrence.Encode(spec)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var end *time.Time
	if spec.EndDate != nil {
		t := spec.EndDate.In(time.UTC)
		end = &t
	}
	return rule, end, nil
}
