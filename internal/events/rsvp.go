package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// RSVPResult reports the outcome of an RSVP.
type RSVPResult struct {
	RSVP       model.RSVP     `json:"rsvp"`
	Instance   model.Instance `json:"instance"`
	Waitlisted bool           `json:"waitlisted"`
	// Promoted is the user moved off the waitlist into the freed seat.
	Promoted string `json:"promoted,omitempty"`
}

// RSVP records userID's response for an instance and keeps the attendee
// counter and waitlist consistent:
//   - becoming "going" takes a seat, or joins the waitlist when the
//     instance is full and allows one (ErrEventFull otherwise);
//   - leaving "going" frees the seat (or the waitlist spot) and promotes
//     the head of the waitlist.
//
// All writes go through one Store.ApplyRSVP call, so a failure leaves the
// counter, waitlist and RSVP untouched.
func (s *Service) RSVP(ctx context.Context, instanceID int64, userID string, status model.RSVPStatus, comment string) (RSVPResult, error) {
	if strings.TrimSpace(userID) == "" {
		return RSVPResult{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !status.Valid() {
		return RSVPResult{}, fmt.Errorf("%w: invalid RSVP status %q", ErrValidation, status)
	}

	s.rsvpMu.Lock()
	defer s.rsvpMu.Unlock()

	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return RSVPResult{}, err
	}

	prev, err := s.store.GetRSVP(ctx, instanceID, userID)
	hadRSVP := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return RSVPResult{}, err
	}

	waitlist, err := s.store.ListWaitlist(ctx, instanceID)
	if err != nil {
		return RSVPResult{}, err
	}
	onWaitlist := false
	for _, w := range waitlist {
		if w.UserID == userID {
			onWaitlist = true
			break
		}
	}

	res := RSVPResult{}
	wasGoing := hadRSVP && prev.Status == model.StatusGoing
	seats := inst.CurrentAttendees
	var change RSVPChange

	switch {
	case status == model.StatusGoing && !wasGoing:
		if inst.Full() {
			if !inst.AllowWaitlist {
				return RSVPResult{}, ErrEventFull
			}
			change.JoinWaitlist = true
			res.Waitlisted = true
		} else {
			seats++
		}

	case status != model.StatusGoing && wasGoing:
		if onWaitlist {
			change.LeaveWaitlist = []string{userID}
			break
		}
		seats = max(seats-1, 0)
		// The head of the waitlist takes the freed seat.
		if len(waitlist) > 0 && (inst.MaxAttendees == nil || seats < *inst.MaxAttendees) {
			res.Promoted = waitlist[0].UserID
			change.LeaveWaitlist = []string{res.Promoted}
			seats++
		}

	case status == model.StatusGoing && wasGoing:
		res.Waitlisted = onWaitlist
	}

	if comment == "" && hadRSVP {
		comment = prev.Comment
	}
	change.RSVP = model.RSVP{
		InstanceID: instanceID,
		UserID:     userID,
		Status:     status,
		Comment:    comment,
		Updated:    s.now(),
	}
	change.AttendeeDelta = seats - inst.CurrentAttendees

	inst, err = s.store.ApplyRSVP(ctx, change)
	if err != nil {
		return RSVPResult{}, fmt.Errorf("apply rsvp: %w", err)
	}

	appLog.Info("rsvp recorded",
		"instance_id", instanceID,
		"user_id", userID,
		"status", status,
		"waitlisted", res.Waitlisted,
		"attendees", inst.CurrentAttendees,
	)

	s.cache.InvalidateTag(eventTag(inst.EventID))
	s.cache.InvalidateTag("events")

	res.RSVP = change.RSVP
	res.Instance = inst
	return res, nil
}

// Attendees lists RSVPs and the waitlist for an instance.
func (s *Service) Attendees(ctx context.Context, instanceID int64) ([]model.RSVP, []model.WaitlistEntry, error) {
	if _, err := s.store.GetInstance(ctx, instanceID); err != nil {
		return nil, nil, err
	}
	rsvps, err := s.store.ListRSVPs(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	waitlist, err := s.store.ListWaitlist(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	return rsvps, waitlist, nil
}
