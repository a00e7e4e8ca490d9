package events

import (
	"fmt"
	"strconv"

	"eventcal/internal/model"
)

func eventKey(id int64) string { return "event:" + strconv.FormatInt(id, 10) }

func eventTag(id int64) string { return "event:" + strconv.FormatInt(id, 10) }

func organizerTag(id int64) string { return "organizer:" + strconv.FormatInt(id, 10) }

func organizerEventsKey(id int64) string {
	return "organizer:" + strconv.FormatInt(id, 10) + ":events"
}

func (s *Service) invalidateEvent(ev model.Event) {
	s.cache.Delete(eventKey(ev.ID))
	s.cache.InvalidateTag(eventTag(ev.ID))
	s.cache.Delete(organizerEventsKey(ev.OrganizerID))
	s.cache.InvalidateTag(organizerTag(ev.OrganizerID))
	s.cache.DeletePattern("events:*")
	s.cache.InvalidateTag("events")
}

// InvalidateCache drops cached reads by scope. kind is one of events,
// event, organizers, organizer or all; event and organizer need id.
func (s *Service) InvalidateCache(kind, id string) (int, error) {
	needID := func() (int64, error) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s cache invalidation needs a numeric id", ErrValidation, kind)
		}
		return n, nil
	}

	switch kind {
	case "events":
		return s.cache.DeletePattern("events:*") + s.cache.InvalidateTag("events"), nil
	case "event":
		n, err := needID()
		if err != nil {
			return 0, err
		}
		return s.cache.InvalidateTag(eventTag(n)), nil
	case "organizers":
		return s.cache.DeletePattern("organizer*") + s.cache.InvalidateTag("organizers"), nil
	case "organizer":
		n, err := needID()
		if err != nil {
			return 0, err
		}
		return s.cache.InvalidateTag(organizerTag(n)), nil
	case "all":
		return s.cache.DeletePattern("*"), nil
	default:
		return 0, fmt.Errorf("%w: invalid cache type %q", ErrValidation, kind)
	}
}

// Cached values are cloned on the way in and out so callers never share
// pointers or backing arrays with the cache.

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneEvent(ev model.Event) model.Event {
	ev.VenueID = clonePtr(ev.VenueID)
	ev.MaxAttendees = clonePtr(ev.MaxAttendees)
	ev.RecurrenceEndDate = clonePtr(ev.RecurrenceEndDate)
	ev.End = clonePtr(ev.End)
	return ev
}

func cloneEvents(evs []model.Event) []model.Event {
	out := make([]model.Event, len(evs))
	for i, ev := range evs {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneListings(ls []Listing) []Listing {
	out := make([]Listing, len(ls))
	for i, l := range ls {
		l.Instance.End = clonePtr(l.Instance.End)
		l.Instance.VenueID = clonePtr(l.Instance.VenueID)
		l.Instance.MaxAttendees = clonePtr(l.Instance.MaxAttendees)
		out[i] = l
	}
	return out
}
