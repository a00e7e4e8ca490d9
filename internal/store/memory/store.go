// Package memory is a process-local events.Store used by tests and the
// "memory" store driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eventcal/internal/events"
	"eventcal/internal/model"
)

type rsvpKey struct {
	instanceID int64
	userID     string
}

// Store keeps all rows in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	nextEventID    int64
	nextInstanceID int64
	nextCommentID  int64

	events    map[int64]model.Event
	instances map[int64]model.Instance
	rsvps     map[rsvpKey]model.RSVP
	waitlists map[int64][]model.WaitlistEntry
	comments  map[int64][]model.Comment
}

var _ events.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		events:    make(map[int64]model.Event),
		instances: make(map[int64]model.Instance),
		rsvps:     make(map[rsvpKey]model.RSVP),
		waitlists: make(map[int64][]model.WaitlistEntry),
		comments:  make(map[int64][]model.Comment),
	}
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, events.ErrNotFound)
}

func (s *Store) CreateEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events[ev.ID] = *ev
	return nil
}

func (s *Store) GetEvent(_ context.Context, id int64) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, notFound("event", id)
	}
	return ev, nil
}

func (s *Store) UpdateEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; !ok {
		return notFound("event", ev.ID)
	}
	s.events[ev.ID] = *ev
	return nil
}

func (s *Store) ListEventsByOrganizer(_ context.Context, organizerID int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if ev.OrganizerID == organizerID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindEventByExternalUID(_ context.Context, organizerID int64, uid string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.OrganizerID == organizerID && ev.ExternalUID == uid {
			return ev, nil
		}
	}
	return model.Event{}, notFound("external event", uid)
}

func (s *Store) CreateInstance(_ context.Context, inst *model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[inst.EventID]; !ok {
		return notFound("event", inst.EventID)
	}
	s.nextInstanceID++
	inst.ID = s.nextInstanceID
	s.instances[inst.ID] = *inst
	return nil
}

func (s *Store) GetInstance(_ context.Context, id int64) (model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return model.Instance{}, notFound("instance", id)
	}
	return inst, nil
}

func (s *Store) UpdateInstance(_ context.Context, inst *model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return notFound("instance", inst.ID)
	}
	s.instances[inst.ID] = *inst
	return nil
}

func (s *Store) DeleteInstance(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return notFound("instance", id)
	}
	delete(s.instances, id)
	delete(s.waitlists, id)
	delete(s.comments, id)
	for k := range s.rsvps {
		if k.instanceID == id {
			delete(s.rsvps, k)
		}
	}
	return nil
}

func sortByStart(out []model.Instance) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
}

func (s *Store) ListInstances(_ context.Context, eventID int64) ([]model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Instance, 0)
	for _, inst := range s.instances {
		if inst.EventID == eventID {
			out = append(out, inst)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) ListInstancesBetween(_ context.Context, from, to time.Time, limit int) ([]model.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Instance, 0)
	for _, inst := range s.instances {
		if !inst.Start.Before(from) && inst.Start.Before(to) {
			out = append(out, inst)
		}
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetRSVP(_ context.Context, instanceID int64, userID string) (model.RSVP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rsvps[rsvpKey{instanceID, userID}]
	if !ok {
		return model.RSVP{}, notFound("rsvp", userID)
	}
	return r, nil
}

func (s *Store) UpsertRSVP(_ context.Context, r model.RSVP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[r.InstanceID]; !ok {
		return notFound("instance", r.InstanceID)
	}
	s.rsvps[rsvpKey{r.InstanceID, r.UserID}] = r
	return nil
}

func (s *Store) ListRSVPs(_ context.Context, instanceID int64) ([]model.RSVP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RSVP, 0)
	for k, r := range s.rsvps {
		if k.instanceID == instanceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) ListWaitlist(_ context.Context, instanceID int64) ([]model.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.WaitlistEntry{}, s.waitlists[instanceID]...), nil
}

func (s *Store) AddToWaitlist(_ context.Context, instanceID int64, userID string) (model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinWaitlist(instanceID, userID), nil
}

func (s *Store) RemoveFromWaitlist(_ context.Context, instanceID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveWaitlist(instanceID, userID)
	return nil
}

// joinWaitlist and leaveWaitlist expect s.mu to be held.
func (s *Store) joinWaitlist(instanceID int64, userID string) model.WaitlistEntry {
	for _, w := range s.waitlists[instanceID] {
		if w.UserID == userID {
			return w
		}
	}
	w := model.WaitlistEntry{
		InstanceID: instanceID,
		UserID:     userID,
		Position:   len(s.waitlists[instanceID]) + 1,
		Created:    time.Now(),
	}
	s.waitlists[instanceID] = append(s.waitlists[instanceID], w)
	return w
}

func (s *Store) leaveWaitlist(instanceID int64, userID string) {
	list := s.waitlists[instanceID]
	out := make([]model.WaitlistEntry, 0, len(list))
	for _, w := range list {
		if w.UserID == userID {
			continue
		}
		w.Position = len(out) + 1
		out = append(out, w)
	}
	s.waitlists[instanceID] = out
}

// ApplyRSVP validates the whole change before touching any map, so a
// rejected change leaves no partial state.
func (s *Store) ApplyRSVP(_ context.Context, c events.RSVPChange) (model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.RSVP.InstanceID
	inst, ok := s.instances[id]
	if !ok {
		return model.Instance{}, notFound("instance", id)
	}
	if !c.RSVP.Status.Valid() {
		return model.Instance{}, fmt.Errorf("upsert rsvp: invalid status %q", c.RSVP.Status)
	}

	if c.JoinWaitlist {
		s.joinWaitlist(id, c.RSVP.UserID)
	}
	for _, u := range c.LeaveWaitlist {
		s.leaveWaitlist(id, u)
	}
	inst.CurrentAttendees = max(inst.CurrentAttendees+c.AttendeeDelta, 0)
	s.instances[id] = inst
	s.rsvps[rsvpKey{id, c.RSVP.UserID}] = c.RSVP
	return inst, nil
}

func (s *Store) AddComment(_ context.Context, c *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[c.InstanceID]; !ok {
		return notFound("instance", c.InstanceID)
	}
	s.nextCommentID++
	c.ID = s.nextCommentID
	s.comments[c.InstanceID] = append(s.comments[c.InstanceID], *c)
	return nil
}

func (s *Store) ListComments(_ context.Context, instanceID int64) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Comment{}, s.comments[instanceID]...), nil
}
