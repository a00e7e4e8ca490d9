package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/recurrence"
)

// Options tunes a Service.
type Options struct {
	// Limit is the occurrence cap for every expansion. Normalized with
	// recurrence.NormalizeLimit, so it is never unbounded.
	Limit int
	// CacheTTL applies to cached read results.
	CacheTTL time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Service is the event-management workflow around the recurrence engine.
type Service struct {
	store    Store
	cache    Cache
	limit    int
	cacheTTL time.Duration
	now      func() time.Time

	// rsvpMu serializes attendee counter updates.
	rsvpMu sync.Mutex
}

// NewService builds a Service. cache may be nil.
func NewService(store Store, cache Cache, opts Options) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		cache:    cache,
		limit:    recurrence.NormalizeLimit(opts.Limit),
		cacheTTL: opts.CacheTTL,
		now:      opts.Now,
	}
}

// CreateResult is returned by CreateEvent.
type CreateResult struct {
	Event     model.Event      `json:"event"`
	Instances []model.Instance `json:"instances"`
}

// CreateEvent stores the event and one instance per occurrence. A recurring
// event is expanded from its base occurrence; a one-off event gets exactly
// one instance for the base occurrence.
func (s *Service) CreateEvent(ctx context.Context, organizerID int64, in CreateEventInput) (CreateResult, error) {
	if err := in.validate(); err != nil {
		return CreateResult{}, err
	}
	rule, ruleEnd, err := in.rule()
	if err != nil {
		return CreateResult{}, err
	}

	now := s.now()
	ev := model.Event{
		OrganizerID:         organizerID,
		Name:                in.Name,
		Summary:             in.Summary,
		Description:         in.Description,
		VenueID:             in.VenueID,
		MaxAttendees:        in.MaxAttendees,
		AllowWaitlist:       in.AllowWaitlist == nil || *in.AllowWaitlist,
		IsRecurring:         rule != "",
		Recurrence:          rule,
		RecurrenceEndDate:   ruleEnd,
		InstanceName:        in.InstanceName,
		InstanceDescription: in.InstanceDescription,
		Start:               in.Start,
		End:                 in.End,
		ExternalUID:         in.ExternalUID,
		Created:             now,
		Updated:             now,
	}
	if err := s.store.CreateEvent(ctx, &ev); err != nil {
		return CreateResult{}, fmt.Errorf("create event: %w", err)
	}

	instances, err := s.persistOccurrences(ctx, ev, s.occurrencesFor(ev))
	if err != nil {
		return CreateResult{}, err
	}

	appLog.Info("event created",
		"event_id", ev.ID,
		"organizer_id", organizerID,
		"recurrence", ev.Recurrence,
		"instances", len(instances),
	)

	s.invalidateEvent(ev)
	return CreateResult{Event: ev, Instances: instances}, nil
}

// occurrencesFor expands the event's rule, or returns the base occurrence
// alone for a one-off event.
func (s *Service) occurrencesFor(ev model.Event) []recurrence.Occurrence {
	base := recurrence.Base{Start: ev.Start, End: ev.End}
	if ev.Recurrence == "" {
		end := ev.Start.Add(base.Duration())
		if ev.End != nil {
			end = *ev.End
		}
		return []recurrence.Occurrence{{Start: ev.Start, End: end}}
	}

	occ := recurrence.Expand(base, ev.Recurrence, s.limit)
	if len(occ) == 0 {
		appLog.Warn("recurrence produced no occurrences", "event_id", ev.ID, "rule", ev.Recurrence)
	}
	return occ
}

func (s *Service) persistOccurrences(ctx context.Context, ev model.Event, occ []recurrence.Occurrence) ([]model.Instance, error) {
	out := make([]model.Instance, 0, len(occ))
	for _, o := range occ {
		inst := newInstance(ev, o)
		if err := s.store.CreateInstance(ctx, &inst); err != nil {
			return out, fmt.Errorf("create instance for event %d: %w", ev.ID, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func newInstance(ev model.Event, o recurrence.Occurrence) model.Instance {
	end := o.End
	return model.Instance{
		EventID:       ev.ID,
		Start:         o.Start,
		End:           &end,
		Name:          ev.InstanceName,
		Description:   ev.InstanceDescription,
		VenueID:       ev.VenueID,
		AllowWaitlist: ev.AllowWaitlist,
		MaxAttendees:  ev.MaxAttendees,
	}
}

// UpdateRecurrence replaces an event's rule. Future instances without
// attendees are dropped and the schedule is regenerated from the base
// occurrence; instances that already have attendees are kept. A nil input
// makes the event non-recurring.
func (s *Service) UpdateRecurrence(ctx context.Context, organizerID, eventID int64, in *RecurrenceInput) (CreateResult, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return CreateResult{}, err
	}
	if ev.OrganizerID != organizerID {
		return CreateResult{}, ErrForbidden
	}

	form := CreateEventInput{IsRecurring: in != nil, Recurrence: in}
	rule, ruleEnd, err := form.rule()
	if err != nil {
		return CreateResult{}, err
	}

	ev.IsRecurring = rule != ""
	ev.Recurrence = rule
	ev.RecurrenceEndDate = ruleEnd
	ev.Updated = s.now()
	if err := s.store.UpdateEvent(ctx, &ev); err != nil {
		return CreateResult{}, fmt.Errorf("update event %d: %w", ev.ID, err)
	}

	instances, err := s.regenerate(ctx, ev, s.occurrencesFor(ev))
	if err != nil {
		return CreateResult{}, err
	}

	appLog.Info("event recurrence updated", "event_id", ev.ID, "recurrence", ev.Recurrence, "instances", len(instances))
	s.invalidateEvent(ev)
	return CreateResult{Event: ev, Instances: instances}, nil
}

// regenerate reconciles future instances with occ and returns the full
// instance list.
func (s *Service) regenerate(ctx context.Context, ev model.Event, occ []recurrence.Occurrence) ([]model.Instance, error) {
	now := s.now()
	existing, err := s.store.ListInstances(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("list instances for event %d: %w", ev.ID, err)
	}

	kept := make(map[int64]bool, len(existing))
	for _, inst := range existing {
		if inst.Start.Before(now) || inst.CurrentAttendees > 0 {
			kept[inst.Start.Unix()] = true
			continue
		}
		if err := s.store.DeleteInstance(ctx, inst.ID); err != nil {
			return nil, fmt.Errorf("delete instance %d: %w", inst.ID, err)
		}
	}

	fresh := make([]recurrence.Occurrence, 0, len(occ))
	for _, o := range occ {
		if o.Start.Before(now) || kept[o.Start.Unix()] {
			continue
		}
		fresh = append(fresh, o)
	}
	if _, err := s.persistOccurrences(ctx, ev, fresh); err != nil {
		return nil, err
	}
	return s.store.ListInstances(ctx, ev.ID)
}

// SyncResult reports what SyncExternal did.
type SyncResult struct {
	Event   model.Event `json:"event"`
	Created bool        `json:"created"`
}

// SyncExternal creates or refreshes an event that originates from an
// external feed, keyed by in.ExternalUID. When extra is non-empty those
// occurrences are used instead of expanding in.Recurrence (for rules the
// recurrence package cannot represent).
func (s *Service) SyncExternal(ctx context.Context, organizerID int64, in CreateEventInput, extra []recurrence.Occurrence) (SyncResult, error) {
	if in.ExternalUID == "" {
		return SyncResult{}, fmt.Errorf("%w: external uid is required", ErrValidation)
	}
	if len(extra) > 0 {
		in.IsRecurring, in.Recurrence = false, nil
	}

	ev, err := s.store.FindEventByExternalUID(ctx, organizerID, in.ExternalUID)
	if errors.Is(err, ErrNotFound) {
		res, err := s.CreateEvent(ctx, organizerID, in)
		if err != nil {
			return SyncResult{}, err
		}
		if len(extra) > 0 {
			// CreateEvent stored the base occurrence only.
			if _, err := s.regenerate(ctx, res.Event, extra); err != nil {
				return SyncResult{}, err
			}
		}
		return SyncResult{Event: res.Event, Created: true}, nil
	}
	if err != nil {
		return SyncResult{}, err
	}

	if err := in.validate(); err != nil {
		return SyncResult{}, err
	}
	rule, ruleEnd, err := in.rule()
	if err != nil {
		return SyncResult{}, err
	}
	ev.Name = in.Name
	ev.Summary = in.Summary
	ev.Description = in.Description
	ev.Start = in.Start
	ev.End = in.End
	ev.IsRecurring = rule != ""
	ev.Recurrence = rule
	ev.RecurrenceEndDate = ruleEnd
	ev.Updated = s.now()
	if err := s.store.UpdateEvent(ctx, &ev); err != nil {
		return SyncResult{}, fmt.Errorf("update event %d: %w", ev.ID, err)
	}

	occ := extra
	if len(occ) == 0 {
		occ = s.occurrencesFor(ev)
	}
	if _, err := s.regenerate(ctx, ev, occ); err != nil {
		return SyncResult{}, err
	}
	s.invalidateEvent(ev)
	return SyncResult{Event: ev}, nil
}

// GetEvent returns a single event.
func (s *Service) GetEvent(ctx context.Context, id int64) (model.Event, error) {
	key := eventKey(id)
	if v, ok := s.cache.Get(key); ok {
		if ev, ok := v.(model.Event); ok {
			return cloneEvent(ev), nil
		}
	}
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	s.cache.Set(key, cloneEvent(ev), s.cacheTTL, eventTag(id), "events")
	return ev, nil
}

// ListInstances returns an event's instances in chronological order.
func (s *Service) ListInstances(ctx context.Context, eventID int64) ([]model.Instance, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListInstances(ctx, eventID)
}

// ListOrganizerEvents returns every event owned by organizerID.
func (s *Service) ListOrganizerEvents(ctx context.Context, organizerID int64) ([]model.Event, error) {
	key := organizerEventsKey(organizerID)
	if v, ok := s.cache.Get(key); ok {
		if evs, ok := v.([]model.Event); ok {
			return cloneEvents(evs), nil
		}
	}
	evs, err := s.store.ListEventsByOrganizer(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, cloneEvents(evs), s.cacheTTL, organizerTag(organizerID), "organizers")
	return evs, nil
}

// Listing is an instance joined with its event for feeds and lists.
type Listing struct {
	Instance    model.Instance `json:"instance"`
	EventID     int64          `json:"event_id"`
	OrganizerID int64          `json:"organizer_id"`
	Name        string         `json:"name"`
	Summary     string         `json:"summary,omitempty"`
	Recurrence  string         `json:"recurrence,omitempty"`
}

// ListUpcoming returns instances starting in [from, from+days) ordered by
// start, at most limit rows.
func (s *Service) ListUpcoming(ctx context.Context, from time.Time, days, limit int) ([]Listing, error) {
	return s.SearchUpcoming(ctx, from, days, limit, "")
}

// SearchUpcoming is ListUpcoming restricted to listings whose name or
// summary contains search, ignoring case. An empty search matches all.
func (s *Service) SearchUpcoming(ctx context.Context, from time.Time, days, limit int, search string) ([]Listing, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 500
	}
	search = strings.ToLower(strings.TrimSpace(search))
	key := "events:upcoming:" + from.UTC().Format(time.RFC3339) + ":" + strconv.Itoa(days) + ":" + strconv.Itoa(limit)
	if search != "" {
		key += ":q=" + search
	}
	if v, ok := s.cache.Get(key); ok {
		if ls, ok := v.([]Listing); ok {
			return cloneListings(ls), nil
		}
	}

	// Filtering happens after the join, so a search reads the whole window.
	rows := limit
	if search != "" {
		rows = 0
	}
	insts, err := s.store.ListInstancesBetween(ctx, from, from.AddDate(0, 0, days), rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.Event)
	out := make([]Listing, 0, len(insts))
	for _, inst := range insts {
		ev, ok := byID[inst.EventID]
		if !ok {
			ev, err = s.store.GetEvent(ctx, inst.EventID)
			if err != nil {
				return nil, fmt.Errorf("load event %d: %w", inst.EventID, err)
			}
			byID[ev.ID] = ev
		}
		name := ev.Name
		if inst.Name != "" {
			name = inst.Name
		}
		if search != "" && !matches(search, name, ev.Summary) {
			continue
		}
		out = append(out, Listing{
			Instance:    inst,
			EventID:     ev.ID,
			OrganizerID: ev.OrganizerID,
			Name:        name,
			Summary:     ev.Summary,
			Recurrence:  ev.Recurrence,
		})
		if len(out) == limit {
			break
		}
	}

	s.cache.Set(key, cloneListings(out), s.cacheTTL, "events")
	return out, nil
}

// Preview is an unsaved expansion shown while editing an event.
type Preview struct {
	Rule        string                  `json:"rule"`
	Description string                  `json:"description"`
	Occurrences []recurrence.Occurrence `json:"occurrences"`
}

// PreviewRecurrence encodes and expands in without persisting anything.
func (s *Service) PreviewRecurrence(in RecurrenceInput, start time.Time, end *time.Time) (Preview, error) {
	if start.IsZero() {
		return Preview{}, fmt.Errorf("%w: start is required", ErrValidation)
	}
	spec, err := in.Spec()
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	rule, err := recurrence.Encode(spec)
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return Preview{
		Rule:        rule,
		Description: recurrence.Describe(spec),
		Occurrences: recurrence.ExpandSpec(recurrence.Base{Start: start, End: end}, spec, s.limit),
	}, nil
}

func matches(search string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}
