// Package storetest holds behaviour checks shared by every events.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/events"
	"eventcal/internal/model"
)

// Run exercises a fresh store returned by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) events.Store) {
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("Instances", func(t *testing.T) { testInstances(t, newStore(t)) })
	t.Run("RSVPs", func(t *testing.T) { testRSVPs(t, newStore(t)) })
	t.Run("Waitlist", func(t *testing.T) { testWaitlist(t, newStore(t)) })
	t.Run("ApplyRSVP", func(t *testing.T) { testApplyRSVP(t, newStore(t)) })
	t.Run("ApplyRSVPRollsBack", func(t *testing.T) { testApplyRSVPRollsBack(t, newStore(t)) })
	t.Run("Comments", func(t *testing.T) { testComments(t, newStore(t)) })
}

var base = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newEvent(organizerID int64, name string) *model.Event {
	end := base.Add(2 * time.Hour)
	return &model.Event{
		OrganizerID:   organizerID,
		Name:          name,
		MaxAttendees:  ptr(10),
		AllowWaitlist: true,
		IsRecurring:   true,
		Recurrence:    "FREQ=WEEKLY;BYDAY=MO,WE",
		Start:         base,
		End:           &end,
		Created:       base,
		Updated:       base,
	}
}

func testEvents(t *testing.T, s events.Store) {
	ctx := context.Background()

	ev := newEvent(7, "Book club")
	ev.VenueID = ptr(int64(3))
	ev.ExternalUID = "abc@example.com"
	require.NoError(t, s.CreateEvent(ctx, ev))
	require.NotZero(t, ev.ID)
	require.NoError(t, s.CreateEvent(ctx, newEvent(8, "Choir")))

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Book club", got.Name)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE", got.Recurrence)
	assert.True(t, got.Start.Equal(base))
	require.NotNil(t, got.End)
	assert.True(t, got.End.Equal(base.Add(2*time.Hour)))
	require.NotNil(t, got.VenueID)
	assert.Equal(t, int64(3), *got.VenueID)
	require.NotNil(t, got.MaxAttendees)
	assert.Equal(t, 10, *got.MaxAttendees)
	assert.Nil(t, got.RecurrenceEndDate)

	got.Name = "Book club (new)"
	got.Recurrence = ""
	got.IsRecurring = false
	require.NoError(t, s.UpdateEvent(ctx, &got))
	got, err = s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Book club (new)", got.Name)
	assert.False(t, got.IsRecurring)

	list, err := s.ListEventsByOrganizer(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ev.ID, list[0].ID)

	found, err := s.FindEventByExternalUID(ctx, 7, "abc@example.com")
	require.NoError(t, err)
	assert.Equal(t, ev.ID, found.ID)

	_, err = s.FindEventByExternalUID(ctx, 8, "abc@example.com")
	assert.ErrorIs(t, err, events.ErrNotFound)
	_, err = s.GetEvent(ctx, 999)
	assert.ErrorIs(t, err, events.ErrNotFound)
	assert.ErrorIs(t, s.UpdateEvent(ctx, &model.Event{ID: 999, Start: base}), events.ErrNotFound)
}

func createInstances(t *testing.T, s events.Store, eventID int64, starts ...time.Time) []model.Instance {
	t.Helper()
	out := make([]model.Instance, 0, len(starts))
	for _, st := range starts {
		end := st.Add(time.Hour)
		inst := model.Instance{EventID: eventID, Start: st, End: &end, MaxAttendees: ptr(2), AllowWaitlist: true}
		require.NoError(t, s.CreateInstance(context.Background(), &inst))
		out = append(out, inst)
	}
	return out
}

func testInstances(t *testing.T, s events.Store) {
	ctx := context.Background()
	ev := newEvent(1, "Run club")
	require.NoError(t, s.CreateEvent(ctx, ev))

	// Created out of order on purpose.
	insts := createInstances(t, s, ev.ID, base.AddDate(0, 0, 14), base, base.AddDate(0, 0, 7))

	list, err := s.ListInstances(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].Start.Equal(base))
	assert.True(t, list[1].Start.Equal(base.AddDate(0, 0, 7)))
	assert.True(t, list[2].Start.Equal(base.AddDate(0, 0, 14)))

	between, err := s.ListInstancesBetween(ctx, base, base.AddDate(0, 0, 14), 0)
	require.NoError(t, err)
	assert.Len(t, between, 2)
	limited, err := s.ListInstancesBetween(ctx, base, base.AddDate(0, 1, 0), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.True(t, limited[0].Start.Equal(base))

	inst := insts[1]
	inst.CurrentAttendees = 2
	require.NoError(t, s.UpdateInstance(ctx, &inst))
	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentAttendees)
	assert.True(t, got.Full())

	require.NoError(t, s.DeleteInstance(ctx, insts[0].ID))
	_, err = s.GetInstance(ctx, insts[0].ID)
	assert.ErrorIs(t, err, events.ErrNotFound)
	assert.ErrorIs(t, s.DeleteInstance(ctx, insts[0].ID), events.ErrNotFound)
}

func testRSVPs(t *testing.T, s events.Store) {
	ctx := context.Background()
	ev := newEvent(1, "Potluck")
	require.NoError(t, s.CreateEvent(ctx, ev))
	inst := createInstances(t, s, ev.ID, base)[0]

	_, err := s.GetRSVP(ctx, inst.ID, "alice")
	assert.ErrorIs(t, err, events.ErrNotFound)

	require.NoError(t, s.UpsertRSVP(ctx, model.RSVP{InstanceID: inst.ID, UserID: "alice", Status: model.StatusMaybe, Updated: base}))
	require.NoError(t, s.UpsertRSVP(ctx, model.RSVP{InstanceID: inst.ID, UserID: "alice", Status: model.StatusGoing, Comment: "bringing pie", Updated: base}))
	require.NoError(t, s.UpsertRSVP(ctx, model.RSVP{InstanceID: inst.ID, UserID: "bob", Status: model.StatusNotGoing, Updated: base}))

	r, err := s.GetRSVP(ctx, inst.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGoing, r.Status)
	assert.Equal(t, "bringing pie", r.Comment)

	all, err := s.ListRSVPs(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].UserID)
	assert.Equal(t, "bob", all[1].UserID)
}

func testWaitlist(t *testing.T, s events.Store) {
	ctx := context.Background()
	ev := newEvent(1, "Workshop")
	require.NoError(t, s.CreateEvent(ctx, ev))
	inst := createInstances(t, s, ev.ID, base)[0]

	for i, user := range []string{"a", "b", "c"} {
		w, err := s.AddToWaitlist(ctx, inst.ID, user)
		require.NoError(t, err)
		assert.Equal(t, i+1, w.Position)
	}
	again, err := s.AddToWaitlist(ctx, inst.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Position)

	require.NoError(t, s.RemoveFromWaitlist(ctx, inst.ID, "a"))
	require.NoError(t, s.RemoveFromWaitlist(ctx, inst.ID, "nobody"))

	list, err := s.ListWaitlist(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].UserID)
	assert.Equal(t, 1, list[0].Position)
	assert.Equal(t, "c", list[1].UserID)
	assert.Equal(t, 2, list[1].Position)

	w, err := s.AddToWaitlist(ctx, inst.ID, "d")
	require.NoError(t, err)
	assert.Equal(t, 3, w.Position)
}

func testApplyRSVP(t *testing.T, s events.Store) {
	ctx := context.Background()
	ev := newEvent(1, "Supper club")
	require.NoError(t, s.CreateEvent(ctx, ev))
	inst := createInstances(t, s, ev.ID, base)[0]

	got, err := s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:          model.RSVP{InstanceID: inst.ID, UserID: "alice", Status: model.StatusGoing, Updated: base},
		AttendeeDelta: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentAttendees)

	got, err = s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:         model.RSVP{InstanceID: inst.ID, UserID: "bob", Status: model.StatusGoing, Updated: base},
		JoinWaitlist: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentAttendees)
	_, err = s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:         model.RSVP{InstanceID: inst.ID, UserID: "carol", Status: model.StatusGoing, Updated: base},
		JoinWaitlist: true,
	})
	require.NoError(t, err)

	// alice leaves and bob takes her seat: the counter is unchanged.
	got, err = s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:          model.RSVP{InstanceID: inst.ID, UserID: "alice", Status: model.StatusNotGoing, Updated: base},
		LeaveWaitlist: []string{"bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentAttendees)

	list, err := s.ListWaitlist(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "carol", list[0].UserID)
	assert.Equal(t, 1, list[0].Position)

	r, err := s.GetRSVP(ctx, inst.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotGoing, r.Status)

	// The counter never goes negative.
	got, err = s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:          model.RSVP{InstanceID: inst.ID, UserID: "dave", Status: model.StatusMaybe, Updated: base},
		AttendeeDelta: -5,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentAttendees)

	_, err = s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:          model.RSVP{InstanceID: 9999, UserID: "alice", Status: model.StatusGoing, Updated: base},
		AttendeeDelta: 1,
	})
	assert.ErrorIs(t, err, events.ErrNotFound)
}

// A change whose RSVP cannot be written must not leave the counter or the
// waitlist half updated.
func testApplyRSVPRollsBack(t *testing.T, s events.Store) {
	ctx := context.Background()
	ev := newEvent(1, "Quiz night")
	require.NoError(t, s.CreateEvent(ctx, ev))
	inst := createInstances(t, s, ev.ID, base)[0]
	_, err := s.AddToWaitlist(ctx, inst.ID, "bob")
	require.NoError(t, err)

	_, err = s.ApplyRSVP(ctx, events.RSVPChange{
		RSVP:          model.RSVP{InstanceID: inst.ID, UserID: "alice", Status: "bogus", Updated: base},
		JoinWaitlist:  true,
		LeaveWaitlist: []string{"bob"},
		AttendeeDelta: 3,
	})
	require.Error(t, err)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentAttendees)

	list, err := s.ListWaitlist(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].UserID)

	_, err = s.GetRSVP(ctx, inst.ID, "alice")
	assert.ErrorIs(t, err, events.ErrNotFound)
}

func testComments(t *testing.T, s events.Store) {
	ctx := context.Background()
	ev := newEvent(1, "Hike")
	require.NoError(t, s.CreateEvent(ctx, ev))
	insts := createInstances(t, s, ev.ID, base, base.Add(7*24*time.Hour))

	empty, err := s.ListComments(ctx, insts[0].ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := &model.Comment{InstanceID: insts[0].ID, UserID: "alice", Body: "Bring water", Created: base}
	require.NoError(t, s.AddComment(ctx, first))
	require.NotZero(t, first.ID)
	require.NoError(t, s.AddComment(ctx, &model.Comment{InstanceID: insts[0].ID, UserID: "bob", Body: "And snacks", Created: base.Add(time.Minute)}))
	require.NoError(t, s.AddComment(ctx, &model.Comment{InstanceID: insts[1].ID, UserID: "carol", Body: "Next week", Created: base}))

	list, err := s.ListComments(ctx, insts[0].ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "Bring water", list[0].Body)
	assert.True(t, list[0].Created.Equal(base))
	assert.Equal(t, "bob", list[1].UserID)

	assert.Error(t, s.AddComment(ctx, &model.Comment{InstanceID: 9999, UserID: "x", Body: "y", Created: base}))
}
