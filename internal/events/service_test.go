package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/cache"
	"eventcal/internal/events"
	"eventcal/internal/model"
	"eventcal/internal/recurrence"
	"eventcal/internal/store/memory"
)

var (
	now  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC) // Wednesday
)

func ptr[T any](v T) *T { return &v }

func newService(t *testing.T) (*events.Service, *memory.Store, *cache.Cache) {
	t.Helper()
	st := memory.New()
	c := cache.New(cache.Config{DefaultTTL: time.Minute, MaxEntries: 100})
	t.Cleanup(c.Close)
	svc := events.NewService(st, c, events.Options{Now: func() time.Time { return now }})
	return svc, st, c
}

func weeklyMWF(until string) events.CreateEventInput {
	end := base.Add(2 * time.Hour)
	return events.CreateEventInput{
		Name:        "Book club",
		Start:       base,
		End:         &end,
		IsRecurring: true,
		Recurrence: &events.RecurrenceInput{
			Pattern:    "weekly",
			DaysOfWeek: []int{1, 3, 5},
			EndDate:    until,
		},
	}
}

func starts(insts []model.Instance) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Start.Format("2006-01-02")
	}
	return out
}

func TestCreateEvent_Recurring(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	res, err := svc.CreateEvent(ctx, 7, weeklyMWF("2025-01-31"))
	require.NoError(t, err)

	ev := res.Event
	assert.True(t, ev.IsRecurring)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE,FR;UNTIL=20250131T000000Z", ev.Recurrence)
	require.NotNil(t, ev.RecurrenceEndDate)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), *ev.RecurrenceEndDate)
	assert.True(t, ev.AllowWaitlist)

	assert.Equal(t, []string{
		"2025-01-15", "2025-01-17", "2025-01-20", "2025-01-22",
		"2025-01-24", "2025-01-27", "2025-01-29", "2025-01-31",
	}, starts(res.Instances))
	for _, inst := range res.Instances {
		require.NotNil(t, inst.End)
		assert.Equal(t, 2*time.Hour, inst.End.Sub(inst.Start))
		assert.Equal(t, 10, inst.Start.Hour())
	}

	stored, err := st.ListInstances(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 8)
}

func TestCreateEvent_OneOff(t *testing.T) {
	svc, _, _ := newService(t)

	res, err := svc.CreateEvent(context.Background(), 7, events.CreateEventInput{
		Name:  "Picnic",
		Start: base,
	})
	require.NoError(t, err)

	assert.False(t, res.Event.IsRecurring)
	assert.Empty(t, res.Event.Recurrence)
	require.Len(t, res.Instances, 1)
	assert.True(t, res.Instances[0].Start.Equal(base))
	assert.Equal(t, recurrence.DefaultDuration, res.Instances[0].End.Sub(base))
}

func TestCreateEvent_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		in     events.CreateEventInput
		target error
	}{
		{"missing name", events.CreateEventInput{Start: base}, events.ErrValidation},
		{"missing start", events.CreateEventInput{Name: "x"}, events.ErrValidation},
		{"end before start", events.CreateEventInput{Name: "x", Start: base, End: ptr(base.Add(-time.Hour))}, events.ErrValidation},
		{"recurring without rule", events.CreateEventInput{Name: "x", Start: base, IsRecurring: true}, events.ErrValidation},
		{
			"unknown pattern",
			events.CreateEventInput{Name: "x", Start: base, IsRecurring: true, Recurrence: &events.RecurrenceInput{Pattern: "hourly"}},
			recurrence.ErrInvalidPattern,
		},
		{
			"bad weekday",
			events.CreateEventInput{Name: "x", Start: base, IsRecurring: true, Recurrence: &events.RecurrenceInput{Pattern: "weekly", DaysOfWeek: []int{9}}},
			recurrence.ErrInvalidWeekday,
		},
		{
			"bad end date",
			events.CreateEventInput{Name: "x", Start: base, IsRecurring: true, Recurrence: &events.RecurrenceInput{Pattern: "daily", EndDate: "someday"}},
			events.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateEvent(ctx, 1, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, events.ErrValidation)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestUpdateRecurrence_KeepsInstancesWithAttendees(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.CreateEvent(ctx, 7, weeklyMWF("2025-01-31"))
	require.NoError(t, err)
	friday := res.Instances[1]

	_, err = svc.RSVP(ctx, friday.ID, "alice", model.StatusGoing, "")
	require.NoError(t, err)

	updated, err := svc.UpdateRecurrence(ctx, 7, res.Event.ID, &events.RecurrenceInput{
		Pattern: "daily",
		EndDate: "2025-01-20",
	})
	require.NoError(t, err)

	assert.Equal(t, "FREQ=DAILY;UNTIL=20250120T000000Z", updated.Event.Recurrence)
	assert.Equal(t, []string{
		"2025-01-15", "2025-01-16", "2025-01-17", "2025-01-18", "2025-01-19", "2025-01-20",
	}, starts(updated.Instances))

	kept := updated.Instances[2]
	assert.Equal(t, friday.ID, kept.ID)
	assert.Equal(t, 1, kept.CurrentAttendees)
}

func TestUpdateRecurrence_ClearRule(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.CreateEvent(ctx, 7, weeklyMWF("2025-01-31"))
	require.NoError(t, err)

	updated, err := svc.UpdateRecurrence(ctx, 7, res.Event.ID, nil)
	require.NoError(t, err)
	assert.False(t, updated.Event.IsRecurring)
	assert.Nil(t, updated.Event.RecurrenceEndDate)
	assert.Equal(t, []string{"2025-01-15"}, starts(updated.Instances))
}

func TestUpdateRecurrence_Errors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.CreateEvent(ctx, 7, weeklyMWF(""))
	require.NoError(t, err)

	_, err = svc.UpdateRecurrence(ctx, 8, res.Event.ID, &events.RecurrenceInput{Pattern: "daily"})
	assert.ErrorIs(t, err, events.ErrForbidden)

	_, err = svc.UpdateRecurrence(ctx, 7, 999, &events.RecurrenceInput{Pattern: "daily"})
	assert.ErrorIs(t, err, events.ErrNotFound)

	_, err = svc.UpdateRecurrence(ctx, 7, res.Event.ID, &events.RecurrenceInput{Pattern: "fortnightly"})
	assert.ErrorIs(t, err, events.ErrValidation)
}

func TestPreviewRecurrence(t *testing.T) {
	svc, _, _ := newService(t)

	p, err := svc.PreviewRecurrence(events.RecurrenceInput{
		Pattern:    "weekly",
		DaysOfWeek: []int{1, 3, 5},
		EndDate:    "2025-01-24",
	}, base, nil)
	require.NoError(t, err)

	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE,FR;UNTIL=20250124T000000Z", p.Rule)
	assert.Equal(t, "Every week on Mon, Wed, Fri until 2025-01-24", p.Description)
	require.Len(t, p.Occurrences, 5)
	assert.True(t, p.Occurrences[4].Start.Equal(time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC)))

	_, err = svc.PreviewRecurrence(events.RecurrenceInput{Pattern: "hourly"}, base, nil)
	assert.ErrorIs(t, err, events.ErrValidation)
	_, err = svc.PreviewRecurrence(events.RecurrenceInput{Pattern: "daily"}, time.Time{}, nil)
	assert.ErrorIs(t, err, events.ErrValidation)
}

func TestListUpcoming(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, 7, events.CreateEventInput{
		Name:         "Run club",
		Start:        base,
		IsRecurring:  true,
		Recurrence:   &events.RecurrenceInput{Pattern: "daily", EndDate: "2025-01-20"},
		InstanceName: "Morning run",
	})
	require.NoError(t, err)

	from := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	list, err := svc.ListUpcoming(ctx, from, 3, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Morning run", list[0].Name)
	assert.Equal(t, "FREQ=DAILY;UNTIL=20250120T000000Z", list[0].Recurrence)
	assert.Positive(t, c.Len())

	// A new event drops the cached listing.
	_, err = svc.CreateEvent(ctx, 8, events.CreateEventInput{Name: "Picnic", Start: base.Add(24 * time.Hour)})
	require.NoError(t, err)

	list, err = svc.ListUpcoming(ctx, from, 3, 0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "Picnic", list[2].Name)

	limited, err := svc.ListUpcoming(ctx, from, 3, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGetEventAndOrganizerEvents(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	a, err := svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "A", Start: base})
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "B", Start: base})
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, 8, events.CreateEventInput{Name: "C", Start: base})
	require.NoError(t, err)

	ev, err := svc.GetEvent(ctx, a.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", ev.Name)

	_, err = svc.GetEvent(ctx, 999)
	assert.ErrorIs(t, err, events.ErrNotFound)

	list, err := svc.ListOrganizerEvents(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	insts, err := svc.ListInstances(ctx, a.Event.ID)
	require.NoError(t, err)
	assert.Len(t, insts, 1)
	_, err = svc.ListInstances(ctx, 999)
	assert.ErrorIs(t, err, events.ErrNotFound)
}

func TestInvalidateCache(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	res, err := svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "A", Start: base})
	require.NoError(t, err)

	_, err = svc.GetEvent(ctx, res.Event.ID)
	require.NoError(t, err)
	n, err := svc.InvalidateCache("event", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.ListOrganizerEvents(ctx, 7)
	require.NoError(t, err)
	n, err = svc.InvalidateCache("organizer", "7")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.GetEvent(ctx, res.Event.ID)
	require.NoError(t, err)
	_, err = svc.ListUpcoming(ctx, base, 1, 0)
	require.NoError(t, err)
	n, err = svc.InvalidateCache("all", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, c.Len())

	_, err = svc.InvalidateCache("event", "abc")
	assert.ErrorIs(t, err, events.ErrValidation)
	_, err = svc.InvalidateCache("bogus", "")
	assert.ErrorIs(t, err, events.ErrValidation)
	// Venues are not cached, so there is no venue scope.
	_, err = svc.InvalidateCache("venues", "")
	assert.ErrorIs(t, err, events.ErrValidation)
}

func TestSearchUpcoming(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "Board games", Summary: "Catan and friends", Start: base})
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "Choir", Summary: "Bring sheet music", Start: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "Game jam", Start: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	from := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	names := func(ls []events.Listing) []string {
		out := make([]string, len(ls))
		for i, l := range ls {
			out[i] = l.Name
		}
		return out
	}

	list, err := svc.SearchUpcoming(ctx, from, 1, 0, "GAME")
	require.NoError(t, err)
	assert.Equal(t, []string{"Board games", "Game jam"}, names(list))

	list, err = svc.SearchUpcoming(ctx, from, 1, 0, " sheet ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Choir"}, names(list))

	// The limit counts matches, not scanned rows.
	list, err = svc.SearchUpcoming(ctx, from, 1, 1, "jam")
	require.NoError(t, err)
	assert.Equal(t, []string{"Game jam"}, names(list))

	list, err = svc.SearchUpcoming(ctx, from, 1, 0, "")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = svc.SearchUpcoming(ctx, from, 1, 0, "knitting")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCachedReadsAreCopies(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	end := base.Add(time.Hour)
	res, err := svc.CreateEvent(ctx, 7, events.CreateEventInput{Name: "Lecture", Start: base, End: &end, MaxAttendees: ptr(30)})
	require.NoError(t, err)

	from := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	want := base.Add(time.Hour)

	// Prime the cache, then scribble over every cached value handed out.
	_, err = svc.GetEvent(ctx, res.Event.ID)
	require.NoError(t, err)
	_, err = svc.ListOrganizerEvents(ctx, 7)
	require.NoError(t, err)
	_, err = svc.ListUpcoming(ctx, from, 1, 0)
	require.NoError(t, err)

	ev, err := svc.GetEvent(ctx, res.Event.ID)
	require.NoError(t, err)
	ev.Name = "changed"
	*ev.End = time.Time{}
	*ev.MaxAttendees = 0

	evs, err := svc.ListOrganizerEvents(ctx, 7)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	evs[0].Name = "changed"
	*evs[0].End = time.Time{}

	ls, err := svc.ListUpcoming(ctx, from, 1, 0)
	require.NoError(t, err)
	require.Len(t, ls, 1)
	ls[0].Name = "changed"
	*ls[0].Instance.End = time.Time{}

	for i := 0; i < 2; i++ {
		ev, err = svc.GetEvent(ctx, res.Event.ID)
		require.NoError(t, err)
		assert.Equal(t, "Lecture", ev.Name)
		require.NotNil(t, ev.End)
		assert.True(t, ev.End.Equal(want))
		assert.Equal(t, 30, *ev.MaxAttendees)
		ev.Name = "changed again"

		evs, err = svc.ListOrganizerEvents(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "Lecture", evs[0].Name)
		assert.True(t, evs[0].End.Equal(want))
		evs[0].Name = "changed again"

		ls, err = svc.ListUpcoming(ctx, from, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, "Lecture", ls[0].Name)
		assert.True(t, ls[0].Instance.End.Equal(want))
		ls[0].Name = "changed again"
	}
}
