package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandForeign_ExDateAndOverride(t *testing.T) {
	evs, err := ParseICS(Source{}, loadFeed(t), time.UTC)
	require.NoError(t, err)
	standup := GroupSeries(evs)[2]

	occ := ExpandForeign(standup, 90)
	require.Len(t, occ, 4)

	assert.True(t, occ[0].Start.Equal(utc(2025, 1, 16, 9, 0)))
	assert.True(t, occ[0].End.Equal(utc(2025, 1, 16, 10, 0)))
	// Moved by RECURRENCE-ID.
	assert.True(t, occ[1].Start.Equal(utc(2025, 1, 17, 11, 0)))
	assert.True(t, occ[1].End.Equal(utc(2025, 1, 17, 12, 0)))
	// 2025-01-18 is excluded.
	assert.True(t, occ[2].Start.Equal(utc(2025, 1, 19, 9, 0)))
	assert.True(t, occ[3].Start.Equal(utc(2025, 1, 20, 9, 0)))
}

func TestExpandForeign_Bounds(t *testing.T) {
	start := utc(2025, 1, 1, 8, 0)
	s := Series{Base: ParsedEvent{
		UID:   "forever@test",
		Start: start,
		End:   start.Add(30 * time.Minute),
		RRule: "FREQ=DAILY;BYHOUR=8,20",
	}}

	// Twice a day: the occurrence cap is reached before the day window.
	occ := ExpandForeign(s, 10)
	require.Len(t, occ, 10)
	assert.True(t, occ[9].Start.Equal(utc(2025, 1, 5, 20, 0)))

	s.Base.RRule = "FREQ=MONTHLY;BYMONTHDAY=1,15"
	occ = ExpandForeign(s, 30)
	// Feb 1 lies past the 30 day window.
	require.Len(t, occ, 2)
}

func TestExpandForeign_Single(t *testing.T) {
	start := utc(2025, 3, 1, 12, 0)
	occ := ExpandForeign(Series{Base: ParsedEvent{Start: start, End: start.Add(time.Hour)}}, 0)
	require.Len(t, occ, 1)
	assert.True(t, occ[0].Start.Equal(start))
}

func TestExpandForeign_BadRule(t *testing.T) {
	start := utc(2025, 3, 1, 12, 0)
	occ := ExpandForeign(Series{Base: ParsedEvent{Start: start, End: start, RRule: "FREQ=NEVER"}}, 0)
	assert.Empty(t, occ)
}
