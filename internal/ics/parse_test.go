package ics

import (
	"os"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFeed(t *testing.T) []byte {
	t.Helper()
	body, err := os.ReadFile("testdata/community.ics")
	require.NoError(t, err)
	return body
}

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestParseICS(t *testing.T) {
	src := Source{ID: "community"}
	evs, err := ParseICS(src, loadFeed(t), time.UTC)
	require.NoError(t, err)
	require.Len(t, evs, 5, "event without UID is skipped")

	oneoff := evs[0]
	assert.Equal(t, "oneoff@test", oneoff.UID)
	assert.Equal(t, "Board meeting", oneoff.Summary)
	assert.Equal(t, "Quarterly review", oneoff.Description)
	assert.Equal(t, "Hall A", oneoff.Location)
	assert.True(t, oneoff.Start.Equal(utc(2025, 1, 20, 18, 0)))
	assert.True(t, oneoff.End.Equal(utc(2025, 1, 20, 20, 0)))
	assert.False(t, oneoff.AllDay)
	assert.Equal(t, "community", oneoff.Source.ID)

	weekly := evs[1]
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=WE;UNTIL=20250212T235959Z", weekly.RRule)
	assert.Equal(t, "Europe/Berlin", weekly.Start.Location().String())
	assert.True(t, weekly.Start.Equal(utc(2025, 1, 15, 18, 0)))
	assert.Equal(t, 2*time.Hour, weekly.End.Sub(weekly.Start))

	count := evs[2]
	require.Len(t, count.ExDates, 1)
	assert.True(t, count.ExDates[0].Equal(utc(2025, 1, 18, 9, 0)))
	assert.False(t, count.IsOverride())

	override := evs[3]
	require.True(t, override.IsOverride())
	assert.True(t, override.RecurrenceID.Equal(utc(2025, 1, 17, 9, 0)))

	allDay := evs[4]
	assert.True(t, allDay.AllDay)
	assert.True(t, allDay.Start.Equal(utc(2025, 1, 25, 0, 0)))
	assert.True(t, allDay.End.Equal(utc(2025, 1, 26, 0, 0)))
}

func TestParseICS_Empty(t *testing.T) {
	_, err := ParseICS(Source{}, nil, nil)
	assert.Error(t, err)
}

func TestParseICSTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	got, err := parseICSTime("20250701T120000", "Europe/Berlin", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 7, 1, 12, 0, 0, 0, berlin)))

	got, err = parseICSTime("20250701T120000", "Mars/Olympus", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(utc(2025, 7, 1, 12, 0)))

	got, err = parseICSTime("20250701", "", berlin)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, berlin)))

	_, err = parseICSTime(" ", "", time.UTC)
	assert.Error(t, err)
}

func TestGroupSeries(t *testing.T) {
	evs, err := ParseICS(Source{}, loadFeed(t), time.UTC)
	require.NoError(t, err)

	series := GroupSeries(evs)
	require.Len(t, series, 4)
	assert.Equal(t, "oneoff@test", series[0].Base.UID)
	assert.Equal(t, "count@test", series[2].Base.UID)
	require.Len(t, series[2].Overrides, 1)
	assert.Equal(t, "Standup (moved)", series[2].Overrides[0].Summary)
	assert.Empty(t, series[3].Overrides)
}
