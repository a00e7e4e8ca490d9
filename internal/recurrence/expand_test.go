package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday, 10:00 UTC.
var baseStart = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func mustEncode(t *testing.T, spec Spec) string {
	t.Helper()
	rule, err := Encode(spec)
	require.NoError(t, err)
	return rule
}

func TestExpand_DailyCapped(t *testing.T) {
	occ := Expand(Base{Start: baseStart}, mustEncode(t, Spec{Pattern: Daily, Interval: 1}), 90)

	require.Len(t, occ, 90)
	assert.True(t, occ[0].Start.Equal(baseStart))
	for i := 1; i < len(occ); i++ {
		assert.Equal(t, 24*time.Hour, occ[i].Start.Sub(occ[i-1].Start), "occurrence %d", i)
	}
}

func TestExpand_DefaultLimit(t *testing.T) {
	occ := Expand(Base{Start: baseStart}, "FREQ=DAILY", 0)
	assert.Len(t, occ, DefaultLimit)
}

func TestExpand_LimitIsClamped(t *testing.T) {
	occ := Expand(Base{Start: baseStart}, "FREQ=DAILY", 50000)
	assert.Len(t, occ, MaxLimit)
}

func TestExpand_EndDateInclusive(t *testing.T) {
	end := DateOf(baseStart.AddDate(0, 0, 5))
	rule := mustEncode(t, Spec{Pattern: Daily, Interval: 1, EndDate: &end})

	occ := Expand(Base{Start: baseStart}, rule, 90)

	require.Len(t, occ, 6)
	for _, o := range occ {
		assert.False(t, DateOf(o.Start).In(time.UTC).After(end.In(time.UTC)))
	}
	assert.Equal(t, end, DateOf(occ[5].Start))
}

func TestExpand_FarEndDateStillCapped(t *testing.T) {
	end := Date{Year: 2075, Month: time.January, Day: 1}
	occ := ExpandSpec(Base{Start: baseStart}, Spec{Pattern: Daily, EndDate: &end}, 30)
	assert.Len(t, occ, 30)
}

func TestExpand_WindowBoundsSparsePatterns(t *testing.T) {
	// A yearly rule never reaches a second occurrence inside the 90 day window.
	occ := Expand(Base{Start: baseStart}, "FREQ=YEARLY", 90)
	require.Len(t, occ, 1)
	assert.True(t, occ[0].Start.Equal(baseStart))
}

func TestExpand_WeeklyByDay(t *testing.T) {
	rule := mustEncode(t, Spec{
		Pattern:    Weekly,
		Interval:   1,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	})

	occ := Expand(Base{Start: baseStart}, rule, 90)

	require.GreaterOrEqual(t, len(occ), 3)
	assert.Equal(t, time.Wednesday, occ[0].Start.Weekday())
	assert.Equal(t, time.Friday, occ[1].Start.Weekday())
	assert.Equal(t, time.Monday, occ[2].Start.Weekday())
	assert.Equal(t, time.Date(2025, time.January, 20, 10, 0, 0, 0, time.UTC), occ[2].Start)

	for _, o := range occ {
		switch o.Start.Weekday() {
		case time.Monday, time.Wednesday, time.Friday:
		default:
			t.Errorf("unexpected weekday %s at %s", o.Start.Weekday(), o.Start)
		}
	}
}

func TestExpand_WeeklyByDaySkipsBaseDay(t *testing.T) {
	occ := ExpandSpec(Base{Start: baseStart}, Spec{
		Pattern:    Weekly,
		DaysOfWeek: []time.Weekday{time.Saturday},
	}, 20)

	require.Len(t, occ, 3)
	assert.Equal(t, time.Date(2025, time.January, 18, 10, 0, 0, 0, time.UTC), occ[0].Start)
	assert.Equal(t, time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC), occ[2].Start)
}

func TestExpand_WeeklyByDayIgnoresInterval(t *testing.T) {
	withInterval := ExpandSpec(Base{Start: baseStart}, Spec{
		Pattern: Weekly, Interval: 2, DaysOfWeek: []time.Weekday{time.Monday},
	}, 30)
	without := ExpandSpec(Base{Start: baseStart}, Spec{
		Pattern: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Monday},
	}, 30)
	require.Len(t, without, 4)
	assert.Equal(t, without, withInterval)
}

func TestExpand_WeeklyInterval(t *testing.T) {
	occ := Expand(Base{Start: baseStart}, "FREQ=WEEKLY;INTERVAL=2", 90)
	require.Len(t, occ, 7)
	for i := 1; i < len(occ); i++ {
		assert.Equal(t, 14*24*time.Hour, occ[i].Start.Sub(occ[i-1].Start))
	}
}

func TestExpand_MonthlyKeepsDayOfMonth(t *testing.T) {
	occ := Expand(Base{Start: baseStart}, "FREQ=MONTHLY", 90)

	require.Len(t, occ, 4)
	for i, o := range occ {
		assert.Equal(t, 15, o.Start.Day())
		assert.Equal(t, time.Month(int(time.January)+i), o.Start.Month())
	}
}

func TestExpand_MonthlyEndOfMonthCarriesForward(t *testing.T) {
	start := time.Date(2025, time.January, 31, 9, 0, 0, 0, time.UTC)
	occ := ExpandSpec(Base{Start: start}, Spec{Pattern: Monthly}, 90)

	// Feb 31 normalizes to Mar 3 and later months keep the 3rd; May 3 is
	// past the 90 day window.
	require.Len(t, occ, 3)
	assert.Equal(t, time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC), occ[1].Start)
	assert.Equal(t, time.Date(2025, time.April, 3, 9, 0, 0, 0, time.UTC), occ[2].Start)
}

func TestExpand_YearlyLeapDayCarriesForward(t *testing.T) {
	start := time.Date(2024, time.February, 29, 18, 0, 0, 0, time.UTC)
	occ := ExpandSpec(Base{Start: start}, Spec{Pattern: Yearly}, MaxLimit)

	require.Len(t, occ, 3)
	assert.Equal(t, time.Date(2025, time.March, 1, 18, 0, 0, 0, time.UTC), occ[1].Start)
	assert.Equal(t, time.Date(2026, time.March, 1, 18, 0, 0, 0, time.UTC), occ[2].Start)
}

func TestExpand_YearlyBoundedByDayWindow(t *testing.T) {
	end := Date{Year: 2035, Month: time.January, Day: 1}
	occ := ExpandSpec(Base{Start: baseStart}, Spec{Pattern: Yearly, EndDate: &end}, MaxLimit)

	// MaxLimit days from 2025-01-15 reaches October 2027.
	require.Len(t, occ, 3)
	assert.Equal(t, 2027, occ[2].Start.Year())
	assert.Equal(t, time.January, occ[2].Start.Month())
	assert.Equal(t, 15, occ[2].Start.Day())
}

func TestExpand_NoRule(t *testing.T) {
	assert.Empty(t, Expand(Base{Start: baseStart}, "", 90))
	assert.Empty(t, Expand(Base{Start: baseStart}, "INTERVAL=2", 90))
	assert.Empty(t, Expand(Base{Start: baseStart}, "FREQ=SECONDLY", 90))
}

func TestExpand_Duration(t *testing.T) {
	end := baseStart.Add(90 * time.Minute)
	occ := Expand(Base{Start: baseStart, End: &end}, "FREQ=DAILY;INTERVAL=2", 30)

	require.Len(t, occ, 16)
	for _, o := range occ {
		assert.Equal(t, 90*time.Minute, o.End.Sub(o.Start))
	}
}

func TestExpand_DefaultDuration(t *testing.T) {
	occ := Expand(Base{Start: baseStart}, "FREQ=WEEKLY", 90)

	require.Len(t, occ, 13)
	for _, o := range occ {
		assert.Equal(t, 2*time.Hour, o.End.Sub(o.Start))
	}
}

func TestExpand_KeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	start := time.Date(2025, time.March, 7, 19, 0, 0, 0, loc)
	occ := ExpandSpec(Base{Start: start}, Spec{Pattern: Daily}, 4)

	require.Len(t, occ, 4)
	for _, o := range occ {
		assert.Equal(t, 19, o.Start.Hour())
	}
}

func TestDescribe(t *testing.T) {
	end := Date{Year: 2025, Month: time.March, Day: 1}
	assert.Equal(t, "Every day", Describe(Spec{Pattern: Daily}))
	assert.Equal(t, "Every 2 weeks until 2025-03-01", Describe(Spec{Pattern: Weekly, Interval: 2, EndDate: &end}))
	assert.Equal(t, "Every week on Mon, Wed, Fri", Describe(Spec{
		Pattern: Weekly, DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}))
	assert.Equal(t, "", Describe(Spec{Pattern: "hourly"}))
}
