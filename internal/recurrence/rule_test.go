package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datePtr(y int, m time.Month, d int) *Date {
	return &Date{Year: y, Month: m, Day: d}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{
			name: "daily with implicit interval",
			spec: Spec{Pattern: Daily, Interval: 1},
			want: "FREQ=DAILY",
		},
		{
			name: "zero interval is treated as unset",
			spec: Spec{Pattern: Monthly},
			want: "FREQ=MONTHLY",
		},
		{
			name: "interval above one",
			spec: Spec{Pattern: Daily, Interval: 3},
			want: "FREQ=DAILY;INTERVAL=3",
		},
		{
			name: "weekly days keep caller order",
			spec: Spec{Pattern: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Friday, time.Monday}},
			want: "FREQ=WEEKLY;BYDAY=FR,MO",
		},
		{
			name: "days ignored for non-weekly",
			spec: Spec{Pattern: Daily, DaysOfWeek: []time.Weekday{time.Monday}},
			want: "FREQ=DAILY",
		},
		{
			name: "all tokens in fixed order",
			spec: Spec{
				Pattern:    Weekly,
				Interval:   2,
				EndDate:    datePtr(2025, time.March, 1),
				DaysOfWeek: []time.Weekday{time.Sunday, time.Saturday},
			},
			want: "FREQ=WEEKLY;INTERVAL=2;BYDAY=SU,SA;UNTIL=20250301T000000Z",
		},
		{
			name: "yearly until",
			spec: Spec{Pattern: Yearly, EndDate: datePtr(2030, time.December, 31)},
			want: "FREQ=YEARLY;UNTIL=20301231T000000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		err  error
	}{
		{"unknown pattern", Spec{Pattern: "hourly"}, ErrInvalidPattern},
		{"empty pattern", Spec{}, ErrInvalidPattern},
		{"negative interval", Spec{Pattern: Daily, Interval: -2}, ErrInvalidInterval},
		{"weekday out of range", Spec{Pattern: Weekly, DaysOfWeek: []time.Weekday{7}}, ErrInvalidWeekday},
		{"duplicate weekday", Spec{Pattern: Weekly, DaysOfWeek: []time.Weekday{1, 3, 1}}, ErrInvalidWeekday},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.spec)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want Spec
	}{
		{
			name: "interval defaults to one",
			rule: "FREQ=DAILY",
			want: Spec{Pattern: Daily, Interval: 1},
		},
		{
			name: "order independent",
			rule: "UNTIL=20250301T000000Z;INTERVAL=2;FREQ=MONTHLY",
			want: Spec{Pattern: Monthly, Interval: 2, EndDate: datePtr(2025, time.March, 1)},
		},
		{
			name: "until time of day is discarded",
			rule: "FREQ=YEARLY;UNTIL=20251107T235959Z",
			want: Spec{Pattern: Yearly, Interval: 1, EndDate: datePtr(2025, time.November, 7)},
		},
		{
			name: "unknown keys and bare tokens ignored",
			rule: "FREQ=WEEKLY;WKST=MO;X-NAME=club;garbage",
			want: Spec{Pattern: Weekly, Interval: 1},
		},
		{
			name: "unknown weekday codes dropped",
			rule: "FREQ=WEEKLY;BYDAY=MO,XX,FR,MO",
			want: Spec{Pattern: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Monday, time.Friday}},
		},
		{
			name: "lower case pattern value",
			rule: "FREQ=daily",
			want: Spec{Pattern: Daily, Interval: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.rule)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	for _, rule := range []string{"", "   "} {
		spec, err := Decode(rule)
		assert.NoError(t, err)
		assert.Nil(t, spec)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		rule string
		err  error
	}{
		{"missing freq", "INTERVAL=2;BYDAY=MO", ErrMalformedRule},
		{"not a rule", "hello", ErrMalformedRule},
		{"unknown freq", "FREQ=HOURLY", ErrInvalidPattern},
		{"bad interval", "FREQ=DAILY;INTERVAL=abc", ErrMalformedRule},
		{"zero interval", "FREQ=DAILY;INTERVAL=0", ErrMalformedRule},
		{"short until", "FREQ=DAILY;UNTIL=2025", ErrMalformedRule},
		{"bad until date", "FREQ=DAILY;UNTIL=20251399T000000Z", ErrMalformedRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Decode(tt.rule)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, spec)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	specs := []Spec{
		{Pattern: Daily, Interval: 1},
		{Pattern: Weekly, Interval: 1},
		{Pattern: Monthly, Interval: 1},
		{Pattern: Yearly, Interval: 1},
		{Pattern: Daily, Interval: 3},
		{Pattern: Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
		{Pattern: Monthly, Interval: 6, EndDate: datePtr(2026, time.February, 28)},
	}

	for _, spec := range specs {
		rule, err := Encode(spec)
		require.NoError(t, err)

		got, err := Decode(rule)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, spec, *got, "rule %s", rule)

		again, err := Encode(*got)
		require.NoError(t, err)
		assert.Equal(t, rule, again)
	}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, Weekly, p)

	_, err = ParsePattern("fortnightly")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestDate_Text(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalText([]byte("2025-02-09")))
	assert.Equal(t, Date{Year: 2025, Month: time.February, Day: 9}, d)

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2025-02-09", string(b))

	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 1}, d.AddDays(20))
	assert.Error(t, d.UnmarshalText([]byte("09/02/2025")))
}
