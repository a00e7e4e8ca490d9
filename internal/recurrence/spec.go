package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidPattern is returned for a repeat unit outside daily/weekly/monthly/yearly.
	ErrInvalidPattern = errors.New("recurrence: invalid pattern")
	// ErrInvalidInterval is returned for a negative interval.
	ErrInvalidInterval = errors.New("recurrence: interval must be >= 1")
	// ErrInvalidWeekday is returned for weekday indices outside 0..6 or duplicates.
	ErrInvalidWeekday = errors.New("recurrence: invalid day of week")
	// ErrMalformedRule is returned by Decode for a non-empty rule string that
	// does not carry a usable FREQ or has unparsable values.
	ErrMalformedRule = errors.New("recurrence: malformed rule")
)

// Pattern is the repeat unit of a recurrence.
type Pattern string

const (
	Daily   Pattern = "daily"
	Weekly  Pattern = "weekly"
	Monthly Pattern = "monthly"
	Yearly  Pattern = "yearly"
)

// ParsePattern accepts any casing of the four supported patterns.
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly, Yearly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, s)
	}
}

func (p Pattern) valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Spec is the structured form of a recurrence rule.
type Spec struct {
	Pattern Pattern `json:"pattern" yaml:"pattern"`

	// Interval repeats every N units. Zero means unset and behaves as 1.
	Interval int `json:"interval,omitempty" yaml:"interval,omitempty"`

	// EndDate is the last calendar date on which an occurrence may fall.
	EndDate *Date `json:"end_date,omitempty" yaml:"end_date,omitempty"`

	// DaysOfWeek restricts weekly recurrence to these weekdays, in caller order.
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
}

// EffectiveInterval returns Interval, defaulting an unset value to 1.
func (s Spec) EffectiveInterval() int {
	if s.Interval <= 0 {
		return 1
	}
	return s.Interval
}

// Validate checks pattern, interval and weekday invariants.
func (s Spec) Validate() error {
	if !s.Pattern.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, string(s.Pattern))
	}
	if s.Interval < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, s.Interval)
	}
	seen := make(map[time.Weekday]bool, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, int(d))
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate %s", ErrInvalidWeekday, d)
		}
		seen[d] = true
	}
	return nil
}

// restrictsWeekdays reports whether weekly expansion filters by weekday.
func (s Spec) restrictsWeekdays() bool {
	return s.Pattern == Weekly && len(s.DaysOfWeek) > 0
}

func (s Spec) allowsWeekday(d time.Weekday) bool {
	for _, w := range s.DaysOfWeek {
		if w == d {
			return true
		}
	}
	return false
}

// Date is a calendar date without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns midnight of the date in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) String() string {
	return d.In(time.UTC).Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
