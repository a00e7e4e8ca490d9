package recurrence

import "time"

const (
	// DefaultLimit is the occurrence cap used when the caller passes none.
	// It also bounds the generation window to DefaultLimit days.
	DefaultLimit = 90

	// MaxLimit is the largest cap a caller may request.
	MaxLimit = 1000

	// DefaultDuration is applied when the base occurrence has no end.
	DefaultDuration = 2 * time.Hour
)

// Base is the template occurrence a rule is expanded from.
type Base struct {
	Start time.Time
	End   *time.Time
}

// Duration returns End-Start, or DefaultDuration when End is unset.
func (b Base) Duration() time.Duration {
	if b.End == nil {
		return DefaultDuration
	}
	return b.End.Sub(b.Start)
}

// Occurrence is one concrete start/end pair produced by expansion.
type Occurrence struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NormalizeLimit maps a requested cap onto [1, MaxLimit], with zero or
// negative meaning DefaultLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Expand decodes rule and expands it from base. A rule that is empty or
// does not decode yields no occurrences.
func Expand(base Base, rule string, limit int) []Occurrence {
	spec, err := Decode(rule)
	if err != nil || spec == nil {
		return []Occurrence{}
	}
	return ExpandSpec(base, *spec, limit)
}

// ExpandSpec generates occurrences starting at base.Start, in chronological
// order. Generation stops after limit occurrences, after limit calendar days
// from base.Start, or past spec.EndDate, whichever comes first.
//
// Weekly rules with DaysOfWeek walk one day at a time and keep the days whose
// weekday is listed; Interval is not applied in that case. Monthly and yearly
// steps use calendar arithmetic in base.Start's location from the previous
// occurrence, so a day of month that does not exist in the target month
// normalizes forward and later steps keep the new day (Jan 31, Mar 3, Apr 3).
func ExpandSpec(base Base, spec Spec, limit int) []Occurrence {
	if !spec.Pattern.valid() {
		return []Occurrence{}
	}
	limit = NormalizeLimit(limit)
	interval := spec.EffectiveInterval()
	duration := base.Duration()
	loc := base.Start.Location()

	horizon := base.Start.AddDate(0, 0, limit)
	var untilExcl time.Time
	if spec.EndDate != nil {
		untilExcl = spec.EndDate.AddDays(1).In(loc)
	}
	inBounds := func(t time.Time) bool {
		if t.After(horizon) {
			return false
		}
		return untilExcl.IsZero() || t.Before(untilExcl)
	}

	out := make([]Occurrence, 0, min(limit, 32))
	filter := spec.restrictsWeekdays()

	cur := base.Start
	for len(out) < limit && inBounds(cur) {
		if !filter || spec.allowsWeekday(cur.Weekday()) {
			out = append(out, Occurrence{Start: cur, End: cur.Add(duration)})
		}
		switch {
		case spec.Pattern == Daily:
			cur = cur.AddDate(0, 0, interval)
		case spec.Pattern == Weekly && filter:
			cur = cur.AddDate(0, 0, 1)
		case spec.Pattern == Weekly:
			cur = cur.AddDate(0, 0, 7*interval)
		case spec.Pattern == Monthly:
			cur = cur.AddDate(0, interval, 0)
		case spec.Pattern == Yearly:
			cur = cur.AddDate(interval, 0, 0)
		}
	}

	return out
}
