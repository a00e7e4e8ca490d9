package recurrence

import (
	"strconv"
	"strings"
)

var unitNames = map[Pattern][2]string{
	Daily:   {"day", "days"},
	Weekly:  {"week", "weeks"},
	Monthly: {"month", "months"},
	Yearly:  {"year", "years"},
}

// Describe renders spec as short English text, e.g.
// "Every 2 weeks until 2025-03-01" or "Every week on Mon, Wed, Fri".
func Describe(spec Spec) string {
	names, ok := unitNames[spec.Pattern]
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString("Every ")
	if n := spec.EffectiveInterval(); n > 1 {
		b.WriteString(strconv.Itoa(n))
		b.WriteString(" ")
		b.WriteString(names[1])
	} else {
		b.WriteString(names[0])
	}

	if spec.restrictsWeekdays() {
		days := make([]string, len(spec.DaysOfWeek))
		for i, d := range spec.DaysOfWeek {
			days[i] = d.String()[:3]
		}
		b.WriteString(" on ")
		b.WriteString(strings.Join(days, ", "))
	}

	if spec.EndDate != nil {
		b.WriteString(" until ")
		b.WriteString(spec.EndDate.String())
	}
	return b.String()
}
