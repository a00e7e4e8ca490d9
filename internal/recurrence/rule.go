package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// untilLayout is the compact UTC date-time form used by UNTIL.
const untilLayout = "20060102T150405Z"

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func weekdayFromCode(code string) (time.Weekday, bool) {
	for i, c := range weekdayCodes {
		if c == code {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// Encode renders spec as a rule string with tokens in the fixed order
// FREQ, INTERVAL, BYDAY, UNTIL. INTERVAL is omitted when it is 1 and BYDAY
// only appears for weekly rules with explicit days.
func Encode(spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	tokens := make([]string, 0, 4)
	tokens = append(tokens, "FREQ="+strings.ToUpper(string(spec.Pattern)))

	if n := spec.EffectiveInterval(); n > 1 {
		tokens = append(tokens, "INTERVAL="+strconv.Itoa(n))
	}

	if spec.restrictsWeekdays() {
		codes := make([]string, len(spec.DaysOfWeek))
		for i, d := range spec.DaysOfWeek {
			codes[i] = weekdayCodes[d]
		}
		tokens = append(tokens, "BYDAY="+strings.Join(codes, ","))
	}

	// A date-only end is read as midnight UTC so the date survives the
	// YYYYMMDD prefix that Decode reads back.
	if spec.EndDate != nil {
		tokens = append(tokens, "UNTIL="+spec.EndDate.In(time.UTC).Format(untilLayout))
	}

	return strings.Join(tokens, ";"), nil
}

// Decode parses a rule string produced by Encode.
//
// An empty rule yields (nil, nil): the event simply does not recur. A
// non-empty rule without FREQ, or with an unparsable INTERVAL or UNTIL, is
// ErrMalformedRule; an unknown FREQ is ErrInvalidPattern. Unknown keys are
// ignored, as are unknown BYDAY codes. Decode always sets Interval.
func Decode(rule string) (*Spec, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, nil
	}

	var (
		spec    Spec
		hasFreq bool
	)

	for _, part := range strings.Split(rule, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			p, err := ParsePattern(value)
			if err != nil {
				return nil, err
			}
			spec.Pattern = p
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: INTERVAL=%q", ErrMalformedRule, value)
			}
			spec.Interval = n

		case "UNTIL":
			if len(value) < 8 {
				return nil, fmt.Errorf("%w: UNTIL=%q", ErrMalformedRule, value)
			}
			t, err := time.Parse("20060102", value[:8])
			if err != nil {
				return nil, fmt.Errorf("%w: UNTIL=%q", ErrMalformedRule, value)
			}
			d := DateOf(t)
			spec.EndDate = &d

		case "BYDAY":
			spec.DaysOfWeek = decodeDays(value)
		}
	}

	if !hasFreq {
		return nil, fmt.Errorf("%w: missing FREQ in %q", ErrMalformedRule, rule)
	}
	if spec.Interval == 0 {
		spec.Interval = 1
	}
	return &spec, nil
}

func decodeDays(value string) []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	var seen [7]bool
	for _, code := range strings.Split(value, ",") {
		d, ok := weekdayFromCode(strings.ToUpper(strings.TrimSpace(code)))
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	return days
}
