package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrUnsupportedRule marks an RFC 5545 rule that uses parts this package
// cannot represent (COUNT, BYMONTHDAY, BYSETPOS, ...).
var ErrUnsupportedRule = errors.New("recurrence: unsupported rule")

// FromRRuleString converts an RFC 5545 RRULE value (without the "RRULE:"
// prefix) into a Spec when the rule only uses FREQ, INTERVAL, UNTIL and
// plain BYDAY codes. Anything else is ErrUnsupportedRule and must be
// expanded by an RFC engine instead.
//
// The conversion is syntactic. UNTIL keeps only its date, and RFC 5545
// skips months without the start's day where ExpandSpec normalizes, so
// callers that need identical dates compare both expansions.
func FromRRuleString(s string) (*Spec, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRule, err)
	}

	var spec Spec
	switch opt.Freq {
	case rrule.DAILY:
		spec.Pattern = Daily
	case rrule.WEEKLY:
		spec.Pattern = Weekly
	case rrule.MONTHLY:
		spec.Pattern = Monthly
	case rrule.YEARLY:
		spec.Pattern = Yearly
	default:
		return nil, fmt.Errorf("%w: FREQ=%v", ErrUnsupportedRule, opt.Freq)
	}

	if opt.Count != 0 ||
		len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 ||
		len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, s)
	}

	spec.Interval = max(opt.Interval, 1)

	if len(opt.Byweekday) > 0 {
		// Weekday filtering walks day by day and ignores INTERVAL, so only
		// an every-week rule keeps its meaning.
		if spec.Pattern != Weekly || spec.Interval != 1 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, s)
		}
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, s)
			}
			d := weekdayFromRRule(wd)
			if !spec.allowsWeekday(d) {
				spec.DaysOfWeek = append(spec.DaysOfWeek, d)
			}
		}
	}

	if !opt.Until.IsZero() {
		d := DateOf(opt.Until.UTC())
		spec.EndDate = &d
	}

	return &spec, nil
}

// rrule-go numbers weekdays from Monday.
func weekdayFromRRule(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ToRRule builds the RFC 5545 equivalent of spec anchored at dtstart. The
// end date becomes an UNTIL at the last second of that day in dtstart's
// location. Weekly rules with weekdays get INTERVAL=1 because expansion
// ignores the interval for them. The day window applied by ExpandSpec has
// no RFC counterpart and is left to the caller.
func ToRRule(spec Spec, dtstart time.Time) (*rrule.RRule, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: spec.EffectiveInterval(),
	}
	switch spec.Pattern {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
	case Monthly:
		opt.Freq = rrule.MONTHLY
	case Yearly:
		opt.Freq = rrule.YEARLY
	}

	if spec.restrictsWeekdays() {
		opt.Interval = 1
		for _, d := range spec.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	}

	if spec.EndDate != nil {
		opt.Until = spec.EndDate.AddDays(1).In(dtstart.Location()).Add(-time.Second)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRule, err)
	}
	return r, nil
}
