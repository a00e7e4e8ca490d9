package ics

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventcal/internal/log"
	"eventcal/internal/recurrence"
)

// Series is a base VEVENT plus the VEVENTs overriding single instances of it.
type Series struct {
	Base      ParsedEvent
	Overrides []ParsedEvent
}

// GroupSeries pairs overrides with their base event by UID. Overrides whose
// base event is missing are dropped. Order follows the base events' order
// in the feed.
func GroupSeries(events []ParsedEvent) []Series {
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]Series, 0, len(events))
	seen := make(map[string]bool)
	for _, ev := range events {
		if ev.IsOverride() || seen[ev.UID] {
			continue
		}
		seen[ev.UID] = true
		out = append(out, Series{Base: ev, Overrides: overrides[ev.UID]})
	}
	return out
}

// ExpandForeign expands a series with a full RFC 5545 engine. It applies
// EXDATEs and RECURRENCE-ID overrides and stops after limit occurrences or
// limit days from the series start, the same bounds recurrence.ExpandSpec
// uses. A series without RRULE yields its single occurrence.
func ExpandForeign(s Series, limit int) []recurrence.Occurrence {
	limit = recurrence.NormalizeLimit(limit)
	ev := s.Base

	if ev.RRule == "" {
		return []recurrence.Occurrence{applyOverride(s, ev.Start, ev.End)}
	}

	opt, err := rrule.StrToROption(ev.RRule)
	if err != nil {
		appLog.Warn("unreadable RRULE", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return []recurrence.Occurrence{}
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Warn("unusable RRULE", "uid", ev.UID, "rrule", ev.RRule, "err", err)
		return []recurrence.Occurrence{}
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	duration := ev.End.Sub(ev.Start)
	horizon := ev.Start.AddDate(0, 0, limit)

	out := make([]recurrence.Occurrence, 0, min(limit, 32))
	next := set.Iterator()
	for len(out) < limit {
		start, ok := next()
		if !ok || start.After(horizon) {
			break
		}
		out = append(out, applyOverride(s, start, start.Add(duration)))
	}

	// Overrides may move an instance past its neighbours.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func applyOverride(s Series, start, end time.Time) recurrence.Occurrence {
	for _, o := range s.Overrides {
		if o.RecurrenceID.Equal(start) {
			return recurrence.Occurrence{Start: o.Start, End: o.End}
		}
	}
	return recurrence.Occurrence{Start: start, End: end}
}
