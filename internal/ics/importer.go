package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"eventcal/internal/config"
	"eventcal/internal/events"
	appLog "eventcal/internal/log"
	"eventcal/internal/recurrence"
)

// Syncer receives imported events. *events.Service implements it.
type Syncer interface {
	SyncExternal(ctx context.Context, organizerID int64, in events.CreateEventInput, extra []recurrence.Occurrence) (events.SyncResult, error)
}

// Importer pulls configured feeds into organizers' events.
type Importer struct {
	fetcher *Fetcher
	syncer  Syncer
	sources []Source
	loc     *time.Location
	limit   int
}

// SourcesFrom converts config entries into import sources.
func SourcesFrom(imports []config.ImportConfig) []Source {
	out := make([]Source, 0, len(imports))
	for _, ic := range imports {
		out = append(out, Source{ID: ic.ID, Name: ic.Name, URL: ic.URL, OrganizerID: ic.OrganizerID})
	}
	return out
}

// NewImporter builds an Importer. loc is used for floating feed times and
// limit caps every series expansion.
func NewImporter(fetcher *Fetcher, syncer Syncer, sources []Source, loc *time.Location, limit int) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	return &Importer{
		fetcher: fetcher,
		syncer:  syncer,
		sources: sources,
		loc:     loc,
		limit:   recurrence.NormalizeLimit(limit),
	}
}

// Report summarizes one import run.
type Report struct {
	Sources  int `json:"sources"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Native   int `json:"native"`   // series stored as an encoded rule
	Expanded int `json:"expanded"` // series stored as pre-expanded instances
	Failed   int `json:"failed"`
}

// Run imports every source once. A failing source or event is logged and
// counted; the joined errors are returned after all sources ran.
func (im *Importer) Run(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	for _, src := range im.sources {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := im.importSource(ctx, src, &rep); err != nil {
			appLog.Error("ics import failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("import %s: %w", src.ID, err))
			rep.Failed++
			continue
		}
		rep.Sources++
	}

	appLog.Info("ics import finished",
		"sources", rep.Sources,
		"created", rep.Created,
		"updated", rep.Updated,
		"native", rep.Native,
		"expanded", rep.Expanded,
		"failed", rep.Failed,
	)
	return rep, errors.Join(errs...)
}

func (im *Importer) importSource(ctx context.Context, src Source, rep *Report) error {
	res, err := im.fetcher.Fetch(ctx, src)
	if err != nil {
		return err
	}
	parsed, err := ParseICS(src, res.Body, im.loc)
	if err != nil {
		return err
	}

	for _, s := range GroupSeries(parsed) {
		in, extra, native := im.prepare(s)
		out, err := im.syncer.SyncExternal(ctx, src.OrganizerID, in, extra)
		if err != nil {
			appLog.Warn("skipping imported event", "id", src.ID, "uid", s.Base.UID, "err", err)
			rep.Failed++
			continue
		}
		if out.Created {
			rep.Created++
		} else {
			rep.Updated++
		}
		if native {
			rep.Native++
		} else if s.Base.RRule != "" {
			rep.Expanded++
		}
	}
	return nil
}

// prepare maps a series to an event form. A series keeps its rule only
// when the RRULE is in the supported dialect, has no exceptions and the
// native expansion matches the RFC 5545 one over the same window. Any other
// recurring series is expanded here and passed as extra occurrences.
func (im *Importer) prepare(s Series) (events.CreateEventInput, []recurrence.Occurrence, bool) {
	ev := s.Base
	name := strings.TrimSpace(ev.Summary)
	if name == "" {
		name = "(untitled)"
	}
	end := ev.End
	in := events.CreateEventInput{
		Name:        name,
		Description: ev.Description,
		Start:       ev.Start,
		End:         &end,
		ExternalUID: ev.UID,
	}
	if ev.RRule == "" {
		return in, nil, false
	}

	if len(ev.ExDates) == 0 && len(s.Overrides) == 0 {
		foreign := ExpandForeign(s, im.limit)
		spec, err := recurrence.FromRRuleString(ev.RRule)
		if err != nil {
			appLog.Debug("rrule outside native dialect", "uid", ev.UID, "rrule", ev.RRule, "err", err)
			return in, foreign, false
		}
		native := recurrence.ExpandSpec(recurrence.Base{Start: ev.Start, End: &end}, *spec, im.limit)
		if !sameStarts(native, foreign) {
			// Month-end days and UNTIL times mean something else in RFC 5545.
			appLog.Debug("rrule expands differently in native dialect", "uid", ev.UID, "rrule", ev.RRule)
			return in, foreign, false
		}
		r := events.RecurrenceInputFrom(*spec)
		in.IsRecurring = true
		in.Recurrence = &r
		return in, nil, true
	}
	return in, ExpandForeign(s, im.limit), false
}

func sameStarts(a, b []recurrence.Occurrence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) {
			return false
		}
	}
	return true
}

// Schedule runs the importer on spec (standard 5-field cron) until ctx is
// done. Runs never overlap.
func (im *Importer) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, err := im.Run(ctx); err != nil {
			appLog.Warn("scheduled import had errors", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid import schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	appLog.Info("ics import scheduled", "cron", spec, "sources", len(im.sources))
	return c, nil
}
