package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"eventcal/internal/events"
	"eventcal/internal/recurrence"
)

const productID = "-//eventcal//Community Events//EN"

// feedNamespace scopes instance UIDs so they stay stable across exports.
var feedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://eventcal.invalid/instances"))

// InstanceUID is the UID an instance carries in the published feed.
func InstanceUID(eventID, instanceID int64) string {
	name := fmt.Sprintf("event/%d/instance/%d", eventID, instanceID)
	return uuid.NewSHA1(feedNamespace, []byte(name)).String() + "@eventcal"
}

// WriteFeed renders listings as a published calendar with one VEVENT per
// instance. stamp is used for DTSTAMP.
func WriteFeed(w io.Writer, name string, listings []events.Listing, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, l := range listings {
		inst := l.Instance
		end := inst.Start.Add(recurrence.DefaultDuration)
		if inst.End != nil {
			end = *inst.End
		}

		ve := cal.AddEvent(InstanceUID(l.EventID, inst.ID))
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(inst.Start.UTC())
		ve.SetEndAt(end.UTC())
		ve.SetSummary(l.Name)

		desc := inst.Description
		if desc == "" {
			desc = l.Summary
		}
		if desc != "" {
			ve.SetDescription(desc)
		}
		if spec, err := recurrence.Decode(l.Recurrence); err == nil && spec != nil {
			ve.SetProperty(ical.ComponentProperty("COMMENT"), recurrence.Describe(*spec))
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
