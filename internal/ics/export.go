// Package ics converts the event store to and from iCalendar so events can
// be subscribed to or imported by other calendar apps.
package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// DefaultDuration is used for DTEND when an event has no end time.
const DefaultDuration = time.Hour

// ExportOptions controls calendar-level properties.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME. Empty omits it.
	Name string
	// Now is written as DTSTAMP on every VEVENT. Zero means time.Now().
	Now time.Time
}

// Export renders events as a VCALENDAR. Events are written in the given
// order, each with one VALARM per reminder.
func Export(events []model.Event, opts ExportOptions) ([]byte, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//famcal//famcal export//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	skipped := 0
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			skipped++
			appLog.Error("ics export: skipping invalid event", err, "id", ev.ID)
			continue
		}
		addEvent(cal, ev, now)
	}
	if skipped > 0 && skipped == len(events) {
		return nil, errors.New("ics export: no valid events")
	}

	appLog.Debug("ics export completed", "event_count", len(events)-skipped, "skipped", skipped)
	return []byte(cal.Serialize()), nil
}

func addEvent(cal *ical.Calendar, ev model.Event, now time.Time) {
	ve := cal.AddEvent(ev.ID)
	ve.SetDtStampTime(now.UTC())
	ve.SetSummary(ev.Title)

	start := ev.Start.UTC()
	end := start.Add(DefaultDuration)
	if ev.End != nil && !ev.End.IsZero() {
		end = ev.End.UTC()
	}
	ve.SetStartAt(start)
	ve.SetEndAt(end)

	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.Notes != "" {
		ve.SetDescription(ev.Notes)
	}
	ve.AddCategory(string(ev.Category.Normalize()))
	ve.SetStatus(objectStatus(ev.State))

	for _, r := range ev.Reminders {
		if r.MinutesBefore <= 0 {
			continue
		}
		alarm := ve.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(fmt.Sprintf("-PT%dM", r.MinutesBefore))
		msg := r.Message
		if msg == "" {
			msg = ev.Title
		}
		alarm.SetProperty(ical.ComponentPropertyDescription, msg)
	}
}

func objectStatus(s model.State) ical.ObjectStatus {
	switch s {
	case model.StateDraft:
		return ical.ObjectStatusTentative
	case model.StateCancelled:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusConfirmed
	}
}

func stateFromStatus(v string) model.State {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(ical.ObjectStatusTentative):
		return model.StateDraft
	case string(ical.ObjectStatusCancelled):
		return model.StateCancelled
	default:
		return model.StateConfirmed
	}
}
