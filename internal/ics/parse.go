package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// Decode reads a calendar produced by Export back into events. VEVENTs
// without a UID or DTSTART are skipped and logged.
func Decode(body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, comp := range cal.Events() {
		ev, perr := decodeVEvent(comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeVEvent(ve *ical.VEvent) (model.Event, error) {
	var out model.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.ID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Notes = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		out.Category = model.Category(p.Value).Normalize()
	} else {
		out.Category = model.CategoryUncategorized
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.State = stateFromStatus(p.Value)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = model.At(start)
	if end, err := ve.GetEndAt(); err == nil && !end.IsZero() {
		ts := model.At(end)
		out.End = &ts
	}

	for _, a := range ve.Alarms() {
		p := a.GetProperty(ical.ComponentPropertyTrigger)
		if p == nil {
			continue
		}
		minutes, ok := triggerMinutes(p.Value)
		if !ok {
			continue
		}
		r := model.Reminder{MinutesBefore: minutes}
		if d := a.GetProperty(ical.ComponentPropertyDescription); d != nil && d.Value != out.Title {
			r.Message = d.Value
		}
		out.Reminders = append(out.Reminders, r)
	}
	return out, nil
}

// triggerMinutes understands the relative triggers Export writes
// (-PT15M) plus whole hours and days (-PT2H, -P1D).
func triggerMinutes(v string) (int, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if !strings.HasPrefix(v, "-P") {
		return 0, false
	}
	v = strings.TrimPrefix(v, "-P")
	days := 0
	if i := strings.Index(v, "D"); i >= 0 {
		n, err := strconv.Atoi(v[:i])
		if err != nil {
			return 0, false
		}
		days = n
		v = v[i+1:]
	}
	total := days * 24 * 60
	v = strings.TrimPrefix(v, "T")
	for v != "" {
		i := strings.IndexAny(v, "HMS")
		if i <= 0 {
			return 0, false
		}
		n, err := strconv.Atoi(v[:i])
		if err != nil {
			return 0, false
		}
		switch v[i] {
		case 'H':
			total += n * 60
		case 'M':
			total += n
		}
		v = v[i+1:]
	}
	return total, total > 0
}
