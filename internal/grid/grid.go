// Package grid projects a flat event collection onto a month calendar.
//
// Project is pure: the same reference date, events and options always give
// the same Month. Rows are whole weeks; the first row starts on the week
// start on or before the 1st and the last row ends on the day before the
// week start after the month's last day.
package grid

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"famcal/internal/model"
)

// Options controls week layout and the display timezone.
type Options struct {
	// WeekStart is the first column of every row. Zero value is Sunday.
	WeekStart time.Weekday
	// Location decides which calendar day an event starts on. Nil means
	// time.Local.
	Location *time.Location
	// Now marks the IsToday cell. Zero means time.Now().
	Now time.Time
}

// Cell is one calendar day.
type Cell struct {
	Date    time.Time     `json:"date"`
	InMonth bool          `json:"in_month"`
	IsToday bool          `json:"is_today"`
	Events  []model.Event `json:"events"`
}

// Month is the projected grid: Weeks[i] always has seven cells.
type Month struct {
	Year      int          `json:"year"`
	Month     time.Month   `json:"month"`
	WeekStart time.Weekday `json:"week_start"`
	Start     time.Time    `json:"start"`
	// End is exclusive: midnight after the last cell.
	End   time.Time `json:"end"`
	Weeks [][]Cell  `json:"weeks"`
}

// Title renders "May 2024".
func (m Month) Title() string {
	return fmt.Sprintf("%s %d", m.Month, m.Year)
}

// Cells returns all cells row by row.
func (m Month) Cells() []Cell {
	out := make([]Cell, 0, len(m.Weeks)*7)
	for _, w := range m.Weeks {
		out = append(out, w...)
	}
	return out
}

// Contains reports whether t falls inside the displayed interval.
func (m Month) Contains(t time.Time) bool {
	return !t.Before(m.Start) && t.Before(m.End)
}

// WeekdayLabels returns short weekday names starting at weekStart.
func WeekdayLabels(weekStart time.Weekday) []string {
	out := make([]string, 7)
	for i := range out {
		out[i] = time.Weekday((int(weekStart) + i) % 7).String()[:3]
	}
	return out
}

// Project builds the Month containing ref.
func Project(ref time.Time, events []model.Event, opts Options) Month {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ref = ref.In(loc)
	// Date arithmetic runs on UTC calendar dates so a local day without a
	// midnight cannot shift a cell onto its neighbour.
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	startDate := first.AddDate(0, 0, -daysSinceWeekStart(first.Weekday(), opts.WeekStart))
	endDate := last.AddDate(0, 0, 7-daysSinceWeekStart(last.Weekday(), opts.WeekStart))

	days := enumerateDates(startDate, endDate)

	m := Month{
		Year:      first.Year(),
		Month:     first.Month(),
		WeekStart: opts.WeekStart,
		Start:     startOfDay(dayKey(startDate), loc),
		End:       startOfDay(dayKey(endDate), loc),
	}

	buckets := bucket(events, loc)
	today := dayKey(now.In(loc))

	cells := make([]Cell, len(days))
	for i, d := range days {
		k := dayKey(d)
		cells[i] = Cell{
			Date:    startOfDay(k, loc),
			InMonth: k.m == first.Month(),
			IsToday: k == today,
			Events:  buckets[k],
		}
		if cells[i].Events == nil {
			cells[i].Events = []model.Event{}
		}
	}
	for i := 0; i < len(cells); i += 7 {
		m.Weeks = append(m.Weeks, cells[i:i+7])
	}
	return m
}

// enumerateDates lists the UTC calendar dates in [start, end) with a DAILY
// rule. Both bounds must be UTC midnights.
func enumerateDates(start, end time.Time) []time.Time {
	n := int(end.Sub(start).Hours() / 24)
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: start,
		Count:   n,
	})
	if err != nil {
		return enumerateDatesFallback(start, end)
	}
	if days := r.All(); len(days) == n {
		return days
	}
	return enumerateDatesFallback(start, end)
}

func enumerateDatesFallback(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// startOfDay returns the first instant of calendar day k in loc. Where DST
// starts at midnight that is 01:00, not the 23:00 of the day before.
func startOfDay(k key, loc *time.Location) time.Time {
	t := time.Date(k.y, k.m, k.d, 0, 0, 0, 0, loc)
	for h := 1; dayKey(t) != k && h < 24; h++ {
		t = time.Date(k.y, k.m, k.d, h, 0, 0, 0, loc)
	}
	return t
}

func daysSinceWeekStart(d, weekStart time.Weekday) int {
	return (int(d) - int(weekStart) + 7) % 7
}

type key struct {
	y int
	m time.Month
	d int
}

func dayKey(t time.Time) key {
	return key{t.Year(), t.Month(), t.Day()}
}

// bucket groups events by the local day they start on. Within a day events
// are ordered by start time; equal starts keep input order.
func bucket(events []model.Event, loc *time.Location) map[key][]model.Event {
	out := make(map[key][]model.Event)
	for _, ev := range events {
		if ev.Start.IsZero() {
			continue
		}
		k := dayKey(ev.Start.In(loc))
		out[k] = append(out[k], ev.Clone())
	}
	for _, evs := range out {
		sort.SliceStable(evs, func(i, j int) bool {
			return evs[i].Start.Before(evs[j].Start.Time)
		})
	}
	return out
}

// ShiftMonth moves t by n calendar months, keeping the day of month when
// the target month has it and clamping to its last day otherwise.
func ShiftMonth(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, n, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return target.AddDate(0, 0, d-1)
}
