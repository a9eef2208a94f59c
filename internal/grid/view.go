package grid

import (
	"time"

	"famcal/internal/model"
)

// View is the month navigation state of a surface. It only knows which
// month is displayed; intake and panel state live elsewhere and are not
// touched by navigation.
type View struct {
	Ref  time.Time
	Opts Options
}

// NewView starts at the month containing ref.
func NewView(ref time.Time, opts Options) *View {
	return &View{Ref: ref, Opts: opts}
}

// Next moves to the following month.
func (v *View) Next() { v.Ref = ShiftMonth(v.Ref, 1) }

// Prev moves to the previous month.
func (v *View) Prev() { v.Ref = ShiftMonth(v.Ref, -1) }

// Today jumps back to the month containing Opts.Now (or the wall clock).
func (v *View) Today() {
	if !v.Opts.Now.IsZero() {
		v.Ref = v.Opts.Now
		return
	}
	v.Ref = time.Now()
}

// Project regrids the current month from events.
func (v *View) Project(events []model.Event) Month {
	return Project(v.Ref, events, v.Opts)
}

// ParseMonth parses "2024-05" in loc and returns the 1st of that month.
// An empty value yields ok=false.
func ParseMonth(v string, loc *time.Location) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01", v, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
