package grid

import (
	"fmt"
	"testing"
	"time"

	"famcal/internal/model"
)

func at(y int, m time.Month, d, h, min int) model.Timestamp {
	return model.At(time.Date(y, m, d, h, min, 0, 0, time.UTC))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func checkShape(t *testing.T, ref time.Time, m Month, ws time.Weekday) {
	t.Helper()
	if len(m.Weeks) < 4 {
		t.Fatalf("%s: weeks=%d", ref.Format("2006-01"), len(m.Weeks))
	}
	cells := m.Cells()
	if len(cells) != 7*len(m.Weeks) {
		t.Fatalf("%s: cells=%d weeks=%d", ref.Format("2006-01"), len(cells), len(m.Weeks))
	}
	for _, w := range m.Weeks {
		if len(w) != 7 {
			t.Fatalf("%s: row of %d cells", ref.Format("2006-01"), len(w))
		}
		if w[0].Date.Weekday() != ws {
			t.Fatalf("%s: row starts on %s want %s", ref.Format("2006-01"), w[0].Date.Weekday(), ws)
		}
	}
	for i := 1; i < len(cells); i++ {
		if !sameDay(cells[i].Date, cells[i-1].Date.AddDate(0, 0, 1)) {
			t.Fatalf("%s: cell %d date %s does not follow %s", ref.Format("2006-01"), i, cells[i].Date, cells[i-1].Date)
		}
	}
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	last := first.AddDate(0, 1, -1)
	if first.Before(cells[0].Date) {
		t.Fatalf("%s: grid starts after the 1st", ref.Format("2006-01"))
	}
	if last.After(cells[len(cells)-1].Date) {
		t.Fatalf("%s: grid ends before the last day", ref.Format("2006-01"))
	}
	inMonth := 0
	for _, c := range cells {
		if c.InMonth {
			inMonth++
		}
	}
	if inMonth != last.Day() {
		t.Fatalf("%s: in-month cells=%d want %d", ref.Format("2006-01"), inMonth, last.Day())
	}
}

func TestProjectShapeAcrossYears(t *testing.T) {
	for _, ws := range []time.Weekday{time.Sunday, time.Monday} {
		for y := 2020; y <= 2030; y++ {
			for mo := time.January; mo <= time.December; mo++ {
				ref := time.Date(y, mo, 15, 10, 0, 0, 0, time.UTC)
				m := Project(ref, nil, Options{WeekStart: ws, Location: time.UTC, Now: ref})
				checkShape(t, ref, m, ws)
			}
		}
	}
}

func TestFourWeekFebruary(t *testing.T) {
	// February 2015 starts on a Sunday and has 28 days.
	ref := time.Date(2015, time.February, 10, 0, 0, 0, 0, time.UTC)
	m := Project(ref, nil, Options{Location: time.UTC, Now: ref})
	if len(m.Weeks) != 4 {
		t.Fatalf("weeks=%d want 4", len(m.Weeks))
	}
}

func TestMay2024SundayStart(t *testing.T) {
	ref := time.Date(2024, time.May, 2, 13, 0, 0, 0, time.UTC)
	m := Project(ref, nil, Options{Location: time.UTC, Now: ref})
	if m.Title() != "May 2024" {
		t.Fatalf("Title=%q", m.Title())
	}
	if got := m.Start.Format("2006-01-02"); got != "2024-04-28" {
		t.Fatalf("Start=%s", got)
	}
	if got := m.End.Format("2006-01-02"); got != "2024-06-02" {
		t.Fatalf("End=%s", got)
	}
	cells := m.Cells()
	if cells[0].InMonth || !cells[3].InMonth {
		t.Fatalf("InMonth flags wrong: %v %v", cells[0].InMonth, cells[3].InMonth)
	}
	var today []time.Time
	for _, c := range cells {
		if c.IsToday {
			today = append(today, c.Date)
		}
	}
	if len(today) != 1 || today[0].Day() != 2 {
		t.Fatalf("today cells=%v", today)
	}
}

func TestEventCoverageExactlyOnce(t *testing.T) {
	events := []model.Event{
		{ID: "before", Start: at(2024, time.April, 27, 23, 59)},
		{ID: "spill-start", Start: at(2024, time.April, 28, 0, 0)},
		{ID: "mid", Start: at(2024, time.May, 15, 9, 0)},
		{ID: "mid2", Start: at(2024, time.May, 15, 8, 0)},
		{ID: "last", Start: at(2024, time.June, 1, 23, 59)},
		{ID: "after", Start: at(2024, time.June, 2, 0, 0)},
		{ID: "far", Start: at(2025, time.January, 1, 0, 0)},
	}
	ref := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	m := Project(ref, events, Options{Location: time.UTC, Now: ref})

	seen := map[string]int{}
	for _, c := range m.Cells() {
		for _, ev := range c.Events {
			seen[ev.ID]++
			if !sameDay(ev.Start.Time, c.Date) {
				t.Fatalf("event %s in cell %s", ev.ID, c.Date)
			}
		}
	}
	for _, ev := range events {
		want := 0
		if m.Contains(ev.Start.Time) {
			want = 1
		}
		if seen[ev.ID] != want {
			t.Fatalf("event %s seen %d times want %d", ev.ID, seen[ev.ID], want)
		}
	}
	if seen["spill-start"] != 1 || seen["last"] != 1 || seen["before"] != 0 || seen["after"] != 0 {
		t.Fatalf("seen=%v", seen)
	}
}

func TestDayOrderingIsStableByStart(t *testing.T) {
	events := []model.Event{
		{ID: "c", Start: at(2024, time.May, 2, 15, 0)},
		{ID: "a", Start: at(2024, time.May, 2, 9, 0)},
		{ID: "b1", Start: at(2024, time.May, 2, 12, 0)},
		{ID: "b2", Start: at(2024, time.May, 2, 12, 0)},
	}
	ref := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	m := Project(ref, events, Options{Location: time.UTC, Now: ref})
	for _, c := range m.Cells() {
		if c.Date.Day() != 2 || !c.InMonth {
			continue
		}
		var got []string
		for _, ev := range c.Events {
			got = append(got, ev.ID)
		}
		if fmt.Sprint(got) != "[a b1 b2 c]" {
			t.Fatalf("order=%v", got)
		}
		return
	}
	t.Fatalf("May 2nd not found")
}

func TestBucketingUsesDisplayLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 03:00 UTC on May 3rd is still May 2nd at UTC-5.
	events := []model.Event{{ID: "late", Start: at(2024, time.May, 3, 3, 0)}}
	ref := time.Date(2024, time.May, 10, 0, 0, 0, 0, loc)
	m := Project(ref, events, Options{Location: loc, Now: ref})
	for _, c := range m.Cells() {
		if len(c.Events) > 0 {
			if c.Date.Day() != 2 {
				t.Fatalf("event bucketed on day %d", c.Date.Day())
			}
			return
		}
	}
	t.Fatalf("event not placed")
}

func TestProjectAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	for _, mo := range []time.Month{time.March, time.November} {
		ref := time.Date(2024, mo, 15, 12, 0, 0, 0, loc)
		m := Project(ref, nil, Options{Location: loc, Now: ref})
		checkShape(t, ref, m, time.Sunday)
		for _, c := range m.Cells() {
			if c.Date.Hour() != 0 || c.Date.Minute() != 0 {
				t.Fatalf("%s: cell %s is not midnight", mo, c.Date)
			}
		}
	}
}

// Chile starts DST at local midnight: 2024-09-08 has no 00:00.
func TestProjectMidnightDSTStart(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	events := []model.Event{
		{ID: "sat", Start: model.At(time.Date(2024, time.September, 7, 10, 0, 0, 0, loc))},
		{ID: "sun", Start: model.At(time.Date(2024, time.September, 8, 10, 0, 0, 0, loc))},
	}
	ref := time.Date(2024, time.September, 15, 12, 0, 0, 0, loc)
	m := Project(ref, events, Options{Location: loc, Now: ref})
	checkShape(t, ref, m, time.Sunday)

	seen := map[string]int{}
	for _, c := range m.Cells() {
		for _, ev := range c.Events {
			seen[ev.ID]++
			if !sameDay(ev.Start.In(loc), c.Date) {
				t.Fatalf("event %s in cell %s", ev.ID, c.Date)
			}
		}
	}
	if seen["sat"] != 1 || seen["sun"] != 1 {
		t.Fatalf("seen=%v", seen)
	}

	for _, c := range m.Cells() {
		if c.Date.Month() == time.September && c.Date.Day() == 8 {
			if c.Date.Hour() != 1 {
				t.Fatalf("Sep 8 starts at %s, want 01:00", c.Date)
			}
			return
		}
	}
	t.Fatalf("no cell for Sep 8")
}

func TestShiftMonth(t *testing.T) {
	tests := []struct {
		in   time.Time
		n    int
		want string
	}{
		{time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC), 1, "2024-06-15"},
		{time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC), 1, "2024-02-29"},
		{time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC), 1, "2023-02-28"},
		{time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), -1, "2024-02-29"},
		{time.Date(2024, time.December, 10, 0, 0, 0, 0, time.UTC), 1, "2025-01-10"},
		{time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC), -1, "2023-12-10"},
		{time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC), 13, "2025-06-30"},
	}
	for _, tt := range tests {
		if got := ShiftMonth(tt.in, tt.n).Format("2006-01-02"); got != tt.want {
			t.Fatalf("ShiftMonth(%s, %d)=%s want=%s", tt.in.Format("2006-01-02"), tt.n, got, tt.want)
		}
	}
}

func TestViewNavigation(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC)
	v := NewView(now, Options{Location: time.UTC, Now: now})
	v.Next()
	if v.Project(nil).Title() != "June 2024" {
		t.Fatalf("after Next: %s", v.Project(nil).Title())
	}
	v.Prev()
	v.Prev()
	if v.Project(nil).Title() != "April 2024" {
		t.Fatalf("after Prev: %s", v.Project(nil).Title())
	}
	v.Today()
	if v.Project(nil).Title() != "May 2024" {
		t.Fatalf("after Today: %s", v.Project(nil).Title())
	}
}

func TestWeekdayLabels(t *testing.T) {
	if got := fmt.Sprint(WeekdayLabels(time.Monday)); got != "[Mon Tue Wed Thu Fri Sat Sun]" {
		t.Fatalf("labels=%s", got)
	}
	if got := WeekdayLabels(time.Sunday)[0]; got != "Sun" {
		t.Fatalf("first=%s", got)
	}
}

func TestParseMonth(t *testing.T) {
	got, ok := ParseMonth("2024-05", time.UTC)
	if !ok || got.Month() != time.May || got.Day() != 1 {
		t.Fatalf("ParseMonth=%v ok=%v", got, ok)
	}
	if _, ok := ParseMonth("May", time.UTC); ok {
		t.Fatalf("expected failure")
	}
}
