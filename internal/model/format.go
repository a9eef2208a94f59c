package model

import (
	"strconv"
	"time"
)

// FormatLong renders t as "May 2nd, 2024 1:00 PM" in loc. This is the form
// the interpretation service expects inside reschedule requests.
func FormatLong(t time.Time, loc *time.Location) string {
	t = inLoc(t, loc)
	return t.Format("January") + " " + Ordinal(t.Day()) + ", " + strconv.Itoa(t.Year()) + " " + FormatTime(t, nil)
}

// FormatChip renders t as "Thu, 1:00 PM" for suggestion buttons.
func FormatChip(t time.Time, loc *time.Location) string {
	t = inLoc(t, loc)
	return t.Format("Mon") + ", " + FormatTime(t, nil)
}

// FormatTime renders the clock part, "1:00 PM".
func FormatTime(t time.Time, loc *time.Location) string {
	return inLoc(t, loc).Format("3:04 PM")
}

// FormatStamp renders "05/02/2024, 1:00 PM" for timeline rows.
func FormatStamp(t time.Time, loc *time.Location) string {
	t = inLoc(t, loc)
	return t.Format("01/02/2006") + ", " + FormatTime(t, nil)
}

// Ordinal returns 1st, 2nd, 3rd, 4th ... 11th, 12th, 13th, 21st.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func inLoc(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}
