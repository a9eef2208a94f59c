package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category is the assistant-assigned event category. It drives the color of
// an entry in the month grid.
type Category string

const (
	CategorySports        Category = "SPORTS"
	CategoryAppointment   Category = "APPOINTMENT"
	CategorySchool        Category = "SCHOOL"
	CategoryWork          Category = "WORK"
	CategorySocial        Category = "SOCIAL"
	CategoryUncategorized Category = "UNCATEGORIZED"
)

// Normalize maps unknown or empty categories to CategoryUncategorized.
func (c Category) Normalize() Category {
	switch Category(strings.ToUpper(string(c))) {
	case CategorySports, CategoryAppointment, CategorySchool, CategoryWork, CategorySocial:
		return Category(strings.ToUpper(string(c)))
	default:
		return CategoryUncategorized
	}
}

// State is the lifecycle tag reported by the backend. It is kept open:
// values other than the ones below are carried through and rendered as-is.
type State string

const (
	StateDraft        State = "DRAFT"
	StateConfirmed    State = "CONFIRMED"
	StateShared       State = "SHARED"
	StateReminderSent State = "REMINDER_SENT"
	StateCompleted    State = "COMPLETED"
	StateCancelled    State = "CANCELLED"
)

// Reminder bounds, in minutes. One week is the practical upper limit.
const (
	MinReminderMinutes = 1
	MaxReminderMinutes = 7 * 24 * 60
)

// Event represents a calendar event as returned by the scheduling backend.
type Event struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Title     string         `json:"title"`
	Category  Category       `json:"category"`
	State     State          `json:"state"`
	Start     Timestamp      `json:"start_time"`
	End       *Timestamp     `json:"end_time,omitempty"`
	Location  string         `json:"location,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	Timeline  []TimelineItem `json:"timeline"`
	Reminders []Reminder     `json:"reminders"`
}

// Validate checks the invariants the client relies on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("event: id is empty")
	}
	if e.Start.IsZero() {
		return fmt.Errorf("event %s: start_time is required", e.ID)
	}
	if e.End != nil && !e.End.IsZero() && e.End.Before(e.Start.Time) {
		return fmt.Errorf("event %s: end_time is before start_time", e.ID)
	}
	return nil
}

// Clone returns a deep copy so callers can hand snapshots out freely.
func (e Event) Clone() Event {
	out := e
	if e.End != nil {
		end := *e.End
		out.End = &end
	}
	if e.Timeline != nil {
		out.Timeline = append([]TimelineItem(nil), e.Timeline...)
	}
	if e.Reminders != nil {
		out.Reminders = append([]Reminder(nil), e.Reminders...)
	}
	return out
}

// TimelineItem is an append-only audit entry created by the backend.
type TimelineItem struct {
	Action    string    `json:"action"`
	Timestamp Timestamp `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// Reminder fires MinutesBefore minutes ahead of the event start.
type Reminder struct {
	MinutesBefore int    `json:"minutes_before"`
	Message       string `json:"message,omitempty"`
}

// ConflictResult is the parse response. It only lives between one parse
// response and the next submission.
type ConflictResult struct {
	IsConflict      bool        `json:"is_conflict"`
	CreatedEvent    *Event      `json:"created_event,omitempty"`
	ConflictDetails string      `json:"conflict_details,omitempty"`
	SuggestedTimes  []Timestamp `json:"suggested_times,omitempty"`
}

// SharePayload is what the backend returns after sharing an event.
type SharePayload struct {
	Summary  string    `json:"summary"`
	Start    Timestamp `json:"start"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// User is the public account record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Timestamp decodes both RFC 3339 values and the naive ISO-8601 form the
// backend emits for datetimes without a zone; naive values are UTC.
type Timestamp struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a wire timestamp.
func ParseTimestamp(v string) (Timestamp, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Timestamp{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return Timestamp{Time: t}, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", v)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
