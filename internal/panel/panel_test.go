package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	"famcal/internal/apperr"
	"famcal/internal/gateway"
	"famcal/internal/model"
	"famcal/internal/notify"
	"famcal/internal/session"
	"famcal/internal/store"
)

type fakeGateway struct {
	calls      []string
	tokens     []string
	statusErr  error
	reminderFn func(id string, r model.Reminder) (model.Event, error)
	shareTo    []string
	shareErr   error
	deleteErr  error
	events     map[string]model.Event
	timeline   []model.TimelineItem
	loadErr    error
	during     func()
}

func (f *fakeGateway) record(call, token string) {
	f.calls = append(f.calls, call)
	f.tokens = append(f.tokens, token)
	if f.during != nil {
		fn := f.during
		f.during = nil
		fn()
	}
}

func (f *fakeGateway) UpdateEventStatus(_ context.Context, token, id string, state model.State) (model.Event, error) {
	f.record("status", token)
	if f.statusErr != nil {
		return model.Event{}, f.statusErr
	}
	ev := f.events[id]
	ev.State = state
	ev.Timeline = append(ev.Timeline, model.TimelineItem{Action: "Status changed to " + string(state)})
	f.events[id] = ev
	return ev.Clone(), nil
}

func (f *fakeGateway) AddReminder(_ context.Context, token, id string, r model.Reminder) (model.Event, error) {
	f.record("reminder", token)
	if f.reminderFn != nil {
		return f.reminderFn(id, r)
	}
	ev := f.events[id]
	ev.Reminders = append(ev.Reminders, r)
	f.events[id] = ev
	return ev.Clone(), nil
}

func (f *fakeGateway) ShareEvent(_ context.Context, token, id string, recipients []string) (model.SharePayload, error) {
	f.record("share", token)
	f.shareTo = append(f.shareTo, recipients...)
	return model.SharePayload{Summary: "Event: " + f.events[id].Title}, f.shareErr
}

func (f *fakeGateway) DeleteEvent(_ context.Context, token, id string) error {
	f.record("delete", token)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.events, id)
	return nil
}

func (f *fakeGateway) GetEvent(_ context.Context, token, id string) (model.Event, error) {
	f.record("get", token)
	if f.loadErr != nil {
		return model.Event{}, f.loadErr
	}
	ev, ok := f.events[id]
	if !ok {
		return model.Event{}, &gateway.BackendError{Op: "get event", Status: 404, Message: "Event not found"}
	}
	return ev.Clone(), nil
}

func (f *fakeGateway) GetTimeline(_ context.Context, token, id string) ([]model.TimelineItem, error) {
	f.record("timeline", token)
	return append([]model.TimelineItem(nil), f.timeline...), nil
}

func fixture(t *testing.T) (*fakeGateway, *store.Store, *notify.Recorder, model.Event) {
	t.Helper()
	dentist := model.Event{
		ID:       "e1",
		Title:    "Dentist",
		Category: model.CategoryAppointment,
		State:    model.StateDraft,
		Start:    model.At(time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)),
	}
	other := model.Event{
		ID:    "e2",
		Title: "Soccer",
		State: model.StateConfirmed,
		Start: model.At(time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)),
	}
	st := store.New()
	if err := st.Replace([]model.Event{dentist, other}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	gw := &fakeGateway{events: map[string]model.Event{"e1": dentist, "e2": other}}
	return gw, st, &notify.Recorder{}, dentist
}

func ctx() context.Context {
	return session.WithCredential(context.Background(), "tok")
}

func TestConfirmDraft(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	if !p.CanConfirm() {
		t.Fatalf("draft should be confirmable")
	}
	if err := p.Confirm(ctx()); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got, _ := st.Get("e1"); got.State != model.StateConfirmed {
		t.Fatalf("store state=%s", got.State)
	}
	if p.IsOpen() {
		t.Fatalf("panel should close after confirm")
	}
	if gw.tokens[0] != "tok" {
		t.Fatalf("token=%q", gw.tokens[0])
	}
	if n, _ := rec.Last(); n.Title != "Event marked as confirmed" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestConfirmRejectsNonDraft(t *testing.T) {
	gw, st, rec, _ := fixture(t)
	confirmed, _ := st.Get("e2")
	p := Open(gw, st, rec, confirmed)
	err := p.Confirm(ctx())
	if !apperr.IsValidation(err) {
		t.Fatalf("err=%v want validation", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("calls=%v", gw.calls)
	}
}

func TestConfirmFailureKeepsPanelOpen(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	gw.statusErr = &gateway.BackendError{Op: "update status", Status: 500, Message: "Failed to update status"}
	p := Open(gw, st, rec, ev)
	if err := p.Confirm(ctx()); err == nil {
		t.Fatalf("expected error")
	}
	if !p.IsOpen() {
		t.Fatalf("panel should stay open on failure")
	}
	if got, _ := st.Get("e1"); got.State != model.StateDraft {
		t.Fatalf("store state=%s", got.State)
	}
	n, _ := rec.Last()
	if n.Level != notify.LevelError || n.Title != "Error updating status" || n.Description != "Failed to update status" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestAddReminderFifteen(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	if err := p.AddReminder(ctx(), 15); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	got, _ := st.Get("e1")
	if len(got.Reminders) != 1 || got.Reminders[0].MinutesBefore != 15 {
		t.Fatalf("reminders=%+v", got.Reminders)
	}
	if r := p.Reminders(); len(r) != 1 || r[0].MinutesBefore != 15 {
		t.Fatalf("panel reminders=%+v", r)
	}
	if !p.IsOpen() {
		t.Fatalf("panel should stay open")
	}
	if n, _ := rec.Last(); n.Title != "Reminder added" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestAddReminderRejectsOutOfRange(t *testing.T) {
	for _, minutes := range []int{-5, 0, 10081, 1 << 20} {
		gw, st, rec, ev := fixture(t)
		p := Open(gw, st, rec, ev)
		err := p.AddReminder(ctx(), minutes)
		if !apperr.IsValidation(err) {
			t.Fatalf("minutes=%d: err=%v want validation", minutes, err)
		}
		if len(gw.calls) != 0 {
			t.Fatalf("minutes=%d: request sent", minutes)
		}
	}
	for _, minutes := range []int{1, 10080} {
		gw, st, rec, ev := fixture(t)
		p := Open(gw, st, rec, ev)
		if err := p.AddReminder(ctx(), minutes); err != nil {
			t.Fatalf("minutes=%d: %v", minutes, err)
		}
	}
}

func TestShare(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	before := st.Snapshot()

	if err := p.Share(ctx(), "   "); err != nil {
		t.Fatalf("blank Share: %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("blank share sent a request")
	}

	if err := p.Share(ctx(), " kim@example.com "); err != nil {
		t.Fatalf("Share: %v", err)
	}
	if len(gw.shareTo) != 1 || gw.shareTo[0] != "kim@example.com" {
		t.Fatalf("shareTo=%v", gw.shareTo)
	}
	if n, _ := rec.Last(); n.Title != "Event shared with kim@example.com" {
		t.Fatalf("notice=%+v", n)
	}
	after := st.Snapshot()
	if len(after) != len(before) || after[0].State != before[0].State {
		t.Fatalf("share mutated store")
	}
}

func TestDeleteThenCancel(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	p.RequestDelete()
	if !p.Confirming() {
		t.Fatalf("confirmation not shown")
	}
	p.CancelDelete()
	if p.Confirming() || !p.IsOpen() {
		t.Fatalf("confirming=%v open=%v", p.Confirming(), p.IsOpen())
	}
	if len(gw.calls) != 0 || st.Len() != 2 {
		t.Fatalf("calls=%v len=%d", gw.calls, st.Len())
	}
}

func TestDeleteThenConfirm(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	p.RequestDelete()
	if err := p.ConfirmDelete(ctx()); err != nil {
		t.Fatalf("ConfirmDelete: %v", err)
	}
	if _, ok := st.Get("e1"); ok {
		t.Fatalf("e1 still in store")
	}
	if _, ok := st.Get("e2"); !ok || st.Len() != 1 {
		t.Fatalf("other events must stay, len=%d", st.Len())
	}
	if p.IsOpen() || p.Confirming() {
		t.Fatalf("both panels should close")
	}
	if n, _ := rec.Last(); n.Title != "Event deleted" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	if err := p.ConfirmDelete(ctx()); !apperr.IsValidation(err) {
		t.Fatalf("err=%v want validation", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("request sent without confirmation")
	}
}

func TestDeleteFailureClosesOnlyConfirmation(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	gw.deleteErr = &gateway.TransportError{Op: "delete event", Err: errors.New("connection refused")}
	p := Open(gw, st, rec, ev)
	p.RequestDelete()
	if err := p.ConfirmDelete(ctx()); err == nil {
		t.Fatalf("expected error")
	}
	if p.Confirming() || !p.IsOpen() {
		t.Fatalf("confirming=%v open=%v", p.Confirming(), p.IsOpen())
	}
	if st.Len() != 2 {
		t.Fatalf("store changed on failure")
	}
	if n, _ := rec.Last(); n.Title != "Error deleting event" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestSameActionBusy(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)
	var inner, other error
	gw.during = func() {
		inner = p.AddReminder(ctx(), 10)
		other = p.Share(ctx(), "kim@example.com")
	}
	if err := p.AddReminder(ctx(), 15); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	if !errors.Is(inner, apperr.ErrBusy) {
		t.Fatalf("inner=%v want ErrBusy", inner)
	}
	if other != nil {
		t.Fatalf("other actions must not be blocked: %v", other)
	}
}

func TestStaleReminderResponseDropped(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	p := Open(gw, st, rec, ev)

	var calls int
	gw.reminderFn = func(id string, r model.Reminder) (model.Event, error) {
		calls++
		out := ev.Clone()
		out.Reminders = []model.Reminder{r}
		if calls == 1 {
			// A newer request for the same id starts before this one returns.
			st.Begin(id)
		}
		return out, nil
	}
	if err := p.AddReminder(ctx(), 15); err != nil {
		t.Fatalf("AddReminder: %v", err)
	}
	if got, _ := st.Get("e1"); len(got.Reminders) != 0 {
		t.Fatalf("stale response applied: %+v", got.Reminders)
	}
}

func TestReloadFetchesTimeline(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	renamed := gw.events["e1"]
	renamed.Title = "Dentist (moved)"
	gw.events["e1"] = renamed
	gw.timeline = []model.TimelineItem{{Action: "Event created"}, {Action: "Reminder added"}}
	p := Open(gw, st, rec, ev)

	if err := p.Reload(ctx(), gw); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(gw.calls) != 2 || gw.calls[0] != "get" || gw.calls[1] != "timeline" || gw.tokens[1] != "tok" {
		t.Fatalf("calls=%v tokens=%v", gw.calls, gw.tokens)
	}
	if tl := p.Timeline(); len(tl) != 2 || tl[1].Action != "Reminder added" {
		t.Fatalf("timeline=%+v", tl)
	}
	got, _ := st.Get("e1")
	if got.Title != "Dentist (moved)" || len(got.Timeline) != 2 {
		t.Fatalf("store=%+v", got)
	}
	if !p.IsOpen() || len(rec.Notices()) != 0 {
		t.Fatalf("open=%v notices=%v", p.IsOpen(), rec.Notices())
	}
}

func TestReloadFailureKeepsEvent(t *testing.T) {
	gw, st, rec, ev := fixture(t)
	gw.loadErr = &gateway.BackendError{Op: "get event", Status: 500, Message: "Failed to fetch event"}
	p := Open(gw, st, rec, ev)
	if err := p.Reload(ctx(), gw); err == nil {
		t.Fatalf("expected error")
	}
	if p.Event().Title != "Dentist" {
		t.Fatalf("event=%+v", p.Event())
	}
	n, _ := rec.Last()
	if n.Level != notify.LevelError || n.Title != "Error fetching event" || n.Description != "Failed to fetch event" {
		t.Fatalf("notice=%+v", n)
	}

	p.Close()
	if err := p.Reload(ctx(), gw); !apperr.IsValidation(err) {
		t.Fatalf("closed panel: err=%v", err)
	}
}
