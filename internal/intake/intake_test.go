package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"famcal/internal/apperr"
	"famcal/internal/model"
	"famcal/internal/notify"
	"famcal/internal/session"
	"famcal/internal/store"
)

type fakeGateway struct {
	texts   []string
	tokens  []string
	results []model.ConflictResult
	errs    []error
	events  []model.Event
	fetches int

	// during is called inside ParseEvent, before it returns.
	during func()
}

func (f *fakeGateway) ParseEvent(_ context.Context, token, text string) (model.ConflictResult, error) {
	i := len(f.texts)
	f.texts = append(f.texts, text)
	f.tokens = append(f.tokens, token)
	if f.during != nil {
		f.during()
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return model.ConflictResult{}, err
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return model.ConflictResult{}, nil
}

func (f *fakeGateway) GetEvents(context.Context, string) ([]model.Event, error) {
	f.fetches++
	return f.events, nil
}

func mustTS(t *testing.T, v string) model.Timestamp {
	t.Helper()
	ts, err := model.ParseTimestamp(v)
	if err != nil {
		t.Fatalf("ParseTimestamp(%q): %v", v, err)
	}
	return ts
}

func lunchConflict(t *testing.T) model.ConflictResult {
	return model.ConflictResult{
		IsConflict: true,
		CreatedEvent: &model.Event{
			ID:    "e1",
			Title: "lunch with Sam",
			Start: mustTS(t, "2024-05-02T12:00:00Z"),
		},
		ConflictDetails: "Team Sync",
		SuggestedTimes:  []model.Timestamp{mustTS(t, "2024-05-02T13:00:00Z")},
	}
}

func newController(gw *fakeGateway) (*Controller, *notify.Recorder, *store.Store) {
	rec := &notify.Recorder{}
	st := store.New()
	return New(gw, st, rec, Options{Location: time.UTC}), rec, st
}

func TestLunchWithSamConflictAndAccept(t *testing.T) {
	gw := &fakeGateway{
		results: []model.ConflictResult{lunchConflict(t), {CreatedEvent: &model.Event{ID: "e1", Title: "lunch with Sam"}}},
		events:  []model.Event{{ID: "e1", Title: "lunch with Sam", Start: mustTS(t, "2024-05-02T12:00:00Z")}},
	}
	c, rec, st := newController(gw)
	ctx := session.WithCredential(context.Background(), "tok")

	if err := c.SubmitDraft(ctx, "lunch with Sam tomorrow noon"); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}

	n, _ := rec.Last()
	if n.Level != notify.LevelWarning || !strings.Contains(n.Description, "Team Sync") {
		t.Fatalf("notice=%+v", n)
	}
	st1 := c.State()
	if st1.Phase != PhaseIdle {
		t.Fatalf("Phase=%s", st1.Phase)
	}
	if st1.Draft != "lunch with Sam tomorrow noon" {
		t.Fatalf("draft should be kept on conflict, got %q", st1.Draft)
	}
	if st1.Conflict.Title != "lunch with Sam" || len(st1.Chips) != 1 || st1.Chips[0] != "Thu, 1:00 PM" {
		t.Fatalf("state=%+v", st1)
	}
	if st.Len() != 1 || gw.fetches != 1 {
		t.Fatalf("store should be refreshed after conflict, len=%d fetches=%d", st.Len(), gw.fetches)
	}

	if err := c.AcceptSuggestion(ctx, 0); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}
	want := "reschedule lunch with Sam to May 2nd, 2024 1:00 PM"
	if gw.texts[1] != want {
		t.Fatalf("synthesized=%q want=%q", gw.texts[1], want)
	}
	if gw.tokens[1] != "tok" {
		t.Fatalf("token=%q", gw.tokens[1])
	}

	st2 := c.State()
	if st2.Draft != "" || st2.Conflict.Active() {
		t.Fatalf("success should clear draft and conflict, state=%+v", st2)
	}
	n, _ = rec.Last()
	if n.Level != notify.LevelSuccess || n.Title != "Event Processed" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestSuggestionOrderPreserved(t *testing.T) {
	res := lunchConflict(t)
	res.SuggestedTimes = []model.Timestamp{
		mustTS(t, "2024-05-03T09:00:00Z"),
		mustTS(t, "2024-05-02T15:00:00Z"),
		mustTS(t, "2024-05-02T14:00:00Z"),
	}
	gw := &fakeGateway{results: []model.ConflictResult{res}}
	c, _, _ := newController(gw)
	_ = c.SubmitDraft(context.Background(), "lunch")

	got := c.State().Conflict.Suggestions
	for i := range res.SuggestedTimes {
		if !got[i].Equal(res.SuggestedTimes[i].Time) {
			t.Fatalf("suggestion %d = %v want %v", i, got[i], res.SuggestedTimes[i])
		}
	}
	if chips := c.State().Chips; chips[0] != "Fri, 9:00 AM" || chips[2] != "Thu, 2:00 PM" {
		t.Fatalf("chips=%v", chips)
	}
}

func TestFreshSubmissionClearsConflictBeforeRequest(t *testing.T) {
	gw := &fakeGateway{results: []model.ConflictResult{lunchConflict(t)}}
	c, _, _ := newController(gw)
	_ = c.SubmitDraft(context.Background(), "lunch")
	if !c.State().Conflict.Active() {
		t.Fatalf("expected conflict state")
	}

	texts := []string{"dentist friday 9am", "  soccer practice monday", "Reschedul typo"}
	for _, text := range texts {
		gw.results = append(gw.results, lunchConflict(t))
		var during State
		gw.during = func() { during = c.State() }
		if err := c.SubmitDraft(context.Background(), text); err != nil {
			t.Fatalf("SubmitDraft(%q): %v", text, err)
		}
		if during.Conflict.Active() {
			t.Fatalf("%q: conflict state visible during request: %+v", text, during.Conflict)
		}
		if during.Phase != PhaseSubmitting {
			t.Fatalf("%q: Phase=%s during request", text, during.Phase)
		}
	}
}

func TestRescheduleTextKeepsConflictDuringRequest(t *testing.T) {
	gw := &fakeGateway{errs: []error{nil, errors.New("nope")}, results: []model.ConflictResult{lunchConflict(t)}}
	c, _, _ := newController(gw)
	_ = c.SubmitDraft(context.Background(), "lunch")

	var during State
	gw.during = func() { during = c.State() }
	_ = c.SubmitDraft(context.Background(), "reschedule lunch with Sam to friday")
	if during.Conflict.Title != "lunch with Sam" {
		t.Fatalf("conflict should survive reschedule submission, got %+v", during.Conflict)
	}
	if !c.State().Conflict.Active() {
		t.Fatalf("failure should not clear conflict state")
	}
}

func TestFailureKeepsDraftAndNotifies(t *testing.T) {
	gw := &fakeGateway{errs: []error{&apperr.ValidationError{Msg: "Could not find a date"}}}
	c, rec, st := newController(gw)

	err := c.SubmitDraft(context.Background(), "something vague")
	if err == nil {
		t.Fatalf("expected error")
	}
	s := c.State()
	if s.Phase != PhaseIdle || s.Draft != "something vague" {
		t.Fatalf("state=%+v", s)
	}
	n, _ := rec.Last()
	if n.Level != notify.LevelError || n.Title != "Error creating event" || n.Description != "Could not find a date" {
		t.Fatalf("notice=%+v", n)
	}
	if gw.fetches != 0 || st.Len() != 0 {
		t.Fatalf("no refresh expected on failure")
	}
}

func TestEmptySubmissionIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	c, rec, _ := newController(gw)
	for _, text := range []string{"", "   ", "\n\t"} {
		if err := c.SubmitDraft(context.Background(), text); err != nil {
			t.Fatalf("SubmitDraft(%q): %v", text, err)
		}
	}
	if len(gw.texts) != 0 || len(rec.Notices()) != 0 {
		t.Fatalf("expected no requests and no notices")
	}
}

func TestBusyWhileSubmitting(t *testing.T) {
	gw := &fakeGateway{}
	c, _, _ := newController(gw)
	var inner error
	gw.during = func() {
		gw.during = nil
		inner = c.Submit(context.Background(), Fresh{Text: "second"})
	}
	if err := c.Submit(context.Background(), Fresh{Text: "first"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !errors.Is(inner, apperr.ErrBusy) {
		t.Fatalf("inner=%v want ErrBusy", inner)
	}
	if len(gw.texts) != 1 {
		t.Fatalf("requests=%v", gw.texts)
	}
}

func TestAcceptSuggestionOutOfRange(t *testing.T) {
	gw := &fakeGateway{}
	c, rec, _ := newController(gw)
	err := c.AcceptSuggestion(context.Background(), 0)
	if !apperr.IsValidation(err) {
		t.Fatalf("err=%v want validation", err)
	}
	if len(gw.texts) != 0 {
		t.Fatalf("no request expected")
	}
	if n, ok := rec.Last(); !ok || n.Level != notify.LevelError {
		t.Fatalf("notice=%+v", n)
	}
}

func TestAcceptSuggestionWithoutConflictTitle(t *testing.T) {
	res := lunchConflict(t)
	res.CreatedEvent = nil
	gw := &fakeGateway{results: []model.ConflictResult{res}}
	c, rec, _ := newController(gw)
	ctx := session.WithCredential(context.Background(), "tok")

	if err := c.SubmitDraft(ctx, "lunch with Sam"); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if _, err := c.SuggestionText(0); !apperr.IsValidation(err) {
		t.Fatalf("SuggestionText err=%v want validation", err)
	}
	err := c.AcceptSuggestion(ctx, 0)
	if !apperr.IsValidation(err) {
		t.Fatalf("AcceptSuggestion err=%v want validation", err)
	}
	if len(gw.texts) != 1 {
		t.Fatalf("texts=%q, reschedule must not be sent", gw.texts)
	}
	if n, _ := rec.Last(); n.Level != notify.LevelError || n.Title != "Error creating event" {
		t.Fatalf("notice=%+v", n)
	}
}

func TestRepeatedConflictReplacesSuggestions(t *testing.T) {
	second := lunchConflict(t)
	second.SuggestedTimes = []model.Timestamp{mustTS(t, "2024-05-02T16:00:00Z"), mustTS(t, "2024-05-02T17:00:00Z")}
	gw := &fakeGateway{results: []model.ConflictResult{lunchConflict(t), second}}
	c, _, _ := newController(gw)
	_ = c.SubmitDraft(context.Background(), "lunch")
	if err := c.AcceptSuggestion(context.Background(), 0); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}
	s := c.State()
	if len(s.Conflict.Suggestions) != 2 || s.Chips[0] != "Thu, 4:00 PM" {
		t.Fatalf("state=%+v", s)
	}
	if s.Draft != "reschedule lunch with Sam to May 2nd, 2024 1:00 PM" {
		t.Fatalf("Draft=%q", s.Draft)
	}
}
