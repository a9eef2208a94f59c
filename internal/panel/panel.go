// Package panel is the per-event lifecycle view: confirm a draft, add a
// reminder, share, reload with its timeline, and delete behind a
// confirmation step. Each action is
// its own request/response cycle with its own busy flag.
package panel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"famcal/internal/apperr"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/notify"
	"famcal/internal/session"
	"famcal/internal/store"
)

// DefaultReminderMinutes pre-fills the reminder input.
const DefaultReminderMinutes = 30

// Gateway is the subset of the backend the panel drives.
type Gateway interface {
	UpdateEventStatus(ctx context.Context, token, id string, state model.State) (model.Event, error)
	AddReminder(ctx context.Context, token, id string, r model.Reminder) (model.Event, error)
	ShareEvent(ctx context.Context, token, id string, recipients []string) (model.SharePayload, error)
	DeleteEvent(ctx context.Context, token, id string) error
}

// Loader fetches the detail view of one event.
type Loader interface {
	GetEvent(ctx context.Context, token, id string) (model.Event, error)
	GetTimeline(ctx context.Context, token, id string) ([]model.TimelineItem, error)
}

type action int

const (
	actConfirm action = iota
	actReminder
	actShare
	actDelete
	actReload
	numActions
)

// Panel shows one event. It owns only its open/confirming flags and busy
// markers; the event itself is read from and written to the store.
type Panel struct {
	gw       Gateway
	store    *store.Store
	notifier notify.Notifier

	mu         sync.Mutex
	event      model.Event
	open       bool
	confirming bool
	busy       [numActions]bool
}

// Open selects ev and shows the panel.
func Open(gw Gateway, st *store.Store, n notify.Notifier, ev model.Event) *Panel {
	if n == nil {
		n = notify.Discard
	}
	return &Panel{gw: gw, store: st, notifier: n, event: ev.Clone(), open: true}
}

// Event returns the event as currently shown.
func (p *Panel) Event() model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.event.Clone()
}

// IsOpen reports whether the detail panel is shown.
func (p *Panel) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Confirming reports whether the delete confirmation step is shown.
func (p *Panel) Confirming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirming
}

// Busy reports whether any action is in flight.
func (p *Panel) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.busy {
		if b {
			return true
		}
	}
	return false
}

// Close hides the panel without any request.
func (p *Panel) Close() {
	p.mu.Lock()
	p.open = false
	p.confirming = false
	p.mu.Unlock()
}

// Timeline returns the audit trail of the shown event.
func (p *Panel) Timeline() []model.TimelineItem {
	return p.Event().Timeline
}

// Reminders returns the reminders of the shown event.
func (p *Panel) Reminders() []model.Reminder {
	return p.Event().Reminders
}

// CanConfirm reports whether the status action is offered.
func (p *Panel) CanConfirm() bool {
	return p.Event().State == model.StateDraft
}

func (p *Panel) begin(a action) (model.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return model.Event{}, apperr.Invalid("panel", "panel is closed")
	}
	if p.busy[a] {
		return model.Event{}, apperr.ErrBusy
	}
	p.busy[a] = true
	return p.event.Clone(), nil
}

func (p *Panel) end(a action) {
	p.mu.Lock()
	p.busy[a] = false
	p.mu.Unlock()
}

// Confirm moves a DRAFT event to CONFIRMED. On success the store entry is
// replaced and the panel closes.
func (p *Panel) Confirm(ctx context.Context) error {
	ev, err := p.begin(actConfirm)
	if err != nil {
		return err
	}
	defer p.end(actConfirm)

	if ev.State != model.StateDraft {
		err := apperr.Invalid("state", "only draft events can be confirmed (state is %s)", ev.State)
		p.fail("Error updating status", err)
		return err
	}

	seq := p.nextSeq(ev.ID)
	updated, err := p.gw.UpdateEventStatus(ctx, session.CredentialFrom(ctx), ev.ID, model.StateConfirmed)
	if err != nil {
		p.fail("Error updating status", err)
		return err
	}
	p.apply(seq, updated)

	p.mu.Lock()
	p.open = false
	p.confirming = false
	p.mu.Unlock()

	p.notifier.Notify(notify.Notice{
		Level: notify.LevelSuccess,
		Title: "Event marked as " + strings.ToLower(string(updated.State)),
	})
	return nil
}

// AddReminder attaches a reminder minutes before the start. Values outside
// [1, 10080] are rejected before any request.
func (p *Panel) AddReminder(ctx context.Context, minutes int) error {
	if minutes < model.MinReminderMinutes || minutes > model.MaxReminderMinutes {
		err := apperr.Invalid("minutes_before", "must be between %d and %d minutes", model.MinReminderMinutes, model.MaxReminderMinutes)
		p.fail("Error adding reminder", err)
		return err
	}
	ev, err := p.begin(actReminder)
	if err != nil {
		return err
	}
	defer p.end(actReminder)

	seq := p.nextSeq(ev.ID)
	updated, err := p.gw.AddReminder(ctx, session.CredentialFrom(ctx), ev.ID, model.Reminder{MinutesBefore: minutes})
	if err != nil {
		p.fail("Error adding reminder", err)
		return err
	}
	p.apply(seq, updated)

	p.notifier.Notify(notify.Notice{
		Level:       notify.LevelSuccess,
		Title:       "Reminder added",
		Description: fmt.Sprintf("%d minutes before", minutes),
	})
	return nil
}

// Share sends the event to recipient. Blank input is a no-op. Nothing
// changes locally on success.
func (p *Panel) Share(ctx context.Context, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil
	}
	ev, err := p.begin(actShare)
	if err != nil {
		return err
	}
	defer p.end(actShare)

	if _, err := p.gw.ShareEvent(ctx, session.CredentialFrom(ctx), ev.ID, []string{recipient}); err != nil {
		p.fail("Error sharing event", err)
		return err
	}
	p.notifier.Notify(notify.Notice{
		Level: notify.LevelSuccess,
		Title: "Event shared with " + recipient,
	})
	return nil
}

// Reload refetches the shown event and its timeline. The store entry is
// replaced unless a newer response for the same id already arrived.
func (p *Panel) Reload(ctx context.Context, l Loader) error {
	ev, err := p.begin(actReload)
	if err != nil {
		return err
	}
	defer p.end(actReload)

	tok := session.CredentialFrom(ctx)
	seq := p.nextSeq(ev.ID)
	fresh, err := l.GetEvent(ctx, tok, ev.ID)
	if err != nil {
		p.fail("Error fetching event", err)
		return err
	}
	items, err := l.GetTimeline(ctx, tok, ev.ID)
	if err != nil {
		p.fail("Error fetching timeline", err)
		return err
	}
	fresh.Timeline = items
	p.apply(seq, fresh)
	return nil
}

// RequestDelete shows the confirmation step.
func (p *Panel) RequestDelete() {
	p.mu.Lock()
	if p.open {
		p.confirming = true
	}
	p.mu.Unlock()
}

// CancelDelete hides the confirmation step. No request is sent.
func (p *Panel) CancelDelete() {
	p.mu.Lock()
	p.confirming = false
	p.mu.Unlock()
}

// ConfirmDelete deletes the event. It requires RequestDelete first. On
// success the event leaves the store and both panel and confirmation close;
// on failure only the confirmation closes.
func (p *Panel) ConfirmDelete(ctx context.Context) error {
	p.mu.Lock()
	confirming := p.confirming
	p.mu.Unlock()
	if !confirming {
		return apperr.Invalid("delete", "delete was not requested")
	}

	ev, err := p.begin(actDelete)
	if err != nil {
		return err
	}
	defer p.end(actDelete)

	seq := p.nextSeq(ev.ID)
	if err := p.gw.DeleteEvent(ctx, session.CredentialFrom(ctx), ev.ID); err != nil {
		p.mu.Lock()
		p.confirming = false
		p.mu.Unlock()
		p.fail("Error deleting event", err)
		return err
	}

	if p.store != nil && !p.store.RemoveIfLatest(ev.ID, seq) {
		appLog.Debug("delete response not applied", "id", ev.ID, "seq", seq)
	}
	p.mu.Lock()
	p.confirming = false
	p.open = false
	p.mu.Unlock()

	p.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Title: "Event deleted"})
	return nil
}

func (p *Panel) nextSeq(id string) uint64 {
	if p.store == nil {
		return 0
	}
	return p.store.Begin(id)
}

// apply writes updated into the store when it is still the latest response
// for its id, and refreshes the panel's copy.
func (p *Panel) apply(seq uint64, updated model.Event) {
	if p.store != nil && !p.store.PatchIfLatest(seq, updated) {
		appLog.Debug("stale event response dropped", "id", updated.ID, "seq", seq)
		if cur, ok := p.store.Get(updated.ID); ok {
			updated = cur
		}
	}
	p.mu.Lock()
	p.event = updated.Clone()
	p.mu.Unlock()
}

func (p *Panel) fail(title string, err error) {
	p.notifier.Notify(notify.Notice{
		Level:       notify.LevelError,
		Title:       title,
		Description: apperr.Message(err),
	})
}
