// Package intake drives the event-intake and conflict-resolution workflow:
//
//	Idle -> Submitting -> {Success | Conflict} -> Idle
//
// A submission is either Fresh (prior conflict state is cleared before the
// request goes out) or Reschedule (conflict state survives the request so a
// user can keep negotiating a slot). Accepting a suggested slot is just a
// Reschedule submission with synthesized text.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"famcal/internal/apperr"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/notify"
	"famcal/internal/session"
	"famcal/internal/store"
)

// ReschedulePrefix marks manually typed text that should keep the current
// conflict context.
const ReschedulePrefix = "reschedule"

// Gateway is the subset of the backend the controller needs.
type Gateway interface {
	ParseEvent(ctx context.Context, token, text string) (model.ConflictResult, error)
	GetEvents(ctx context.Context, token string) ([]model.Event, error)
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
)

// Conflict is the transient state left behind by a conflicting parse.
type Conflict struct {
	Title       string            `json:"title"`
	Details     string            `json:"details,omitempty"`
	Suggestions []model.Timestamp `json:"suggestions"`
}

// Active reports whether there is anything to offer the user.
func (c Conflict) Active() bool {
	return c.Title != "" || len(c.Suggestions) > 0
}

func (c Conflict) clone() Conflict {
	c.Suggestions = append([]model.Timestamp(nil), c.Suggestions...)
	return c
}

// Request is a tagged submission: Fresh or Reschedule.
type Request interface {
	requestText() string
}

// Fresh is a new, unrelated submission.
type Fresh struct {
	Text string
}

// Reschedule continues a conflict negotiation. Conflict is the context the
// caller saw when it built the request.
type Reschedule struct {
	Text     string
	Conflict Conflict
}

func (r Fresh) requestText() string      { return r.Text }
func (r Reschedule) requestText() string { return r.Text }

// State is a read-only snapshot for rendering.
type State struct {
	Phase    Phase    `json:"phase"`
	Draft    string   `json:"draft"`
	Conflict Conflict `json:"conflict"`
	// Chips are the suggestions formatted for display, in the same order.
	Chips []string `json:"chips"`
}

type Options struct {
	// Location renders timestamps in synthesized text and chips. Defaults
	// to time.Local.
	Location *time.Location
}

// Controller owns the draft text and the conflict state. The event
// collection itself belongs to the store.
type Controller struct {
	gw       Gateway
	store    *store.Store
	notifier notify.Notifier
	loc      *time.Location

	mu       sync.Mutex
	phase    Phase
	draft    string
	conflict Conflict
}

func New(gw Gateway, st *store.Store, n notify.Notifier, opts Options) *Controller {
	if n == nil {
		n = notify.Discard
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Controller{
		gw:       gw,
		store:    st,
		notifier: n,
		loc:      loc,
		phase:    PhaseIdle,
	}
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Phase:    c.phase,
		Draft:    c.draft,
		Conflict: c.conflict.clone(),
		Chips:    make([]string, len(c.conflict.Suggestions)),
	}
	for i, s := range c.conflict.Suggestions {
		st.Chips[i] = model.FormatChip(s.Time, c.loc)
	}
	return st
}

// SetDraft replaces the draft text without submitting.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// SubmitDraft submits manually entered text. Text that starts with
// "reschedule" keeps the current conflict context.
func (c *Controller) SubmitDraft(ctx context.Context, text string) error {
	c.SetDraft(text)
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, ReschedulePrefix) {
		c.mu.Lock()
		cur := c.conflict.clone()
		c.mu.Unlock()
		return c.Submit(ctx, Reschedule{Text: trimmed, Conflict: cur})
	}
	return c.Submit(ctx, Fresh{Text: trimmed})
}

// SuggestionText builds the text submitted when suggestion i is accepted.
func (c *Controller) SuggestionText(i int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suggestionTextLocked(i)
}

func (c *Controller) suggestionTextLocked(i int) (string, error) {
	if i < 0 || i >= len(c.conflict.Suggestions) {
		return "", apperr.Invalid("suggestion", "no suggestion #%d", i+1)
	}
	if strings.TrimSpace(c.conflict.Title) == "" {
		return "", apperr.Invalid("suggestion", "the conflicting event has no title to reschedule")
	}
	return fmt.Sprintf("%s %s to %s",
		ReschedulePrefix,
		c.conflict.Title,
		model.FormatLong(c.conflict.Suggestions[i].Time, c.loc),
	), nil
}

// AcceptSuggestion resubmits the most recent conflicting event at
// suggestion i.
func (c *Controller) AcceptSuggestion(ctx context.Context, i int) error {
	c.mu.Lock()
	text, err := c.suggestionTextLocked(i)
	if err != nil {
		c.mu.Unlock()
		c.notifyErr("Error creating event", err)
		return err
	}
	c.draft = text
	cur := c.conflict.clone()
	c.mu.Unlock()

	return c.Submit(ctx, Reschedule{Text: text, Conflict: cur})
}

// Submit runs one Idle -> Submitting -> Idle cycle. Empty text is a no-op.
// A submission while another is in flight returns apperr.ErrBusy.
func (c *Controller) Submit(ctx context.Context, req Request) error {
	if req == nil {
		return nil
	}
	text := strings.TrimSpace(req.requestText())
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.phase == PhaseSubmitting {
		c.mu.Unlock()
		return apperr.ErrBusy
	}
	c.phase = PhaseSubmitting
	switch r := req.(type) {
	case Fresh:
		c.conflict = Conflict{}
	case Reschedule:
		if !c.conflict.Active() && r.Conflict.Active() {
			c.conflict = r.Conflict.clone()
		}
	}
	c.mu.Unlock()

	appLog.Debug("intake submit", "reschedule", isReschedule(req), "text", text)
	res, err := c.gw.ParseEvent(ctx, session.CredentialFrom(ctx), text)

	c.mu.Lock()
	c.phase = PhaseIdle
	if err != nil {
		c.mu.Unlock()
		c.notifyErr("Error creating event", err)
		return err
	}
	if res.IsConflict {
		title := ""
		if res.CreatedEvent != nil {
			title = res.CreatedEvent.Title
		}
		c.conflict = Conflict{
			Title:       title,
			Details:     res.ConflictDetails,
			Suggestions: append([]model.Timestamp(nil), res.SuggestedTimes...),
		}
	} else {
		c.draft = ""
		c.conflict = Conflict{}
	}
	c.mu.Unlock()

	if res.IsConflict {
		c.notifier.Notify(notify.Notice{
			Level:       notify.LevelWarning,
			Title:       "Event Conflict",
			Description: fmt.Sprintf("This event conflicts with: %s. Here are some suggestions.", res.ConflictDetails),
		})
	} else {
		c.notifier.Notify(notify.Notice{
			Level:       notify.LevelSuccess,
			Title:       "Event Processed",
			Description: "Event created successfully!",
		})
	}

	// The event exists on the backend in both outcomes.
	c.refresh(ctx)
	return nil
}

func (c *Controller) refresh(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Refresh(ctx, c.gw); err != nil {
		c.notifyErr("Error fetching events", err)
	}
}

func (c *Controller) notifyErr(title string, err error) {
	c.notifier.Notify(notify.Notice{
		Level:       notify.LevelError,
		Title:       title,
		Description: apperr.Message(err),
	})
}

func isReschedule(req Request) bool {
	_, ok := req.(Reschedule)
	return ok
}
