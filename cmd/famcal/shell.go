package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"famcal/internal/apperr"
	"famcal/internal/grid"
	"famcal/internal/intake"
	"famcal/internal/model"
	"famcal/internal/notify"
	"famcal/internal/panel"
	"famcal/internal/render"
	"famcal/internal/session"
	"famcal/internal/store"
	"famcal/internal/web"
)

const shellHelp = `Commands:
  add <text>          create an event from a sentence ("dentist friday 9am")
  accept <n>          reschedule to suggestion n of the last conflict
  next | prev | today move the month view
  month               redraw the month
  open <n>            show event n from the month view
  confirm             confirm the open draft event
  remind [minutes]    add a reminder to the open event (default 30)
  share <email>       share the open event
  delete              delete the open event (asks first)
  close               close the open event
  refresh             refetch events
  events              list every event
  help                this text
  quit                leave the shell
`

// shellBackend is everything the shell calls on the events API.
type shellBackend interface {
	web.Backend
	panel.Loader
}

// shell is the interactive front end. Every command runs to completion
// before the next line is read. The month is redrawn after a command when
// the store changed and no event is open.
type shell struct {
	backend shellBackend
	store   *store.Store
	sess    *session.Session
	loc     *time.Location
	view    *grid.View
	intake  *intake.Controller
	panel   *panel.Panel
	notices notify.Notifier
	stale   bool

	in  *bufio.Scanner
	out io.Writer
}

func newShell(backend shellBackend, st *store.Store, sess *session.Session, opts grid.Options, in io.Reader, out io.Writer) *shell {
	sh := &shell{
		backend: backend,
		store:   st,
		sess:    sess,
		loc:     opts.Location,
		view:    grid.NewView(opts.Now, opts),
		in:      bufio.NewScanner(in),
		out:     out,
	}
	sh.notices = notify.Func(func(n notify.Notice) {
		fmt.Fprintln(sh.out, render.Notice(n))
	})
	sh.intake = intake.New(backend, st, sh.notices, intake.Options{Location: opts.Location})
	return sh
}

func (a *app) runShell(ctx context.Context) error {
	now := time.Now()
	sh := newShell(a.gw, a.store, a.sess, grid.Options{
		WeekStart: a.cfg.WeekStartDay(),
		Location:  a.loc,
		Now:       now,
	}, a.in, a.out)

	done := make(chan error, 1)
	go func() { done <- sh.run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		fmt.Fprintln(a.out)
		return nil
	}
}

func (sh *shell) run(ctx context.Context) error {
	stop := sh.store.Subscribe(func([]model.Event) { sh.stale = true })
	defer stop()

	sh.stale = true
	if sh.sess.LoggedIn() {
		sh.refresh(ctx)
	} else {
		fmt.Fprintln(sh.out, "Not logged in. Run `famcal login` to see your events.")
	}
	sh.flush()

	for {
		fmt.Fprint(sh.out, "> ")
		if !sh.in.Scan() {
			return sh.in.Err()
		}
		line := strings.TrimSpace(sh.in.Text())
		if line == "" {
			continue
		}
		quit, err := sh.exec(ctx, line)
		var n *noticedError
		if err != nil && !errors.As(err, &n) {
			fmt.Fprintln(sh.out, render.Notice(notify.Notice{Level: notify.LevelError, Title: "Error", Description: apperr.Message(err)}))
		}
		if quit {
			return nil
		}
		sh.flush()
	}
}

// flush redraws the month if the store changed since the last draw.
func (sh *shell) flush() {
	if !sh.stale || (sh.panel != nil && sh.panel.IsOpen()) {
		return
	}
	sh.printMonth()
}

// noticedError marks an error the intake controller or the panel has
// already printed as a notice.
type noticedError struct{ err error }

func (e *noticedError) Error() string { return e.err.Error() }
func (e *noticedError) Unwrap() error { return e.err }

func noticed(err error) error {
	if err == nil {
		return nil
	}
	return &noticedError{err: err}
}

func usage(format string, args ...any) error {
	return fmt.Errorf("usage: "+format, args...)
}

func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	ctx = sh.sess.Context(ctx)

	switch strings.ToLower(cmd) {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprint(sh.out, shellHelp)
	case "add":
		if rest == "" {
			return false, usage("add <text>")
		}
		err := sh.intake.SubmitDraft(ctx, rest)
		sh.afterIntake()
		return false, noticed(err)
	case "accept":
		n, err := sh.number(rest, "accept <n>")
		if err != nil {
			return false, err
		}
		err = sh.intake.AcceptSuggestion(ctx, n-1)
		sh.afterIntake()
		return false, noticed(err)
	case "next":
		sh.view.Next()
		sh.printMonth()
	case "prev":
		sh.view.Prev()
		sh.printMonth()
	case "today":
		sh.view.Today()
		sh.printMonth()
	case "month":
		sh.printMonth()
	case "refresh":
		sh.refresh(ctx)
	case "events":
		sh.printEvents()
	case "open":
		n, err := sh.number(rest, "open <n>")
		if err != nil {
			return false, err
		}
		idx := render.Index(sh.view.Project(sh.store.Snapshot()))
		if n > len(idx) {
			return false, apperr.Invalid("event", "no event %d in this month", n)
		}
		sh.panel = panel.Open(sh.backend, sh.store, sh.notices, idx[n-1])
		err = sh.panel.Reload(ctx, sh.backend)
		sh.printPanel()
		return false, noticed(err)
	case "close":
		if sh.panel != nil {
			sh.panel.Close()
			sh.panel = nil
		}
	case "confirm", "remind", "share", "delete":
		return false, sh.panelAction(ctx, strings.ToLower(cmd), rest)
	default:
		return false, usage("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (sh *shell) panelAction(ctx context.Context, cmd, rest string) error {
	if sh.panel == nil || !sh.panel.IsOpen() {
		return apperr.Invalid("event", "open an event first")
	}
	var err error
	switch cmd {
	case "confirm":
		err = sh.panel.Confirm(ctx)
	case "remind":
		minutes := panel.DefaultReminderMinutes
		if rest != "" {
			v, perr := strconv.Atoi(rest)
			if perr != nil {
				return apperr.Invalid("minutes_before", "minutes must be a number")
			}
			minutes = v
		}
		err = sh.panel.AddReminder(ctx, minutes)
	case "share":
		if rest == "" {
			return usage("share <email>")
		}
		err = sh.panel.Share(ctx, rest)
	case "delete":
		sh.panel.RequestDelete()
		fmt.Fprintf(sh.out, "Delete %q? [y/N] ", sh.panel.Event().Title)
		answer := ""
		if sh.in.Scan() {
			answer = strings.ToLower(strings.TrimSpace(sh.in.Text()))
		}
		if answer != "y" && answer != "yes" {
			sh.panel.CancelDelete()
			return nil
		}
		err = sh.panel.ConfirmDelete(ctx)
	}
	if sh.panel.IsOpen() {
		sh.printPanel()
	} else {
		sh.panel = nil
	}
	return noticed(err)
}

func (sh *shell) number(v, form string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 0, usage("%s", form)
	}
	return n, nil
}

func (sh *shell) refresh(ctx context.Context) {
	if err := sh.store.Refresh(sh.sess.Context(ctx), sh.backend); err != nil {
		sh.notices.Notify(notify.Notice{Level: notify.LevelError, Title: "Error fetching events", Description: apperr.Message(err)})
	}
}

func (sh *shell) afterIntake() {
	sh.flush()
	if s := render.Suggestions(sh.intake.State()); s != "" {
		fmt.Fprintln(sh.out, s)
		fmt.Fprintln(sh.out, "Use `accept <n>` to pick a time.")
	}
}

func (sh *shell) printMonth() {
	sh.stale = false
	m := sh.view.Project(sh.store.Snapshot())
	fmt.Fprintln(sh.out, render.MonthText(m, render.Options{Location: sh.loc, Numbered: true}))
}

func (sh *shell) printPanel() {
	fmt.Fprintln(sh.out, render.Panel(sh.panel.Event(), sh.loc))
}

func (sh *shell) printEvents() {
	events := sh.store.Snapshot()
	if len(events) == 0 {
		fmt.Fprintln(sh.out, "No events.")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(sh.out, "%s  %-9s %s  %s\n", ev.ID, ev.State, model.FormatLong(ev.Start.Time, sh.loc), ev.Title)
	}
}
