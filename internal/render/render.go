// Package render draws the month grid, the event panel, conflict
// suggestions and notices for the terminal shell.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"famcal/internal/grid"
	"famcal/internal/intake"
	"famcal/internal/model"
	"famcal/internal/notify"
)

const (
	defaultCellWidth  = 16
	defaultMaxEntries = 3
)

// Options controls grid layout.
type Options struct {
	// CellWidth is the inner width of a day cell.
	CellWidth int
	// MaxEntries is the number of entries shown per day before "+N more".
	MaxEntries int
	// Location renders entry times. Nil keeps each event's own zone.
	Location *time.Location
	// Numbered prefixes each entry with its position in Index order so the
	// shell can refer to it.
	Numbered bool
}

func (o Options) normalized() Options {
	if o.CellWidth <= 0 {
		o.CellWidth = defaultCellWidth
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = defaultMaxEntries
	}
	return o
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Bold(true)
	dayStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	outsideStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Faint(true)
	todayStyle   = lipgloss.NewStyle().Background(lipgloss.Color("63")).Foreground(lipgloss.Color("0")).Bold(true)
	moreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	chipStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var categoryColors = map[model.Category]lipgloss.Color{
	model.CategorySports:        lipgloss.Color("34"),
	model.CategoryAppointment:   lipgloss.Color("33"),
	model.CategorySchool:        lipgloss.Color("208"),
	model.CategoryWork:          lipgloss.Color("135"),
	model.CategorySocial:        lipgloss.Color("205"),
	model.CategoryUncategorized: lipgloss.Color("245"),
}

// CategoryColor returns the terminal color for c.
func CategoryColor(c model.Category) lipgloss.Color {
	return categoryColors[c.Normalize()]
}

var levelColors = map[notify.Level]lipgloss.Color{
	notify.LevelSuccess: lipgloss.Color("34"),
	notify.LevelInfo:    lipgloss.Color("33"),
	notify.LevelWarning: lipgloss.Color("214"),
	notify.LevelError:   lipgloss.Color("196"),
}

// Index lists the month's events in display order: row by row, day by day,
// then within a day. Numbered entries refer to positions in this slice
// starting at 1.
func Index(m grid.Month) []model.Event {
	var out []model.Event
	for _, c := range m.Cells() {
		out = append(out, c.Events...)
	}
	return out
}

// MonthText renders m as a grid of boxes, one row per week.
func MonthText(m grid.Month, opts Options) string {
	opts = opts.normalized()
	cell := lipgloss.NewStyle().Width(opts.CellWidth).Height(opts.MaxEntries + 1).MarginRight(1)

	labels := grid.WeekdayLabels(m.WeekStart)
	hdr := make([]string, len(labels))
	for i, l := range labels {
		hdr[i] = cell.Height(1).Render(headerStyle.Render(l))
	}

	rows := []string{titleStyle.Render(m.Title()), lipgloss.JoinHorizontal(lipgloss.Top, hdr...)}

	n := 0
	for _, week := range m.Weeks {
		cols := make([]string, len(week))
		for i, c := range week {
			lines := []string{dayLabel(c)}
			for j, ev := range c.Events {
				n++
				if j >= opts.MaxEntries {
					continue
				}
				lines = append(lines, entryLine(ev, n, opts))
			}
			if extra := len(c.Events) - opts.MaxEntries; extra > 0 {
				lines[len(lines)-1] = moreStyle.Render(fmt.Sprintf("+%d more", extra+1))
			}
			cols[i] = cell.Render(strings.Join(lines, "\n"))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func dayLabel(c grid.Cell) string {
	label := fmt.Sprintf("%2d", c.Date.Day())
	switch {
	case c.IsToday:
		return todayStyle.Render(label)
	case !c.InMonth:
		return outsideStyle.Render(label)
	default:
		return dayStyle.Render(label)
	}
}

func entryLine(ev model.Event, n int, opts Options) string {
	text := model.FormatTime(ev.Start.Time, opts.Location) + " " + ev.Title
	if opts.Numbered {
		text = fmt.Sprintf("%d.", n) + text
	}
	text = ansi.Truncate(text, opts.CellWidth, "…")
	return lipgloss.NewStyle().Foreground(CategoryColor(ev.Category)).Render(text)
}

// Panel renders the detail view of one event.
func Panel(ev model.Event, loc *time.Location) string {
	var b strings.Builder
	title := lipgloss.NewStyle().Bold(true).Foreground(CategoryColor(ev.Category)).Render(ev.Title)
	fmt.Fprintf(&b, "%s  [%s]\n", title, stateTag(ev.State))

	when := model.FormatLong(ev.Start.Time, loc)
	if ev.End != nil && !ev.End.IsZero() {
		when += " - " + model.FormatTime(ev.End.Time, loc)
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("When:"), when)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Category:"), ev.Category.Normalize())
	if ev.Location != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Where:"), ev.Location)
	}
	if ev.Notes != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Notes:"), ev.Notes)
	}

	b.WriteString("\n" + labelStyle.Render("Reminders") + "\n")
	if len(ev.Reminders) == 0 {
		b.WriteString("  none\n")
	}
	for _, r := range ev.Reminders {
		fmt.Fprintf(&b, "  %d minutes before\n", r.MinutesBefore)
	}

	b.WriteString("\n" + labelStyle.Render("Timeline") + "\n")
	if len(ev.Timeline) == 0 {
		b.WriteString("  no activity yet\n")
	}
	for _, it := range ev.Timeline {
		line := fmt.Sprintf("  %s  %s", model.FormatStamp(it.Timestamp.Time, loc), it.Action)
		if it.Details != "" {
			line += " (" + it.Details + ")"
		}
		b.WriteString(line + "\n")
	}
	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func stateTag(s model.State) string {
	if s == "" {
		return "UNKNOWN"
	}
	return string(s)
}

// Suggestions renders the conflict banner with numbered slot chips. It
// returns "" when there is no active conflict.
func Suggestions(st intake.State) string {
	if !st.Conflict.Active() {
		return ""
	}
	head := fmt.Sprintf("Conflict for %q", st.Conflict.Title)
	if st.Conflict.Details != "" {
		head += " with " + st.Conflict.Details
	}
	chips := make([]string, len(st.Chips))
	for i, c := range st.Chips {
		chips[i] = chipStyle.Render(fmt.Sprintf("%d) %s", i+1, c))
	}
	warn := lipgloss.NewStyle().Foreground(levelColors[notify.LevelWarning]).Bold(true)
	if len(chips) == 0 {
		return warn.Render(head)
	}
	return lipgloss.JoinVertical(lipgloss.Left, warn.Render(head), lipgloss.JoinHorizontal(lipgloss.Top, chips...))
}

// Notice renders one notification line.
func Notice(n notify.Notice) string {
	s := lipgloss.NewStyle().Foreground(levelColors[n.Level]).Bold(true).Render(n.Title)
	if n.Description != "" {
		s += ": " + n.Description
	}
	return s
}
