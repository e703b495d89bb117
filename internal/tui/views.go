package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/cli"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/charmbracelet/lipgloss"
)

const (
	riskColWidth = 10
	ageColWidth  = 4
	fromColWidth = 22
)

var (
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cli.PrimaryColor)

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cli.PrimaryColor)

	headerRowStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cli.InfoColor)
)

// renderLoading renders the startup screen shown before the first page lands.
func (m Model) renderLoading() string {
	content := lipgloss.JoinVertical(
		lipgloss.Center,
		cli.FormatTitle("Under the Hammer"),
		"",
		cli.SubtleStyle.Render("Loading threads..."),
	)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		content,
	)
}

// renderBrowse renders the thread table with header and status bar.
func (m Model) renderBrowse() string {
	rows := []string{
		cli.FormatTitle("Under the Hammer"),
		m.renderCounts(),
		"",
		m.renderTabs(),
		"",
	}

	if m.lastError != nil {
		rows = append(rows, cli.FormatError(m.lastError.Error()), "")
	}

	rows = append(rows, m.renderTable()...)
	rows = append(rows, "", m.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderCounts renders the headline statistics.
func (m Model) renderCounts() string {
	atRisk := fmt.Sprintf("At risk %d", m.counts.AtRisk)
	if m.counts.AtRisk > 0 {
		atRisk = cli.WarningStyle.Render(atRisk)
	} else {
		atRisk = cli.SubtleStyle.Render(atRisk)
	}

	head := fmt.Sprintf("Focus %d · Waiting %d · ", m.counts.Focus, m.counts.Waiting)
	return cli.SubtleStyle.Render(head) + atRisk
}

// renderTabs renders the list selector.
func (m Model) renderTabs() string {
	focus := " Focus "
	waiting := " Waiting "

	if m.tab == TabFocus {
		focus = activeTabStyle.Render(focus)
		waiting = cli.SubtleStyle.Render(waiting)
	} else {
		focus = cli.SubtleStyle.Render(focus)
		waiting = activeTabStyle.Render(waiting)
	}

	return focus + cli.SubtleStyle.Render("│") + waiting
}

// renderTable renders the column header and one line per thread.
func (m Model) renderTable() []string {
	if len(m.threads) == 0 && !m.loading {
		return []string{cli.SubtleStyle.Render("  " + m.emptyMessage())}
	}

	wide := m.width >= 80
	subjectWidth := m.width - 2 - riskColWidth - ageColWidth - 4
	if wide {
		subjectWidth -= fromColWidth + 2
	}
	if subjectWidth < 10 {
		subjectWidth = 10
	}

	header := "  " + padRight("RISK", riskColWidth) + "  " + padRight("SUBJECT", subjectWidth)
	if wide {
		header += "  " + padRight("FROM", fromColWidth)
	}
	header += "  " + fmt.Sprintf("%*s", ageColWidth, "LAST")

	lines := []string{headerRowStyle.Render(header)}
	for i, t := range m.threads {
		lines = append(lines, m.renderRow(t, i == m.cursor, wide, subjectWidth))
	}
	return lines
}

// renderRow renders a single thread line.
func (m Model) renderRow(t model.Thread, selected bool, wide bool, subjectWidth int) string {
	prefix := "  "
	if selected {
		prefix = cursorStyle.Render("› ")
	}

	subject := truncate(t.Subject, subjectWidth)
	if selected {
		subject = cli.BoldStyle.Render(padRight(subject, subjectWidth))
	} else {
		subject = padRight(subject, subjectWidth)
	}

	line := prefix + padRight(cli.FormatRisk(t.Risk), riskColWidth) + "  " + subject
	if wide {
		from := ""
		if len(t.Participants) > 0 {
			from = t.Participants[0]
		}
		line += "  " + cli.SubtleStyle.Render(padRight(truncate(from, fromColWidth), fromColWidth))
	}

	age := formatAge(time.Since(t.LastMessageAt))
	return line + "  " + cli.SubtleStyle.Render(fmt.Sprintf("%*s", ageColWidth, age))
}

// emptyMessage is shown when the active list has no threads.
func (m Model) emptyMessage() string {
	if m.tab == TabFocus {
		return "Inbox zero. Nothing needs a reply."
	}
	if m.riskOnly {
		return "No at-risk threads."
	}
	return "Not waiting on anyone."
}

// renderStatusBar renders the bottom hint line.
func (m Model) renderStatusBar() string {
	left := "Focus"
	if m.tab == TabWaiting {
		left = "Waiting"
		if m.riskOnly {
			left += " · at-risk only"
		}
		if m.hasMore {
			left += " · PgDn for more"
		}
	} else if m.total > len(m.threads) {
		left += fmt.Sprintf(" · %d more not shown", m.total-len(m.threads))
	}

	center := ""
	if len(m.threads) > 0 {
		center = fmt.Sprintf("%d of %d", m.cursor+1, len(m.threads))
	}

	right := "? help · q quit"

	spacing := m.width - lipgloss.Width(left) - lipgloss.Width(center) - lipgloss.Width(right)
	leftPad := spacing / 2
	rightPad := spacing - leftPad
	if leftPad < 1 {
		leftPad = 1
	}
	if rightPad < 1 {
		rightPad = 1
	}

	return cli.InfoStyle.Render(left) +
		strings.Repeat(" ", leftPad) +
		cli.SubtleStyle.Render(center) +
		strings.Repeat(" ", rightPad) +
		cli.SubtleStyle.Render(right)
}

// renderHelp renders the key binding reference.
func (m Model) renderHelp() string {
	content := []string{cli.FormatTitle("Keys"), ""}

	for _, group := range m.keymap.FullHelp() {
		for _, binding := range group {
			help := binding.Help()
			line := fmt.Sprintf("  %s %s",
				cursorStyle.Render(padRight(help.Key, 10)),
				help.Desc,
			)
			content = append(content, line)
		}
		content = append(content, "")
	}

	content = append(content, cli.SubtleStyle.Render("Press ? or Esc to close help"))

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Left, content...),
	)
}

// formatAge renders how long ago a thread last moved, coarsest unit only.
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw", int(d.Hours()/(24*7)))
	}
}

// truncate trims s to width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}

// padRight pads s with spaces to the given display width. Styled strings are
// measured by their visible width, not byte length.
func padRight(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
