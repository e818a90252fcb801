package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"board-api/board"
	"board-api/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activeColumnStyle = columnStyle.BorderForeground(lipgloss.Color("62"))

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).MarginBottom(1)
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	heldStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	targetStyle = lipgloss.NewStyle().Underline(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	priorityStyles = map[domain.Priority]lipgloss.Style{
		domain.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		domain.PriorityUrgent: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

const minColumnWidth = 18

func (m Model) View() string {
	title := titleStyle.Render(" Board ")
	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading tasks...\n", title)
	}

	cols := m.board.Columns()
	active, holding := m.board.Active()

	width := minColumnWidth
	if len(cols) > 0 && m.width > 0 {
		width = max(minColumnWidth, m.width/len(cols)-4)
	}

	rendered := make([]string, 0, len(cols))
	for i, c := range cols {
		style := columnStyle
		if i == m.col {
			style = activeColumnStyle
		}
		rendered = append(rendered, style.Width(width).Render(m.renderColumn(i, c, active, holding)))
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, rendered...)

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("  Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.statusLine(active, holding))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help(holding)))
	return b.String()
}

func (m Model) renderColumn(idx int, c domain.Column, active domain.Task, holding bool) string {
	lines := []string{headerStyle.Render(fmt.Sprintf("%s (%d)", c.Title, len(c.Tasks)))}
	if len(c.Tasks) == 0 {
		lines = append(lines, mutedStyle.Render("no tasks"))
	}
	for row, t := range c.Tasks {
		line := fmt.Sprintf("#%d %s", t.ID, t.Title)
		if s, ok := priorityStyles[t.Priority]; ok && !(holding && t.ID == active.ID) {
			line = s.Render(line)
		}
		switch {
		case holding && t.ID == active.ID:
			line = heldStyle.Render("> " + line)
		case holding && idx == m.col && row == m.row:
			line = targetStyle.Render(line)
		case !holding && idx == m.col && row == m.row:
			line = cursorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) statusLine(active domain.Task, holding bool) string {
	state := m.board.State()
	if holding {
		return fmt.Sprintf("  %s #%d over %s", state, active.ID, m.over)
	}
	if state == board.Resolving {
		return mutedStyle.Render("  saving...")
	}
	return mutedStyle.Render("  " + state.String())
}

func (m Model) help(holding bool) string {
	if holding {
		return "arrows: move card | space: drop | esc: cancel"
	}
	return "arrows: select | space: pick up | r: refresh | q: quit"
}
