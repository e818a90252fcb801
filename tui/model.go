// Package tui is a terminal front end for a board. The keyboard stands in for
// the pointer: space picks a card up and puts it down, arrows move it.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"board-api/board"
	"board-api/domain"
)

const loadTimeout = 15 * time.Second

// Loader fetches the current task list from the task store.
type Loader func(ctx context.Context) ([]domain.Task, error)

// Notifier forwards board changes to the program without blocking the board.
type Notifier struct {
	c chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{c: make(chan struct{}, 1)}
}

// Notify is meant to be passed to board.OnChange.
func (n *Notifier) Notify() {
	select {
	case n.c <- struct{}{}:
	default:
	}
}

type boardChangedMsg struct{}

type tasksLoadedMsg struct {
	tasks []domain.Task
	err   error
}

// Model is the bubbletea model over one board.
type Model struct {
	board   *board.Board
	load    Loader
	changes *Notifier

	col, row int
	// over is the target under the held card.
	over *domain.DropTarget

	width   int
	loading bool
	err     error
}

// NewModel builds a model. load and changes may be nil.
func NewModel(b *board.Board, load Loader, changes *Notifier) Model {
	return Model{board: b, load: load, changes: changes}
}

func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	c := m.changes.c
	return func() tea.Msg {
		<-c
		return boardChangedMsg{}
	}
}

func (m Model) refresh() tea.Cmd {
	if m.load == nil {
		return nil
	}
	load := m.load
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		tasks, err := load(ctx)
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case boardChangedMsg:
		m.clamp()
		return m, m.waitForChange()

	case tasksLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.over = nil
		m.board.SetTasks(msg.tasks)
		m.clamp()
		return m, nil

	case tea.KeyMsg:
		if _, holding := m.board.Active(); holding {
			return m.updateHolding(msg)
		}
		return m.updateIdle(msg)
	}
	return m, nil
}

func (m Model) updateIdle(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "left", "h":
		m.col--
	case "right", "l":
		m.col++
	case "up", "k":
		m.row--
	case "down", "j":
		m.row++
	case "r":
		if m.load != nil {
			m.loading = true
		}
		return m, m.refresh()
	case " ", "space", "enter":
		if t, ok := m.selected(); ok && m.board.DragStart(t.ID) {
			m.over = domain.CardTarget(t.ID)
		}
	}
	m.clamp()
	return m, nil
}

func (m Model) updateHolding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	active, _ := m.board.Active()
	lanes := m.board.Lanes()

	switch msg.String() {
	case "ctrl+c":
		m.board.Cancel()
		return m, tea.Quit
	case "esc", "q":
		m.board.Cancel()
		m.over = nil
	case "left", "h", "right", "l":
		step := 1
		if s := msg.String(); s == "left" || s == "h" {
			step = -1
		}
		next := m.col + step
		if next < 0 || next >= len(lanes) {
			return m, nil
		}
		m.col = next
		m.over = domain.LaneTarget(lanes[next].ID)
		m.board.DragOver(m.over)
		m.row = domain.IndexOf(m.board.Columns()[next].Tasks, active.ID)
	case "up", "k", "down", "j":
		step := 1
		if s := msg.String(); s == "up" || s == "k" {
			step = -1
		}
		tasks := m.board.Columns()[m.col].Tasks
		next := m.row + step
		if next < 0 || next >= len(tasks) {
			return m, nil
		}
		m.row = next
		m.over = domain.CardTarget(tasks[next].ID)
		m.board.DragOver(m.over)
	case " ", "space", "enter":
		m.board.Drop(m.over)
		m.over = nil
		m.row = m.rowOf(active.ID)
	}
	m.clamp()
	return m, nil
}

// selected returns the card under the cursor.
func (m Model) selected() (domain.Task, bool) {
	cols := m.board.Columns()
	if m.col < 0 || m.col >= len(cols) {
		return domain.Task{}, false
	}
	tasks := cols[m.col].Tasks
	if m.row < 0 || m.row >= len(tasks) {
		return domain.Task{}, false
	}
	return tasks[m.row], true
}

func (m Model) rowOf(id int) int {
	cols := m.board.Columns()
	if m.col >= len(cols) {
		return m.row
	}
	if i := domain.IndexOf(cols[m.col].Tasks, id); i >= 0 {
		return i
	}
	return m.row
}

func (m *Model) clamp() {
	cols := m.board.Columns()
	if len(cols) == 0 {
		m.col, m.row = 0, 0
		return
	}
	m.col = max(0, min(m.col, len(cols)-1))
	m.row = max(0, min(m.row, len(cols[m.col].Tasks)-1))
}
