// Package board holds the in-memory kanban model and the drag session that
// previews moves locally and commits them to the task store.
package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

// TaskStore persists position changes. It returns the authoritative task.
type TaskStore interface {
	UpdateTaskPosition(ctx context.Context, taskID int, upd domain.PositionUpdate) (domain.Task, error)
}

// State of the drag session.
type State int

const (
	Idle State = iota
	Dragging
	// Resolving means no gesture is active but position updates are in flight.
	Resolving
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Resolving:
		return "resolving"
	default:
		return "idle"
	}
}

// Board is the column model of one user's tasks plus the drag session
// operating on it. It keeps the committed model, built only from the last
// known-good task list, apart from the working model that previews mutate.
type Board struct {
	store                TaskStore
	lanes                []domain.Lane
	logger               *log.Logger
	onUpdate             func(domain.Task)
	onDelete             func(int)
	onChange             func()
	timeout              time.Duration
	keepReorderOnFailure bool

	mu        sync.Mutex
	source    []domain.Task
	committed []domain.Column
	working   []domain.Column
	active    *domain.Task
	origin    domain.Status
	session   string
	pending   int
	inflight  sync.WaitGroup
}

// Option configures a Board.
type Option func(*Board)

// WithLanes replaces the default lanes. Lanes are fixed for the board's life.
func WithLanes(lanes []domain.Lane) Option {
	return func(b *Board) { b.lanes = append([]domain.Lane(nil), lanes...) }
}

// WithLogger sets the logger used for drag and commit diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(b *Board) { b.logger = l }
}

// OnTaskUpdate registers the callback fired once per server-confirmed mutation.
func OnTaskUpdate(fn func(domain.Task)) Option {
	return func(b *Board) { b.onUpdate = fn }
}

// OnTaskDelete registers the callback fired after DeleteTask.
func OnTaskDelete(fn func(int)) Option {
	return func(b *Board) { b.onDelete = fn }
}

// OnChange registers a callback fired whenever the working model changes.
func OnChange(fn func()) Option {
	return func(b *Board) { b.onChange = fn }
}

// WithRequestTimeout bounds each position update. Zero leaves timeouts to the store's client.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Board) { b.timeout = d }
}

// KeepReorderOnFailure keeps a same-lane reorder on screen when one of its
// normalization requests fails instead of reverting to the last known-good list.
func KeepReorderOnFailure() Option {
	return func(b *Board) { b.keepReorderOnFailure = true }
}

// New builds a board over tasks.
func New(store TaskStore, tasks []domain.Task, opts ...Option) *Board {
	b := &Board{
		store:  store,
		lanes:  domain.DefaultLanes,
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.rebuildLocked(tasks)
	return b
}

// SetTasks rebuilds the model from a fresh upstream list, discarding any
// preview state and the active gesture.
func (b *Board) SetTasks(tasks []domain.Task) {
	b.mu.Lock()
	b.rebuildLocked(tasks)
	b.active = nil
	b.mu.Unlock()
	b.changed()
}

func (b *Board) rebuildLocked(tasks []domain.Task) {
	b.source = append([]domain.Task(nil), tasks...)
	b.committed = domain.BuildColumns(b.source, b.lanes)
	b.working = domain.CloneColumns(b.committed)
	if n := len(domain.Unplaced(b.source, b.lanes)); n > 0 {
		b.logger.WithField("count", n).Debug("tasks without a lane left off the board")
	}
}

// Columns returns a copy of the working model.
func (b *Board) Columns() []domain.Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CloneColumns(b.working)
}

// Tasks returns the last known-good task list.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Task(nil), b.source...)
}

// Lanes returns the lane definitions of the board.
func (b *Board) Lanes() []domain.Lane {
	return append([]domain.Lane(nil), b.lanes...)
}

// State reports the drag session state.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Board) stateLocked() State {
	switch {
	case b.active != nil:
		return Dragging
	case b.pending > 0:
		return Resolving
	default:
		return Idle
	}
}

// Active returns the task being dragged.
func (b *Board) Active() (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return domain.Task{}, false
	}
	return *b.active, true
}

// DeleteTask drops a task removed elsewhere in the app and rebuilds the model.
func (b *Board) DeleteTask(id int) {
	b.mu.Lock()
	var kept []domain.Task
	for _, t := range b.source {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	b.rebuildLocked(kept)
	if b.active != nil && b.active.ID == id {
		b.active = nil
	}
	b.mu.Unlock()

	if b.onDelete != nil {
		b.onDelete(id)
	}
	b.changed()
}

// PutTask records a task created or changed elsewhere in the app, replacing
// any copy with the same id, and rebuilds the model.
func (b *Board) PutTask(task domain.Task) {
	b.mu.Lock()
	tasks := append([]domain.Task(nil), b.source...)
	if i := domain.IndexOf(tasks, task.ID); i >= 0 {
		tasks[i] = task
	} else {
		tasks = append(tasks, task)
	}
	b.rebuildLocked(tasks)
	if b.active != nil && b.active.ID == task.ID {
		b.active = nil
	}
	b.mu.Unlock()
	b.changed()
}

// Wait blocks until every issued position update has settled.
func (b *Board) Wait() {
	b.inflight.Wait()
}

func (b *Board) changed() {
	if b.onChange != nil {
		b.onChange()
	}
}

func (b *Board) column(lane domain.Status) *domain.Column {
	for i := range b.working {
		if b.working[i].ID == lane {
			return &b.working[i]
		}
	}
	return nil
}

func (b *Board) laneOf(taskID int) (domain.Status, bool) {
	for _, c := range b.working {
		if domain.IndexOf(c.Tasks, taskID) >= 0 {
			return c.ID, true
		}
	}
	return "", false
}

// resolve maps a drop target to the lane it designates.
func (b *Board) resolve(over *domain.DropTarget) (domain.Status, bool) {
	if over == nil {
		return "", false
	}
	switch over.Kind {
	case domain.TargetLane:
		if b.column(over.Lane) == nil {
			return "", false
		}
		return over.Lane, true
	case domain.TargetCard:
		return b.laneOf(over.TaskID)
	}
	return "", false
}
