package board

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

// DragStart picks up the task with the given id. It reports false, leaving the
// board idle, when the task is not on the board.
func (b *Board) DragStart(taskID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	lane, ok := b.laneOf(taskID)
	if !ok {
		b.logger.WithField("task", taskID).Debug("drag start for task not on board")
		return false
	}
	col := b.column(lane)
	task := col.Tasks[domain.IndexOf(col.Tasks, taskID)]
	b.active = &task
	b.origin = lane
	b.session = uuid.NewString()
	b.logger.WithFields(log.Fields{"task": taskID, "lane": lane, "session": b.session}).Debug("drag started")
	return true
}

// DragOver previews moving the active task into the lane under the pointer.
// It only touches the working model. Moves within a lane are left to Drop.
func (b *Board) DragOver(over *domain.DropTarget) {
	b.mu.Lock()
	if b.active == nil {
		b.mu.Unlock()
		return
	}
	moved := b.previewLocked(b.active.ID, over)
	b.mu.Unlock()
	if moved {
		b.changed()
	}
}

// previewLocked moves a task across lanes in the working model.
func (b *Board) previewLocked(taskID int, over *domain.DropTarget) bool {
	dest, ok := b.resolve(over)
	if !ok {
		return false
	}
	current, ok := b.laneOf(taskID)
	if !ok || current == dest {
		return false
	}

	src := b.column(current)
	dst := b.column(dest)
	idx := domain.IndexOf(src.Tasks, taskID)
	task := src.Tasks[idx]
	src.Tasks = append(src.Tasks[:idx:idx], src.Tasks[idx+1:]...)

	insertAt := len(dst.Tasks)
	if over.Kind == domain.TargetCard {
		overIdx := domain.IndexOf(dst.Tasks, over.TaskID)
		if overIdx == len(dst.Tasks)-1 {
			insertAt = overIdx + 1
		} else {
			insertAt = overIdx
		}
	}
	task.Status = dest
	tasks := make([]domain.Task, 0, len(dst.Tasks)+1)
	tasks = append(tasks, dst.Tasks[:insertAt]...)
	tasks = append(tasks, task)
	tasks = append(tasks, dst.Tasks[insertAt:]...)
	dst.Tasks = tasks
	return true
}

// Drop ends the gesture over the given target and commits the result to the
// task store. A nil or unknown target aborts without touching the model.
func (b *Board) Drop(over *domain.DropTarget) {
	b.mu.Lock()
	if b.active == nil {
		b.mu.Unlock()
		return
	}
	activeID := b.active.ID
	origin := b.origin
	session := b.session
	b.active = nil

	dest, ok := b.resolve(over)
	if !ok {
		b.mu.Unlock()
		b.logger.WithFields(log.Fields{"task": activeID, "session": session}).Debug("drop outside any lane")
		return
	}

	// The preview may not have run, or may have left the card in another lane.
	changed := false
	returned := false
	if lane, _ := b.laneOf(activeID); lane != dest {
		changed = b.previewLocked(activeID, over)
		returned = origin == dest
	}

	if origin != dest {
		b.commitAcrossLocked(over, activeID, dest, session)
	} else if b.dropWithinLocked(over, activeID, dest, session, returned) {
		changed = true
	}
	b.mu.Unlock()
	if changed {
		b.changed()
	}
}

func (b *Board) commitAcrossLocked(over *domain.DropTarget, activeID int, dest domain.Status, session string) {
	position := 0
	if over.Kind == domain.TargetCard {
		tasks := b.column(dest).Tasks
		if over.TaskID == activeID {
			position = domain.IndexOf(tasks, activeID)
		} else {
			var others []domain.Task
			for _, t := range tasks {
				if t.ID != activeID {
					others = append(others, t)
				}
			}
			position = domain.IndexOf(others, over.TaskID)
		}
	}

	upd := domain.MoveTo(position, dest)
	b.logger.WithFields(log.Fields{"task": activeID, "lane": dest, "position": position, "session": session}).Debug("committing cross-lane move")
	b.pending++
	b.inflight.Add(1)
	go b.commitMove(session, activeID, upd)
}

// dropWithinLocked reorders a lane and normalizes its positions. returned is
// set when the card was previewed elsewhere and has just been put back; its
// placement is then final and only normalization runs.
func (b *Board) dropWithinLocked(over *domain.DropTarget, activeID int, lane domain.Status, session string, returned bool) bool {
	col := b.column(lane)
	from := domain.IndexOf(col.Tasks, activeID)
	to := len(col.Tasks) - 1
	if over.Kind == domain.TargetCard {
		to = domain.IndexOf(col.Tasks, over.TaskID)
	}
	if from < 0 || to < 0 {
		return false
	}
	if from == to && !returned {
		return false
	}

	if !returned {
		col.Tasks = moveTask(col.Tasks, from, to)
	}
	var batch []positionChange
	for i := range col.Tasks {
		if col.Tasks[i].Position != i {
			col.Tasks[i].Position = i
			batch = append(batch, positionChange{taskID: col.Tasks[i].ID, upd: domain.MoveTo(i, lane)})
		}
	}
	if len(batch) == 0 {
		return true
	}

	var before []domain.Task
	for _, t := range b.source {
		if t.Status == lane {
			before = append(before, t)
		}
	}
	b.logger.WithFields(log.Fields{"task": activeID, "lane": lane, "updates": len(batch), "session": session}).Debug("normalizing lane positions")
	b.pending++
	b.inflight.Add(1)
	go b.commitNormalization(session, lane, batch, before)
	return true
}

// Cancel abandons the gesture and restores the committed model.
func (b *Board) Cancel() {
	b.mu.Lock()
	if b.active == nil {
		b.mu.Unlock()
		return
	}
	b.active = nil
	b.working = domain.CloneColumns(b.committed)
	b.mu.Unlock()
	b.changed()
}

// moveTask returns tasks with the element at from moved to index to.
func moveTask(tasks []domain.Task, from, to int) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	out = append(out, tasks[:from]...)
	out = append(out, tasks[from+1:]...)
	moved := tasks[from]
	out = append(out[:to], append([]domain.Task{moved}, out[to:]...)...)
	return out
}
