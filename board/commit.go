package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

type positionChange struct {
	taskID int
	upd    domain.PositionUpdate
}

func (b *Board) requestContext() (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(context.Background(), b.timeout)
	}
	return context.WithCancel(context.Background())
}

func (b *Board) updatePosition(session string, ch positionChange) (domain.Task, error) {
	ctx, cancel := b.requestContext()
	defer cancel()
	task, err := b.store.UpdateTaskPosition(ctx, ch.taskID, ch.upd)
	if err != nil {
		b.logger.WithFields(log.Fields{
			"task":     ch.taskID,
			"position": ch.upd.Position,
			"session":  session,
			"error":    err.Error(),
		}).Error("failed to update task position")
	}
	return task, err
}

// commitMove persists a cross-lane move. On failure the working model is
// rebuilt from the last known-good list, undoing the preview.
func (b *Board) commitMove(session string, taskID int, upd domain.PositionUpdate) {
	defer b.settle()

	task, err := b.updatePosition(session, positionChange{taskID: taskID, upd: upd})
	if err != nil {
		b.revert(session, nil)
		return
	}
	b.confirm(task)
}

// commitNormalization persists a reordered lane. Requests go out one after
// another in ascending index order, each failure logged on its own. before
// holds the known-good entries of the lane as they stood at the drop.
func (b *Board) commitNormalization(session string, lane domain.Status, batch []positionChange, before []domain.Task) {
	defer b.settle()

	failed := 0
	for _, ch := range batch {
		task, err := b.updatePosition(session, ch)
		if err != nil {
			failed++
			continue
		}
		b.confirm(task)
	}

	if failed > 0 {
		b.logger.WithFields(log.Fields{"lane": lane, "failed": failed, "session": session}).Warn("lane normalization incomplete")
		if !b.keepReorderOnFailure {
			b.revert(session, before)
		}
	}
}

// confirm records the server copy of a task as known-good and reports it.
func (b *Board) confirm(task domain.Task) {
	b.mu.Lock()
	if i := domain.IndexOf(b.source, task.ID); i >= 0 {
		b.source[i] = task
		b.committed = domain.BuildColumns(b.source, b.lanes)
	}
	if col := b.column(task.Status); col != nil {
		if i := domain.IndexOf(col.Tasks, task.ID); i >= 0 {
			col.Tasks[i] = task
		}
	}
	b.mu.Unlock()

	if b.onUpdate != nil {
		b.onUpdate(task)
	}
	b.changed()
}

// revert discards every optimistic change. Entries in restore replace their
// known-good counterparts first, undoing confirmations of a partial batch.
func (b *Board) revert(session string, restore []domain.Task) {
	b.mu.Lock()
	for _, t := range restore {
		if i := domain.IndexOf(b.source, t.ID); i >= 0 {
			b.source[i] = t
		}
	}
	if len(restore) > 0 {
		b.committed = domain.BuildColumns(b.source, b.lanes)
	}
	b.working = domain.BuildColumns(b.source, b.lanes)
	b.mu.Unlock()
	b.logger.WithField("session", session).Info("board reverted to last known-good tasks")
	b.changed()
}

func (b *Board) settle() {
	b.mu.Lock()
	b.pending--
	b.mu.Unlock()
	b.inflight.Done()
}
