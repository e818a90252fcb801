package board

import (
	"context"

	"board-api/domain"
)

// UserTaskStore is a task store shared by many users.
type UserTaskStore interface {
	UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error)
}

type userStore struct {
	store  UserTaskStore
	userID string
}

// ForUser binds a shared store to one user's board.
func ForUser(store UserTaskStore, userID string) TaskStore {
	return userStore{store: store, userID: userID}
}

func (s userStore) UpdateTaskPosition(ctx context.Context, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	return s.store.UpdateTaskPosition(ctx, s.userID, taskID, upd)
}
