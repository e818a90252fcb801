package api

import (
	"context"

	"board-api/domain"
)

// TaskStore is the task backend shared by every user's board.
type TaskStore interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error)
	DeleteTask(ctx context.Context, userID string, taskID int) error
	CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error)
}

// Publisher announces confirmed board mutations to other services.
type Publisher interface {
	PublishPositionUpdated(ctx context.Context, userID string, task domain.Task) error
	PublishDeleted(ctx context.Context, userID string, taskID int) error
}

type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type boardResponse struct {
	Columns      []domain.Column `json:"columns"`
	State        string          `json:"state"`
	ActiveTaskID *int            `json:"activeTaskId,omitempty"`
}

type dragStartRequest struct {
	TaskID int `json:"taskId"`
}

type dragTargetRequest struct {
	Over *domain.DropTarget `json:"over"`
}
