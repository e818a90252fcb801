package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"board-api/domain"
)

// Event types published for downstream consumers.
const (
	TaskPositionUpdated = "task-position-updated"
	TaskDeleted         = "task-deleted"
)

// Event is the queue message body.
type Event struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	UserID    string        `json:"userId"`
	TaskID    int           `json:"taskId"`
	Status    domain.Status `json:"status,omitempty"`
	Position  *int          `json:"position,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue publishes board events to an Azure storage queue.
type EventQueue struct {
	queue queueClient
	now   func() time.Time
}

// NewEventQueue creates an EventQueue for the named queue.
func NewEventQueue(connStr, name string) (*EventQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &azqueue.ClientOptions{ClientOptions: queueClientOptions()})
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q, now: time.Now}, nil
}

// PublishPositionUpdated announces a confirmed task move.
func (q *EventQueue) PublishPositionUpdated(ctx context.Context, userID string, task domain.Task) error {
	pos := task.Position
	return q.publish(ctx, Event{Type: TaskPositionUpdated, UserID: userID, TaskID: task.ID, Status: task.Status, Position: &pos})
}

// PublishDeleted announces a task removal.
func (q *EventQueue) PublishDeleted(ctx context.Context, userID string, taskID int) error {
	return q.publish(ctx, Event{Type: TaskDeleted, UserID: userID, TaskID: taskID})
}

func (q *EventQueue) publish(ctx context.Context, ev Event) error {
	ev.ID = uuid.NewString()
	ev.Timestamp = q.now().UnixMilli()
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}
