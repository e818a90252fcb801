package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"board-api/domain"
)

// Azure Table entity type annotations.
const (
	EdmDateTime = "Edm.DateTime"
	EdmInt32    = "Edm.Int32"
)

// maxBatch is the Table service limit on actions per transaction.
const maxBatch = 100

type tableClient interface {
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tableSubmitTransactionOptions *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
}

// createAttempts bounds retries when a concurrent create takes the same id.
const createAttempts = 3

// TableStore keeps tasks in an Azure Table partitioned by user.
type TableStore struct {
	table tableClient
	now   func() time.Time
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, table string) (*TableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &aztables.ClientOptions{ClientOptions: tableClientOptions()})
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(table), now: time.Now}, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title           string     `json:"Title"`
	Description     string     `json:"Description,omitempty"`
	Status          string     `json:"Status"`
	Priority        string     `json:"Priority,omitempty"`
	Position        int        `json:"Position"`
	PositionType    string     `json:"Position@odata.type,omitempty"`
	DueDate         *time.Time `json:"DueDate,omitempty"`
	DueDateType     string     `json:"DueDate@odata.type,omitempty"`
	CompletedAt     *time.Time `json:"CompletedAt,omitempty"`
	CompletedAtType string     `json:"CompletedAt@odata.type,omitempty"`
	CreatedAt       time.Time  `json:"CreatedAt"`
	CreatedAtType   string     `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt       *time.Time `json:"UpdatedAt,omitempty"`
	UpdatedAtType   string     `json:"UpdatedAt@odata.type,omitempty"`
	// Tags holds the JSON encoded tag list.
	Tags string `json:"Tags,omitempty"`
}

type positionEntity struct {
	entityKeys
	Position     int    `json:"Position"`
	PositionType string `json:"Position@odata.type"`
}

func rowKey(id int) string {
	return fmt.Sprintf("%010d", id)
}

func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := strconv.Atoi(ent.RowKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("row key %q: %w", ent.RowKey, err)
	}
	var tags []domain.Tag
	if ent.Tags != "" {
		if err := sonic.UnmarshalString(ent.Tags, &tags); err != nil {
			return domain.Task{}, fmt.Errorf("tags of %q: %w", ent.RowKey, err)
		}
	}
	return domain.Task{
		ID:          id,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		Position:    ent.Position,
		DueDate:     ent.DueDate,
		CompletedAt: ent.CompletedAt,
		UserID:      ent.PartitionKey,
		CreatedAt:   ent.CreatedAt,
		UpdatedAt:   ent.UpdatedAt,
		Tags:        tags,
	}, nil
}

func encodeTaskEntity(userID string, t domain.Task) ([]byte, error) {
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: userID, RowKey: rowKey(t.ID)},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Position:      t.Position,
		PositionType:  EdmInt32,
		DueDate:       t.DueDate,
		CompletedAt:   t.CompletedAt,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: EdmDateTime,
		UpdatedAt:     t.UpdatedAt,
	}
	if t.DueDate != nil {
		ent.DueDateType = EdmDateTime
	}
	if t.CompletedAt != nil {
		ent.CompletedAtType = EdmDateTime
	}
	if t.UpdatedAt != nil {
		ent.UpdatedAtType = EdmDateTime
	}
	if len(t.Tags) > 0 {
		tags, err := sonic.MarshalString(t.Tags)
		if err != nil {
			return nil, err
		}
		ent.Tags = tags
	}
	return sonic.Marshal(ent)
}

func (s *TableStore) query(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// ListTasks retrieves the user's tasks ordered by position.
func (s *TableStore) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	tasks, err := s.query(ctx, partitionFilter(userID))
	if err != nil {
		return nil, err
	}
	sortForList(tasks)
	if len(tasks) > ListLimit {
		tasks = tasks[:ListLimit]
	}
	return tasks, nil
}

// CreateTask adds a task at the end of its lane. Ids are allocated per user
// as one past the highest id in the partition.
func (s *TableStore) CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	for attempt := 1; ; attempt++ {
		tasks, err := s.query(ctx, partitionFilter(userID))
		if err != nil {
			return domain.Task{}, err
		}
		id := 1
		var lane []domain.Task
		for _, t := range tasks {
			if t.ID >= id {
				id = t.ID + 1
			}
			if t.Status == n.Status {
				lane = append(lane, t)
			}
		}
		task := newTaskFrom(n, id, userID, lane, s.now())
		payload, err := encodeTaskEntity(userID, task)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.table.AddEntity(ctx, payload, nil)
		if err == nil {
			return task, nil
		}
		if !isConflict(err) || attempt == createAttempts {
			return domain.Task{}, fmt.Errorf("add task: %w", err)
		}
	}
}

func (s *TableStore) load(ctx context.Context, userID string, taskID int) (domain.Task, azcore.ETag, error) {
	ent, err := s.table.GetEntity(ctx, userID, rowKey(taskID), nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, "", ErrTaskNotFound
		}
		return domain.Task{}, "", err
	}
	task, err := decodeTaskEntity(ent.Value)
	return task, ent.ETag, err
}

// UpdateTaskPosition moves a task within or across lanes and renumbers the
// destination lane. Rows are written in partition transactions.
func (s *TableStore) UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	task, etag, err := s.load(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return s.reposition(ctx, userID, task, etag, upd)
}

// UpdateTaskStatus moves a task to the end of another lane. A task already
// in status is returned unchanged.
func (s *TableStore) UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error) {
	task, etag, err := s.load(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status == status {
		return task, nil
	}
	return s.reposition(ctx, userID, task, etag, domain.MoveTo(endOfLane, status))
}

func (s *TableStore) reposition(ctx context.Context, userID string, task domain.Task, etag azcore.ETag, upd domain.PositionUpdate) (domain.Task, error) {
	lane := task.Status
	if upd.Status != nil {
		lane = *upd.Status
	}
	filter := partitionFilter(userID) + " and Status eq '" + string(lane) + "'"
	others, err := s.query(ctx, filter)
	if err != nil {
		return domain.Task{}, err
	}

	plan := planReposition(task, others, upd, s.now())
	payload, err := encodeTaskEntity(userID, plan.task)
	if err != nil {
		return domain.Task{}, err
	}
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload, IfMatch: &etag}}
	for _, t := range plan.renumbered {
		payload, err := sonic.Marshal(positionEntity{
			entityKeys:   entityKeys{PartitionKey: userID, RowKey: rowKey(t.ID)},
			Position:     t.Position,
			PositionType: EdmInt32,
		})
		if err != nil {
			return domain.Task{}, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload})
	}

	for len(actions) > 0 {
		n := min(len(actions), maxBatch)
		if _, err := s.table.SubmitTransaction(ctx, actions[:n], nil); err != nil {
			return domain.Task{}, fmt.Errorf("submit position batch: %w", err)
		}
		actions = actions[n:]
	}
	return plan.task, nil
}

// DeleteTask removes a task entity.
func (s *TableStore) DeleteTask(ctx context.Context, userID string, taskID int) error {
	_, err := s.table.DeleteEntity(ctx, userID, rowKey(taskID), nil)
	if err != nil && isNotFound(err) {
		return ErrTaskNotFound
	}
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 409
}
