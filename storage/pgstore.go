package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"board-api/domain"
)

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, now: time.Now}
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id           SERIAL PRIMARY KEY,
			user_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'todo',
			priority     TEXT NOT NULL DEFAULT 'medium',
			position     INTEGER NOT NULL DEFAULT 0,
			due_date     TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ,
			tags         JSONB NOT NULL DEFAULT '[]'
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `ALTER TABLE tasks ADD COLUMN IF NOT EXISTS tags JSONB NOT NULL DEFAULT '[]'`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_user_status_position ON tasks(user_id, status, position)`)
	return err
}

const taskColumns = `id, user_id, title, description, status, priority, position, due_date, completed_at, created_at, updated_at, tags`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	var status, priority string
	var tags []byte
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &status, &priority,
		&t.Position, &t.DueDate, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt, &tags)
	if err != nil {
		return t, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if len(tags) > 0 {
		if err := sonic.Unmarshal(tags, &t.Tags); err != nil {
			return t, fmt.Errorf("tags of task %d: %w", t.ID, err)
		}
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	return t, nil
}

func encodeTags(tags []domain.Tag) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	return sonic.MarshalString(tags)
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasks returns the user's tasks ordered by position, newest first on ties.
func (s *PgStore) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE user_id = $1
		ORDER BY position, created_at DESC LIMIT $2`, userID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// CreateTask inserts a task at the end of its lane.
func (s *PgStore) CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	tags, err := encodeTags(n.Tags)
	if err != nil {
		return domain.Task{}, err
	}
	var completedAt *time.Time
	now := s.now().UTC()
	if n.Status == domain.StatusCompleted {
		completedAt = &now
	}
	task, err := scanTask(s.pool.QueryRow(ctx, `
		INSERT INTO tasks (user_id, title, description, status, priority, position, due_date, completed_at, created_at, tags)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM tasks WHERE user_id = $1 AND status = $4),
			$6, $7, $8, $9::jsonb)
		RETURNING `+taskColumns,
		userID, n.Title, n.Description, string(n.Status), string(n.Priority), n.DueDate, completedAt, now, tags))
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// UpdateTaskPosition moves a task and renumbers its destination lane in one
// transaction.
func (s *PgStore) UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	return s.inTx(ctx, userID, taskID, func(task domain.Task) (domain.PositionUpdate, bool) {
		return upd, true
	})
}

// UpdateTaskStatus moves a task to the end of another lane. A task already
// in status is returned unchanged.
func (s *PgStore) UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error) {
	return s.inTx(ctx, userID, taskID, func(task domain.Task) (domain.PositionUpdate, bool) {
		return domain.MoveTo(endOfLane, status), task.Status != status
	})
}

// inTx locks the task, asks move for the update to apply and, when move
// reports one, repositions the task within its destination lane.
func (s *PgStore) inTx(ctx context.Context, userID string, taskID int, move func(domain.Task) (domain.PositionUpdate, bool)) (domain.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := scanTask(tx.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE id = $1 AND user_id = $2 FOR UPDATE`, taskID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %d: %w", taskID, err)
	}
	upd, ok := move(task)
	if !ok {
		return task, nil
	}

	lane := task.Status
	if upd.Status != nil {
		lane = *upd.Status
	}
	rows, err := tx.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE user_id = $1 AND status = $2 AND id <> $3
		ORDER BY position FOR UPDATE`, userID, string(lane), taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load lane %s: %w", lane, err)
	}
	others, err := collectTasks(rows)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load lane %s: %w", lane, err)
	}

	plan := planReposition(task, others, upd, s.now())
	batch := &pgx.Batch{}
	for _, t := range plan.renumbered {
		batch.Queue(`UPDATE tasks SET position = $1 WHERE id = $2`, t.Position, t.ID)
	}
	batch.Queue(`UPDATE tasks SET status = $1, position = $2, completed_at = $3, updated_at = $4 WHERE id = $5`,
		string(plan.task.Status), plan.task.Position, plan.task.CompletedAt, plan.task.UpdatedAt, plan.task.ID)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Task{}, fmt.Errorf("write positions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("commit position: %w", err)
	}
	return plan.task, nil
}

// DeleteTask removes a task.
func (s *PgStore) DeleteTask(ctx context.Context, userID string, taskID int) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}
