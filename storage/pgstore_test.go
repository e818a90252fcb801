package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"board-api/domain"
)

// newTestPgStore connects to TEST_DATABASE_URL and starts from an empty tasks table.
func newTestPgStore(t *testing.T) *PgStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	store := NewPgStore(pool)
	if err := store.EnsureTable(ctx); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM tasks WHERE user_id LIKE 'pgtest-%'`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return store
}

func insertTask(t *testing.T, s *PgStore, user, title string, status domain.Status, position int) int {
	t.Helper()
	var id int
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO tasks (user_id, title, status, position) VALUES ($1, $2, $3, $4) RETURNING id`,
		user, title, string(status), position).Scan(&id)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestPgStoreMoveAcrossLanes(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	user := "pgtest-move"
	a := insertTask(t, s, user, "a", domain.StatusTodo, 0)
	b := insertTask(t, s, user, "b", domain.StatusCompleted, 0)

	task, err := s.UpdateTaskPosition(ctx, user, a, domain.MoveTo(0, domain.StatusCompleted))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", task)
	}

	tasks, err := s.ListTasks(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	cols := domain.BuildColumns(tasks, domain.DefaultLanes)
	done := cols[2].Tasks
	if len(done) != 2 || done[0].ID != a || done[1].ID != b || done[1].Position != 1 {
		t.Fatalf("unexpected completed lane %+v", done)
	}
}

func TestPgStoreUnknownTask(t *testing.T) {
	s := newTestPgStore(t)
	if _, err := s.UpdateTaskPosition(context.Background(), "pgtest-none", 1<<30, domain.PositionUpdate{}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := s.DeleteTask(context.Background(), "pgtest-none", 1<<30); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestPgStoreCreateTaskAppendsWithTags(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	user := "pgtest-create"
	insertTask(t, s, user, "a", domain.StatusTodo, 0)
	insertTask(t, s, user, "b", domain.StatusTodo, 3)

	tags := []domain.Tag{{ID: 1, Name: "work", Color: "#00f"}}
	task, err := s.CreateTask(ctx, user, domain.NewTask{Title: "c", Status: domain.StatusTodo, Priority: domain.PriorityHigh, Tags: tags})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Position != 4 || task.UserID != user || task.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected task %+v", task)
	}

	listed, err := s.ListTasks(ctx, user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	last := listed[len(listed)-1]
	if last.ID != task.ID || len(last.Tags) != 1 || last.Tags[0] != tags[0] {
		t.Fatalf("tags not persisted: %+v", last)
	}
}

func TestPgStoreUpdateTaskStatus(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	user := "pgtest-status"
	a := insertTask(t, s, user, "a", domain.StatusTodo, 0)
	insertTask(t, s, user, "b", domain.StatusCompleted, 0)

	task, err := s.UpdateTaskStatus(ctx, user, a, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.Position != 1 || task.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", task)
	}
	same, err := s.UpdateTaskStatus(ctx, user, a, domain.StatusCompleted)
	if err != nil || same.Position != 1 {
		t.Fatalf("expected unchanged task, got %+v %v", same, err)
	}
}
