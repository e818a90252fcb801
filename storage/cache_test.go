package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"board-api/domain"
)

type stubBackend struct {
	listTasksFn  func(ctx context.Context, userID string) ([]domain.Task, error)
	updateFn     func(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error)
	deleteTaskFn func(ctx context.Context, userID string, taskID int) error
	createFn     func(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error)
	statusFn     func(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error)
}

func (s *stubBackend) CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	if s.createFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return s.createFn(ctx, userID, n)
}

func (s *stubBackend) UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error) {
	if s.statusFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTaskStatus call")
	}
	return s.statusFn(ctx, userID, taskID, status)
}

func (s *stubBackend) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, userID)
}

func (s *stubBackend) UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	if s.updateFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTaskPosition call")
	}
	return s.updateFn(ctx, userID, taskID, upd)
}

func (s *stubBackend) DeleteTask(ctx context.Context, userID string, taskID int) error {
	if s.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, userID, taskID)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	userID := "user-1"
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	expected := []domain.Task{{ID: 1, Title: "Write code", Status: domain.StatusTodo, CreatedAt: created}}

	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			if uid != userID {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if ttl := mr.TTL(tasksCacheKey(userID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.ListTasks(ctx, userID)
	if err != nil {
		t.Fatalf("list cached tasks: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != 1 || !cached[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached list to avoid backend, calls=%d", calls)
	}
}

func TestCacheEvictsOnPositionUpdate(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubBackend{
		listTasksFn: func(context.Context, string) ([]domain.Task, error) {
			return []domain.Task{{ID: 1}}, nil
		},
		updateFn: func(_ context.Context, _ string, id int, upd domain.PositionUpdate) (domain.Task, error) {
			return domain.Task{ID: id, Position: upd.Position}, nil
		},
	}, client, time.Minute)

	if _, err := cache.ListTasks(ctx, "u1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("expected tasks to be cached")
	}
	if _, err := cache.UpdateTaskPosition(ctx, "u1", 1, domain.PositionUpdate{Position: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("cache key should be evicted")
	}
}

func TestCacheEvictsOnFailedPositionUpdate(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	mr.Set(tasksCacheKey("u1"), `[]`)

	cache := NewCache(&stubBackend{
		updateFn: func(context.Context, string, int, domain.PositionUpdate) (domain.Task, error) {
			return domain.Task{}, errors.New("conflict")
		},
	}, client, time.Minute)

	if _, err := cache.UpdateTaskPosition(ctx, "u1", 1, domain.PositionUpdate{}); err == nil {
		t.Fatal("expected error")
	}
	if mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("cache key should be evicted")
	}
}

func TestCacheKeepsEntryWhenDeleteFails(t *testing.T) {
	mr, client := newRedis(t)
	mr.Set(tasksCacheKey("u1"), `[]`)

	cache := NewCache(&stubBackend{
		deleteTaskFn: func(context.Context, string, int) error { return ErrTaskNotFound },
	}, client, time.Minute)

	if err := cache.DeleteTask(context.Background(), "u1", 1); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if !mr.Exists(tasksCacheKey("u1")) {
		t.Fatalf("cache key should survive a failed delete")
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr, client := newRedis(t)
	mr.Set(tasksCacheKey("u1"), `not json`)

	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(context.Context, string) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: 7}}, nil
		},
	}, client, time.Minute)

	tasks, err := cache.ListTasks(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if calls != 1 || len(tasks) != 1 || tasks[0].ID != 7 {
		t.Fatalf("expected backend fallback, calls=%d tasks=%v", calls, tasks)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(context.Context, string) ([]domain.Task, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.ListTasks(context.Background(), "u1"); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every call to reach the backend, calls=%d", calls)
	}
}

func TestCacheCreateAndStatusEvict(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	key := tasksCacheKey("u1")

	cache := NewCache(&stubBackend{
		createFn: func(ctx context.Context, uid string, n domain.NewTask) (domain.Task, error) {
			return domain.Task{ID: 9, Title: n.Title, Status: n.Status}, nil
		},
		statusFn: func(ctx context.Context, uid string, id int, status domain.Status) (domain.Task, error) {
			return domain.Task{}, errors.New("upstream down")
		},
	}, client, time.Minute)

	if err := mr.Set(key, "[]"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.CreateTask(ctx, "u1", domain.NewTask{Title: "x", Status: domain.StatusTodo}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("expected list evicted after create")
	}

	if err := mr.Set(key, "[]"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.UpdateTaskStatus(ctx, "u1", 9, domain.StatusCompleted); err == nil {
		t.Fatal("expected backend error")
	}
	if mr.Exists(key) {
		t.Fatal("expected list evicted after a failed status change")
	}
}
