package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"board-api/domain"
)

type backend interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error)
	DeleteTask(ctx context.Context, userID string, taskID int) error
	CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error)
}

// Cache wraps a task store with Redis-backed caching of task lists.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	task, err := c.base.UpdateTaskPosition(ctx, userID, taskID, upd)
	// a failed move may still have renumbered part of the lane
	c.Evict(ctx, userID)
	return task, err
}

func (c *Cache) UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error) {
	task, err := c.base.UpdateTaskStatus(ctx, userID, taskID, status)
	c.Evict(ctx, userID)
	return task, err
}

func (c *Cache) CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	task, err := c.base.CreateTask(ctx, userID, n)
	if err != nil {
		return domain.Task{}, err
	}
	c.Evict(ctx, userID)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID string, taskID int) error {
	if err := c.base.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	c.Evict(ctx, userID)
	return nil
}

func (c *Cache) loadTasks(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

// Evict drops the cached task list of a user.
func (c *Cache) Evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(userID)).Result()
}

func tasksCacheKey(userID string) string {
	return "board:tasks:" + userID
}
