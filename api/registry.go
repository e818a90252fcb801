package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"board-api/board"
	"board-api/domain"
	"board-api/remote"
)

const publishTimeout = 10 * time.Second

// Registry keeps one board per user, built lazily from the task store.
type Registry struct {
	store  TaskStore
	events Publisher
	broker *updateBroker
	logger *log.Logger
	opts   []board.Option

	mu     sync.Mutex
	boards map[string]*board.Board
	tokens map[string]string
}

// NewRegistry creates a Registry. events may be nil. opts apply to every board.
func NewRegistry(store TaskStore, events Publisher, logger *log.Logger, opts ...board.Option) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		store:  store,
		events: events,
		broker: newUpdateBroker(),
		logger: logger,
		opts:   opts,
		boards: make(map[string]*board.Board),
		tokens: make(map[string]string),
	}
}

// Board returns the user's board, loading it on first use.
func (r *Registry) Board(ctx context.Context, userID string) (*board.Board, error) {
	r.mu.Lock()
	b, ok := r.boards[userID]
	r.mu.Unlock()
	if ok {
		return b, nil
	}

	tasks, err := r.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.boards[userID]; ok {
		return b, nil
	}
	b = r.newBoard(userID, tasks)
	r.boards[userID] = b
	return b, nil
}

// Refresh refetches the user's tasks and rebuilds the board from them.
func (r *Registry) Refresh(ctx context.Context, userID string) (*board.Board, error) {
	b, err := r.Board(ctx, userID)
	if err != nil {
		return nil, err
	}
	tasks, err := r.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	b.SetTasks(tasks)
	return b, nil
}

// Wait blocks until every board has settled its in-flight updates.
func (r *Registry) Wait() {
	r.mu.Lock()
	boards := make([]*board.Board, 0, len(r.boards))
	for _, b := range r.boards {
		boards = append(boards, b)
	}
	r.mu.Unlock()
	for _, b := range boards {
		b.Wait()
	}
}

func (r *Registry) newBoard(userID string, tasks []domain.Task) *board.Board {
	logger := r.logger.WithField("user", userID)
	opts := append([]board.Option{board.WithLogger(r.logger)}, r.opts...)
	opts = append(opts,
		board.OnChange(func() { r.broker.notify(userID) }),
		board.OnTaskUpdate(func(task domain.Task) {
			r.publish(logger, func(ctx context.Context) error {
				return r.events.PublishPositionUpdated(ctx, userID, task)
			})
		}),
		board.OnTaskDelete(func(id int) {
			r.publish(logger, func(ctx context.Context) error {
				return r.events.PublishDeleted(ctx, userID, id)
			})
		}),
	)
	return board.New(callerStore{r: r, userID: userID}, tasks, opts...)
}

// remember keeps the latest bearer token a user authenticated with, so that
// commits finishing after the request still reach the task store as that user.
func (r *Registry) remember(userID, token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	r.tokens[userID] = token
	r.mu.Unlock()
}

func (r *Registry) callerContext(ctx context.Context, userID string) context.Context {
	r.mu.Lock()
	token := r.tokens[userID]
	r.mu.Unlock()
	return remote.WithBearer(ctx, token)
}

// callerStore scopes the shared store to one user and forwards their token.
type callerStore struct {
	r      *Registry
	userID string
}

func (s callerStore) UpdateTaskPosition(ctx context.Context, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	return s.r.store.UpdateTaskPosition(s.r.callerContext(ctx, s.userID), s.userID, taskID, upd)
}

func (r *Registry) publish(logger *log.Entry, send func(ctx context.Context) error) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := send(ctx); err != nil {
		logger.WithField("error", err.Error()).Warn("failed to publish board event")
	}
}
