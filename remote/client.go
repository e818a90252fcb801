// Package remote talks to the task REST API that owns the task records.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"board-api/domain"
)

// ListLimit is the largest page the task API serves.
const ListLimit = 1000

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("task api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("task api: %d %s", e.Code, e.Detail)
}

// Client wraps http.Client with the task API endpoints.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client. A zero timeout leaves requests unbounded.
func New(baseURL, bearer string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{Timeout: timeout}}
}

type bearerKey struct{}

// WithBearer makes requests issued under ctx carry the caller's own token
// instead of the client's configured one.
func WithBearer(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey{}, token)
}

// BearerFrom returns the token set by WithBearer.
func BearerFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerKey{}).(string)
	return token, ok
}

type taskList struct {
	Tasks []domain.Task `json:"tasks"`
	Total int           `json:"total"`
}

// ListTasks fetches the user's tasks ordered by position.
func (c *Client) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	var out taskList
	if err := c.do(ctx, http.MethodGet, "/api/tasks?limit="+strconv.Itoa(ListLimit), userID, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// UpdateTaskPosition moves a task and returns the server's copy.
func (c *Client) UpdateTaskPosition(ctx context.Context, userID string, taskID int, upd domain.PositionUpdate) (domain.Task, error) {
	var out domain.Task
	path := "/api/tasks/" + strconv.Itoa(taskID) + "/position"
	if err := c.do(ctx, http.MethodPatch, path, userID, upd, &out); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

type createRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      domain.Status   `json:"status"`
	Priority    domain.Priority `json:"priority"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	TagIDs      []int           `json:"tag_ids"`
}

// CreateTask adds a task; the server appends it to the end of its lane.
func (c *Client) CreateTask(ctx context.Context, userID string, n domain.NewTask) (domain.Task, error) {
	body := createRequest{
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
		DueDate:     n.DueDate,
		TagIDs:      []int{},
	}
	for _, tag := range n.Tags {
		body.TagIDs = append(body.TagIDs, tag.ID)
	}
	var out domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", userID, body, &out); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

// UpdateTaskStatus changes a task's status.
func (c *Client) UpdateTaskStatus(ctx context.Context, userID string, taskID int, status domain.Status) (domain.Task, error) {
	var out domain.Task
	path := "/api/tasks/" + strconv.Itoa(taskID) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, userID, domain.StatusUpdate{Status: status}, &out); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, userID string, taskID int) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+strconv.Itoa(taskID), userID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, userID string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	bearer := c.Bearer
	if token, ok := BearerFrom(ctx); ok {
		bearer = token
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return se
	}
	var payload struct {
		Detail any `json:"detail"`
	}
	if sonic.Unmarshal(raw, &payload) == nil {
		if s, ok := payload.Detail.(string); ok {
			se.Detail = s
			return se
		}
	}
	se.Detail = string(bytes.TrimSpace(raw))
	return se
}
