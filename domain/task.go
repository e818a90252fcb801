package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status identifies the lane a task belongs to.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

// ErrUnknownStatus is returned when a status value is outside the enumeration.
var ErrUnknownStatus = errors.New("unknown task status")

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// ParseStatus converts raw into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// Priority is carried for display only.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ErrUnknownPriority is returned when a priority value is outside the enumeration.
var ErrUnknownPriority = errors.New("unknown task priority")

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Tag labels a task.
type Tag struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Task is a single board card as owned by the task store.
type Task struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Position    int        `json:"position"`
	Tags        []Tag      `json:"tags,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// PositionUpdate is the body of a position change request. A nil Status keeps
// the task in its current lane.
type PositionUpdate struct {
	Position int     `json:"position"`
	Status   *Status `json:"status,omitempty"`
}

// MoveTo builds a PositionUpdate targeting the given lane.
func MoveTo(position int, status Status) PositionUpdate {
	return PositionUpdate{Position: position, Status: &status}
}

// ErrEmptyTitle is returned when a new task has no title.
var ErrEmptyTitle = errors.New("task title is required")

const maxTitleLength = 255

// NewTask is the body of a create request.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        []Tag      `json:"tags,omitempty"`
}

// Normalize trims the title, fills in the default status (todo) and
// priority (medium) and rejects values outside the enumerations.
func (n *NewTask) Normalize() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(n.Title) > maxTitleLength {
		return fmt.Errorf("task title longer than %d characters", maxTitleLength)
	}
	if n.Status == "" {
		n.Status = StatusTodo
	} else if !n.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, n.Status)
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	} else if !n.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPriority, n.Priority)
	}
	return nil
}

// StatusUpdate is the body of a quick status change.
type StatusUpdate struct {
	Status Status `json:"status"`
}
