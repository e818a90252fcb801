// Package storage holds the task store backends the board service can run
// against, plus the redis read cache and the event queue publisher.
package storage

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"board-api/domain"
)

// ErrTaskNotFound is returned when a task does not exist for the user.
var ErrTaskNotFound = errors.New("task not found")

// ListLimit caps the number of tasks returned for one user.
const ListLimit = 1000

// endOfLane is a position past any lane; Reposition clamps it to an append.
const endOfLane = math.MaxInt32

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

func tableClientOptions() azcore.ClientOptions {
	return azcore.ClientOptions{
		Retry: policy.RetryOptions{
			MaxRetries:    3,
			TryTimeout:    time.Minute * 3,
			RetryDelay:    time.Second * 1,
			MaxRetryDelay: time.Second * 15,
			StatusCodes:   retryStatusCodes,
		},
	}
}

func queueClientOptions() azcore.ClientOptions {
	return azcore.ClientOptions{
		Retry: policy.RetryOptions{
			MaxRetries:    5,
			TryTimeout:    time.Minute * 5,
			RetryDelay:    time.Second * 1,
			MaxRetryDelay: time.Second * 60,
			StatusCodes:   retryStatusCodes,
		},
	}
}

// sortForList orders tasks by position, newest first within a position.
func sortForList(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// repositionPlan is the outcome of moving one task inside its user's lanes.
type repositionPlan struct {
	task domain.Task
	// renumbered holds the other lane tasks whose position changed.
	renumbered []domain.Task
}

// planReposition moves task to upd.Position in the lane named by upd.Status,
// or its current lane when no status is given. lane holds the other tasks of
// the destination lane. A status change stamps or clears CompletedAt.
func planReposition(task domain.Task, lane []domain.Task, upd domain.PositionUpdate, now time.Time) repositionPlan {
	if upd.Status != nil {
		domain.ApplyStatus(&task, *upd.Status, now)
	}
	ts := now.UTC()
	task.UpdatedAt = &ts

	ordered := make([]domain.Task, 0, len(lane))
	for _, t := range lane {
		if t.ID != task.ID {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	before := make(map[int]int, len(ordered))
	for _, t := range ordered {
		before[t.ID] = t.Position
	}

	var plan repositionPlan
	for _, t := range domain.Reposition(ordered, task, upd.Position) {
		if t.ID == task.ID {
			plan.task = t
			continue
		}
		if before[t.ID] != t.Position {
			plan.renumbered = append(plan.renumbered, t)
		}
	}
	return plan
}

// newTaskFrom builds the record for a created task. It goes to the end of
// its lane; lane holds the tasks already in that status.
func newTaskFrom(n domain.NewTask, id int, userID string, lane []domain.Task, now time.Time) domain.Task {
	ts := now.UTC()
	t := domain.Task{
		ID:          id,
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
		DueDate:     n.DueDate,
		Tags:        n.Tags,
		UserID:      userID,
		Position:    domain.AppendPosition(lane),
		CreatedAt:   ts,
	}
	if t.Status == domain.StatusCompleted {
		t.CompletedAt = &ts
	}
	return t
}
