package domain

import "time"

// Reposition inserts task into lane at position and renumbers the lane to
// 0..n-1. lane holds the other tasks of the destination status in position
// order and must not contain task. Positions past the end append, negative
// positions insert at the front.
func Reposition(lane []Task, task Task, position int) []Task {
	if position < 0 {
		position = 0
	}
	if position > len(lane) {
		position = len(lane)
	}
	out := make([]Task, 0, len(lane)+1)
	out = append(out, lane[:position]...)
	out = append(out, task)
	out = append(out, lane[position:]...)
	for i := range out {
		out[i].Position = i
	}
	return out
}

// ApplyStatus moves t to status, stamping or clearing CompletedAt when the
// status actually changes. It reports whether anything changed.
func ApplyStatus(t *Task, status Status, now time.Time) bool {
	if t.Status == status {
		return false
	}
	t.Status = status
	if status == StatusCompleted {
		ts := now.UTC()
		t.CompletedAt = &ts
	} else {
		t.CompletedAt = nil
	}
	return true
}

// AppendPosition is the position a new task takes at the end of lane: one
// past the highest position in use, 0 for an empty lane.
func AppendPosition(lane []Task) int {
	next := 0
	for _, t := range lane {
		if t.Position >= next {
			next = t.Position + 1
		}
	}
	return next
}
