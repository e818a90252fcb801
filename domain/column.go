package domain

import "sort"

// Lane defines one board column: the status it collects and its label.
type Lane struct {
	ID    Status `json:"id"`
	Title string `json:"title"`
}

// DefaultLanes are the lanes rendered by the board. Archived tasks have no lane.
var DefaultLanes = []Lane{
	{ID: StatusTodo, Title: "To Do"},
	{ID: StatusInProgress, Title: "In Progress"},
	{ID: StatusCompleted, Title: "Completed"},
}

// Column is a lane together with its tasks ordered by position.
type Column struct {
	ID    Status `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// BuildColumns buckets tasks into lanes, in lane order, each lane sorted by
// position. Ties keep their input order. Tasks without a matching lane are
// left out; see Unplaced.
func BuildColumns(tasks []Task, lanes []Lane) []Column {
	cols := make([]Column, len(lanes))
	for i, l := range lanes {
		cols[i] = Column{ID: l.ID, Title: l.Title, Tasks: []Task{}}
		for _, t := range tasks {
			if t.Status == l.ID {
				cols[i].Tasks = append(cols[i].Tasks, t)
			}
		}
		sort.SliceStable(cols[i].Tasks, func(a, b int) bool {
			return cols[i].Tasks[a].Position < cols[i].Tasks[b].Position
		})
	}
	return cols
}

// Unplaced returns the tasks whose status matches none of the lanes.
func Unplaced(tasks []Task, lanes []Lane) []Task {
	known := make(map[Status]struct{}, len(lanes))
	for _, l := range lanes {
		known[l.ID] = struct{}{}
	}
	var out []Task
	for _, t := range tasks {
		if _, ok := known[t.Status]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// CloneColumns deep-copies cols so the copy can be mutated freely.
func CloneColumns(cols []Column) []Column {
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{ID: c.ID, Title: c.Title, Tasks: append([]Task{}, c.Tasks...)}
	}
	return out
}

// IndexOf returns the index of the task with the given id, or -1.
func IndexOf(tasks []Task, id int) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
