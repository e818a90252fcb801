package domain

import (
	"reflect"
	"testing"
)

func idsOf(tasks []Task) []int {
	ids := make([]int, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestBuildColumnsBucketsByStatus(t *testing.T) {
	tasks := []Task{
		{ID: 1, Status: StatusTodo, Position: 0},
		{ID: 2, Status: StatusTodo, Position: 1},
		{ID: 3, Status: StatusCompleted, Position: 0},
	}

	cols := BuildColumns(tasks, DefaultLanes)

	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}
	want := map[Status][]int{
		StatusTodo:       {1, 2},
		StatusInProgress: {},
		StatusCompleted:  {3},
	}
	for i, c := range cols {
		if c.ID != DefaultLanes[i].ID || c.Title != DefaultLanes[i].Title {
			t.Fatalf("column %d out of lane order: %+v", i, c)
		}
		if got := idsOf(c.Tasks); !reflect.DeepEqual(got, want[c.ID]) {
			t.Fatalf("lane %s: got %v want %v", c.ID, got, want[c.ID])
		}
	}
}

func TestBuildColumnsSortsByPositionStable(t *testing.T) {
	tasks := []Task{
		{ID: 1, Status: StatusTodo, Position: 2},
		{ID: 2, Status: StatusTodo, Position: 0},
		{ID: 3, Status: StatusTodo, Position: 2},
		{ID: 4, Status: StatusTodo, Position: 1},
	}
	cols := BuildColumns(tasks, DefaultLanes)
	if got := idsOf(cols[0].Tasks); !reflect.DeepEqual(got, []int{2, 4, 1, 3}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestBuildColumnsExcludesUnknownLanes(t *testing.T) {
	tasks := []Task{
		{ID: 1, Status: StatusTodo},
		{ID: 2, Status: StatusArchived},
		{ID: 3, Status: Status("blocked")},
	}
	cols := BuildColumns(tasks, DefaultLanes)
	if got := taskIDs(cols); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("expected only task 1 placed, got %v", got)
	}
	if got := idsOf(Unplaced(tasks, DefaultLanes)); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Fatalf("unexpected unplaced tasks %v", got)
	}
}

func TestBuildColumnsDoesNotAliasInput(t *testing.T) {
	tasks := []Task{{ID: 1, Status: StatusTodo, Title: "a"}}
	cols := BuildColumns(tasks, DefaultLanes)
	cols[0].Tasks[0].Title = "changed"
	if tasks[0].Title != "a" {
		t.Fatalf("input mutated through column model")
	}
}

func TestCloneColumnsIsDeep(t *testing.T) {
	cols := BuildColumns([]Task{{ID: 1, Status: StatusTodo}}, DefaultLanes)
	clone := CloneColumns(cols)
	clone[0].Tasks = append(clone[0].Tasks, Task{ID: 2})
	clone[0].Tasks[0].Position = 9
	if len(cols[0].Tasks) != 1 || cols[0].Tasks[0].Position != 0 {
		t.Fatalf("original modified: %+v", cols[0])
	}
}

func TestIndexOf(t *testing.T) {
	tasks := []Task{{ID: 5}, {ID: 7}}
	if IndexOf(tasks, 7) != 1 || IndexOf(tasks, 9) != -1 {
		t.Fatalf("unexpected IndexOf results")
	}
}

// taskIDs flattens a model into its task ids, lane by lane.
func taskIDs(cols []Column) []int {
	var ids []int
	for _, c := range cols {
		for _, t := range c.Tasks {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
