package domain

import (
	"errors"
	"fmt"
)

// TargetKind distinguishes hovering a lane container from hovering a card.
type TargetKind string

const (
	TargetLane TargetKind = "lane"
	TargetCard TargetKind = "card"
)

var errInvalidTarget = errors.New("invalid drop target")

// DropTarget is what the pointer is over during a drag: a lane or a card.
// A missing target is represented by a nil *DropTarget.
type DropTarget struct {
	Kind   TargetKind `json:"kind"`
	Lane   Status     `json:"laneId,omitempty"`
	TaskID int        `json:"taskId,omitempty"`
}

// LaneTarget targets a lane container.
func LaneTarget(lane Status) *DropTarget {
	return &DropTarget{Kind: TargetLane, Lane: lane}
}

// CardTarget targets an existing card.
func CardTarget(taskID int) *DropTarget {
	return &DropTarget{Kind: TargetCard, TaskID: taskID}
}

// Validate checks the target is well formed.
func (t DropTarget) Validate() error {
	switch t.Kind {
	case TargetLane:
		if t.Lane == "" {
			return fmt.Errorf("%w: lane target without lane id", errInvalidTarget)
		}
	case TargetCard:
		if t.Lane != "" {
			return fmt.Errorf("%w: card target with lane id", errInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: kind %q", errInvalidTarget, t.Kind)
	}
	return nil
}

func (t DropTarget) String() string {
	if t.Kind == TargetLane {
		return "lane:" + string(t.Lane)
	}
	return fmt.Sprintf("card:%d", t.TaskID)
}
