package task

import "time"

// Lane is the board column a task sits in.
type Lane string

const (
	LaneProposed    Lane = "proposed"
	LaneQueued      Lane = "queued"
	LaneDevelopment Lane = "development"
	LaneReview      Lane = "review"
	LaneBlocked     Lane = "blocked"
	LaneDone        Lane = "done"
)

func (l Lane) Valid() bool {
	switch l {
	case LaneProposed, LaneQueued, LaneDevelopment, LaneReview, LaneBlocked, LaneDone:
		return true
	}
	return false
}

// manualTransitions are the lane changes an operator may request directly.
// Entering development happens only through assignment, and leaving it only
// through completion or failure.
var manualTransitions = map[Lane][]Lane{
	LaneProposed: {LaneQueued},
	LaneBlocked:  {LaneQueued},
	LaneReview:   {LaneDone},
}

func (l Lane) CanTransitionTo(to Lane) bool {
	for _, next := range manualTransitions[l] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders tasks for assignment. P0 is the most urgent.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// Rank returns the numeric urgency. Lower ranks are assigned first.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	}
	return 4
}

type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Lane     Lane     `json:"lane"`
	Priority Priority `json:"priority"`
	// Owner is empty for unowned tasks. Before assignment it may hold a
	// slot ID or a roster role as a pin; after assignment it is always
	// the slot ID working the task.
	Owner     string     `json:"owner,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}
