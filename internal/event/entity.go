package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies what happened to a task.
type Type string

const (
	TypeTaskCreated   Type = "task.created"
	TypeTaskUpdated   Type = "task.updated"
	TypeTaskAssigned  Type = "task.assigned"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeTaskDeleted   Type = "task.deleted"
)

// Event is an append-only record of a task lifecycle change. Events are
// never updated after creation.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TaskID     string    `json:"taskId,omitempty"`
	Slot       string    `json:"slot,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New builds an event with a fresh ULID. The ULID embeds the creation
// time, so event IDs sort chronologically.
func New(t Type, taskID, slot, detail string) *Event {
	return &Event{
		ID:         ulid.Make().String(),
		Type:       t,
		TaskID:     taskID,
		Slot:       slot,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
}
