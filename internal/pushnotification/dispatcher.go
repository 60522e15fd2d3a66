package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opshub/bridge/internal/event"
	"github.com/opshub/bridge/internal/eventbus"
	"github.com/opshub/bridge/internal/task"
)

// Dispatcher watches the event bus and pushes a notification for the
// events an operator needs to act on: a task landing in review and a
// task getting blocked by a failed session.
type Dispatcher struct {
	eventBus *eventbus.Bus
	taskRepo task.Repository
	sender   *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, taskRepo task.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus: eventBus,
		taskRepo: taskRepo,
		sender:   sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case event.TypeTaskFailed:
				d.handleTaskFailed(ctx, ev)
			case event.TypeTaskCompleted:
				d.handleTaskCompleted(ctx, ev)
			}
		}
	}
}

func (d *Dispatcher) handleTaskFailed(ctx context.Context, ev *event.Event) {
	t, err := d.taskRepo.Get(ctx, ev.TaskID)
	if err != nil {
		slog.Error("push dispatcher: failed to get task", "task_id", ev.TaskID, "error", err)
		return
	}

	body := t.Title
	if ev.Detail != "" {
		body = fmt.Sprintf("%s: %s", t.Title, ev.Detail)
	}
	d.sender.SendToAll(ctx, &NotificationPayload{
		Title: "Task blocked",
		Body:  body,
		URL:   fmt.Sprintf("/tasks/%s", t.ID),
		Tag:   t.ID,
	})
}

func (d *Dispatcher) handleTaskCompleted(ctx context.Context, ev *event.Event) {
	// Completion straight to done needs nobody; only review waits on a human.
	if ev.Detail != string(task.LaneReview) {
		return
	}

	t, err := d.taskRepo.Get(ctx, ev.TaskID)
	if err != nil {
		slog.Error("push dispatcher: failed to get task", "task_id", ev.TaskID, "error", err)
		return
	}

	d.sender.SendToAll(ctx, &NotificationPayload{
		Title: "Ready for review",
		Body:  t.Title,
		URL:   fmt.Sprintf("/tasks/%s", t.ID),
		Tag:   t.ID,
	})
}
