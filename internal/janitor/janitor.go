// Package janitor runs the scheduled retention sweep: trashed tasks and
// old events are purged once their retention window has passed.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opshub/bridge/internal/config"
	"github.com/opshub/bridge/internal/event"
	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/panicerr"
)

type Janitor struct {
	tasks  task.Repository
	events event.Repository

	schedule       cron.Schedule
	trashRetention time.Duration
	eventRetention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func New(env *config.JanitorEnv, tasks task.Repository, events event.Repository) (*Janitor, error) {
	schedule, err := cron.ParseStandard(env.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", env.Schedule, err)
	}
	return &Janitor{
		tasks:          tasks,
		events:         events,
		schedule:       schedule,
		trashRetention: env.TrashRetention,
		eventRetention: env.EventRetention,
	}, nil
}

func (j *Janitor) Start() error {
	if j.ctx != nil {
		return fmt.Errorf("janitor already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.ctx = ctx
	j.cancel = cancel

	go j.loop(ctx)

	slog.Info("janitor started", "next_run", j.schedule.Next(time.Now()))
	return nil
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
		j.ctx = nil
		j.cancel = nil
	}
}

func (j *Janitor) loop(ctx context.Context) {
	for {
		timer := time.NewTimer(time.Until(j.schedule.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := panicerr.SafeContext(j.RunOnce)(ctx); err != nil {
				slog.Error("janitor: sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) error {
	now := time.Now()

	trashed, err := j.tasks.ListTrash(ctx)
	if err != nil {
		return err
	}
	purgedTasks := 0
	for _, t := range trashed {
		if t.DeletedAt == nil || now.Sub(*t.DeletedAt) < j.trashRetention {
			continue
		}
		if err := j.tasks.PurgeTrash(ctx, t.ID); err != nil {
			slog.Error("janitor: failed to purge trashed task", "task_id", t.ID, "error", err)
			continue
		}
		purgedTasks++
	}

	purgedEvents, err := j.events.PurgeOlderThan(ctx, now.Add(-j.eventRetention))
	if err != nil {
		return err
	}

	slog.Info("janitor: sweep finished",
		"purged_tasks", purgedTasks,
		"purged_events", purgedEvents,
		"next_run", j.schedule.Next(now),
	)
	return nil
}
